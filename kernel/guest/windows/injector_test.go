package windows

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func virtioISO(t *testing.T) string {
	iso := t.TempDir()
	require.NoError(t, writeTree(iso,
		"NetKVM/2k22/amd64/netkvm.sys",
		"NetKVM/2k22/amd64/netkvm.inf",
		"NetKVM/w10/amd64/netkvm.sys",
		"vioscsi/2k19/amd64/vioscsi.sys",
		"vioscsi/2k19/amd64/vioscsi.inf",
		"viostor/2k16/amd64/viostor.sys",
		"viostor/2k16/amd64/viostor.inf",
	))
	return iso
}

func TestEnsureDrivers(t *testing.T) {
	g := newFakeGuest(driverGuestPath("viostor"))
	h := newFakeHive()
	h.queryOut = "{1111-AAAA}\n"
	media := &fakeMedia{dir: virtioISO(t)}
	inj := &Injector{Guest: g, Hive: h, Media: media, Catalogue: Catalogue}

	report, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"viostor"}, report.Present)
	assert.Equal(t, []string{"netkvm", "vioscsi"}, report.Missing)
	assert.Equal(t, []string{"netkvm", "vioscsi"}, report.Uploaded)
	assert.Equal(t, []string{"netkvm", "vioscsi", "viostor"}, report.Registered)
	assert.Equal(t, []string{"netkvm", "vioscsi", "viostor"}, report.Staged)
	assert.Equal(t, MergeVirtWinReg, report.RegistryMethod)
	assert.Equal(t, []string{"{1111-AAAA}"}, report.Interfaces)
	assert.Equal(t, MergeVirtWinReg, report.DHCPMethod)

	assert.Equal(t, "NetKVM/2k22/amd64/netkvm.sys", g.files[driverGuestPath("netkvm")])
	assert.Equal(t, "original", g.files[driverGuestPath("viostor")], "present drivers are not replaced")
	assert.Contains(t, g.files, "/Drivers/vioscsi/vioscsi.inf")
	assert.True(t, g.dirs["/Drivers/netkvm"])

	script, ok := g.files[FirstbootScriptsDir+"/"+FirstbootScriptName]
	require.True(t, ok)
	assert.Contains(t, script, "pnputil /add-driver")
	assert.Contains(t, script, "\r\n")

	dhcp, ok := h.key(tcpipInterfacesKey + `\{1111-AAAA}`)
	require.True(t, ok)
	assert.Equal(t, DWord(1), dhcp["EnableDHCP"])
	assert.Equal(t, MultiString("0.0.0.0"), dhcp["IPAddress"])
}

func TestEnsureDriversIsIdempotent(t *testing.T) {
	g := newFakeGuest()
	h := newFakeHive()
	h.queryOut = "{1111-AAAA}\n{2222-BBBB}\n"
	inj := &Injector{Guest: g, Hive: h, Media: &fakeMedia{dir: virtioISO(t)}, Catalogue: Catalogue}
	work := t.TempDir()

	_, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", work)
	require.NoError(t, err)
	report, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", work)
	require.NoError(t, err)

	assert.Equal(t, []string{"netkvm", "vioscsi", "viostor"}, report.Present)
	assert.Empty(t, report.Uploaded)
	for _, def := range Catalogue {
		assert.Equal(t, 1, h.countKeys(servicesKey+`\`+def.Name), def.Name)
	}
	assert.Len(t, g.filesUnder(FirstbootScriptsDir), 1)
	assert.Len(t, g.filesUnder("/Drivers/netkvm"), 2)

	values, ok := h.key(servicesKey + `\vioscsi`)
	require.True(t, ok)
	assert.Equal(t, DWord(0x41), values["Tag"])
	assert.Len(t, values, 6)
}

func TestEnsureDriversStagesPackagesWhenRegistryMergeFails(t *testing.T) {
	g := newFakeGuest()
	h := newFakeHive()
	h.winRegErr = errors.New("virt-win-reg: hive is locked")
	h.hiveErr = func(string) error { return errors.New("hivexregedit: cannot open hive") }
	h.queryOut = "{1111-AAAA}\n"
	inj := &Injector{Guest: g, Hive: h, Media: &fakeMedia{dir: virtioISO(t)}, Catalogue: Catalogue}

	report, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, report.RegistryMethod)
	assert.Contains(t, report.RegistryError, "hivexregedit")
	assert.Equal(t, []string{"netkvm", "vioscsi", "viostor"}, report.Uploaded)
	assert.Equal(t, []string{"netkvm", "vioscsi", "viostor"}, report.Staged)
	assert.Empty(t, report.DHCPMethod)

	assert.Len(t, g.filesUnder(FirstbootScriptsDir), 1)
	for _, name := range []string{"netkvm", "vioscsi", "viostor"} {
		assert.NotEmpty(t, g.filesUnder("/Drivers/"+name), name)
	}
	_, ok := h.key(servicesKey + `\viostor`)
	assert.False(t, ok)
}

func TestEnsureDriversWithoutStorageDriverFails(t *testing.T) {
	iso := t.TempDir()
	require.NoError(t, writeTree(iso, "NetKVM/2k22/amd64/netkvm.sys"))
	g := newFakeGuest()
	inj := &Injector{Guest: g, Hive: newFakeHive(), Media: &fakeMedia{dir: iso}, Catalogue: Catalogue}

	_, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot boot")
}

func TestEnsureDriversMountFailure(t *testing.T) {
	inj := &Injector{Guest: newFakeGuest(), Hive: newFakeHive(), Media: &fakeMedia{err: errors.New("mount: permission denied")}, Catalogue: Catalogue}

	_, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", t.TempDir())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cannot mount virtio-win ISO"))
}

func TestEnsureDriversWithoutInterfaces(t *testing.T) {
	h := newFakeHive()
	inj := &Injector{Guest: newFakeGuest(), Hive: h, Media: &fakeMedia{dir: virtioISO(t)}, Catalogue: Catalogue}

	report, err := inj.EnsureDrivers(context.Background(), "disk.qcow2", "virtio-win.iso", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, report.Interfaces)
	assert.Empty(t, report.DHCPMethod)
}
