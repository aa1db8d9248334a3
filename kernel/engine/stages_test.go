package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware2scw/vmware2scw/kernel/guest"
	"github.com/vmware2scw/vmware2scw/kernel/guest/windows"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

type fakeHypervisor struct {
	info        *model.VMInfo
	connectErr  error
	connects    int
	disconnects int
	snapshots   []string
	deleted     []string
	exportDir   string
}

func (h *fakeHypervisor) Connect(context.Context, string, string, string, bool) error {
	h.connects++
	return h.connectErr
}

func (h *fakeHypervisor) Disconnect(context.Context) error {
	h.disconnects++
	return nil
}

func (h *fakeHypervisor) VMInfo(_ context.Context, name string) (*model.VMInfo, error) {
	if h.info == nil {
		return nil, errors.Errorf("virtual machine '%s' not found", name)
	}
	return h.info, nil
}

func (h *fakeHypervisor) CreateSnapshot(_ context.Context, _, snapName string) error {
	h.snapshots = append(h.snapshots, snapName)
	return nil
}

func (h *fakeHypervisor) DeleteSnapshot(_ context.Context, _, snapName string) error {
	h.deleted = append(h.deleted, snapName)
	return nil
}

func (h *fakeHypervisor) ExportDisks(_ context.Context, _, dir string) ([]string, error) {
	h.exportDir = dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "web01-disk1.vmdk")
	return []string{path}, os.WriteFile(path, []byte("vmdk"), 0644)
}

type fakeDisks struct {
	converted []string
	bad       map[string]bool
	fail      map[string]bool
}

func (d *fakeDisks) Convert(_ context.Context, src, dst string) error {
	if d.fail[src] {
		return errors.New("qemu-img: No space left on device")
	}
	d.converted = append(d.converted, src)
	return os.WriteFile(dst, []byte("qcow2"), 0644)
}

func (d *fakeDisks) Check(_ context.Context, path string) error {
	if d.bad[path] {
		return errors.New("corrupt")
	}
	return nil
}

type fakeV2V struct {
	err   error
	calls int
}

func (v *fakeV2V) Convert(context.Context, string, string) (string, error) {
	v.calls++
	if v.err != nil {
		return "", v.err
	}
	return "qemu-qcow2", nil
}

type fakeGuest struct {
	calls    []string
	bootType string
}

func (g *fakeGuest) CleanTools(_ context.Context, _, family string) error {
	g.calls = append(g.calls, "clean:"+family)
	return nil
}

func (g *fakeGuest) InjectVirtioLinux(context.Context, string) error {
	g.calls = append(g.calls, "initramfs")
	return nil
}

func (g *fakeGuest) RestoreFstab(context.Context, string) error {
	g.calls = append(g.calls, "fstab")
	return nil
}

func (g *fakeGuest) FixBootloader(context.Context, string) error {
	g.calls = append(g.calls, "bootloader")
	return nil
}

func (g *fakeGuest) DetectBootType(context.Context, string) (string, error) {
	return g.bootType, nil
}

func (g *fakeGuest) ConvertToUEFI(context.Context, string) error {
	g.calls = append(g.calls, "uefi")
	return nil
}

type fakeDrivers struct {
	calls int
}

func (d *fakeDrivers) EnsureDrivers(context.Context, string, string, string) (*windows.Report, error) {
	d.calls++
	return &windows.Report{Registered: []string{"netkvm", "vioscsi", "viostor"}, RegistryMethod: windows.MergeVirtWinReg}, nil
}

type fakeObjects struct {
	sizes    map[string]int64
	failKey  string
	uploaded []string
	deleted  []string
}

func (o *fakeObjects) EnsureBucket(context.Context, string) error { return nil }

func (o *fakeObjects) ObjectSize(_ context.Context, _, key string) (int64, bool, error) {
	size, ok := o.sizes[key]
	return size, ok, nil
}

func (o *fakeObjects) Upload(_ context.Context, _, key, _ string) error {
	if key == o.failKey {
		return errors.New("RequestError: send request failed")
	}
	o.uploaded = append(o.uploaded, key)
	return nil
}

func (o *fakeObjects) Delete(_ context.Context, _, key string) error {
	o.deleted = append(o.deleted, key)
	return nil
}

type fakeImporter struct {
	snapshots int
	images    int
	bucket    string
	key       string
}

func (i *fakeImporter) CreateSnapshotFromObject(_ context.Context, _, bucket, key string) (string, error) {
	i.snapshots++
	i.bucket, i.key = bucket, key
	return "snap-1", nil
}

func (i *fakeImporter) WaitForSnapshot(context.Context, string) error { return nil }

func (i *fakeImporter) CreateImage(context.Context, string, string) (string, error) {
	i.images++
	return "img-1", nil
}

type fixture struct {
	stages   *Stages
	hv       *fakeHypervisor
	disks    *fakeDisks
	v2v      *fakeV2V
	guest    *fakeGuest
	drivers  *fakeDrivers
	objects  *fakeObjects
	importer *fakeImporter
	state    *model.MigrationState
	plan     *model.MigrationPlan
}

func newFixture(t *testing.T) *fixture {
	cfg := &model.AppConfig{}
	cfg.Conversion.WorkDir = t.TempDir()
	cfg.Scaleway.S3Bucket = "transit"
	cfg.ApplyDefaults()

	f := &fixture{
		hv: &fakeHypervisor{info: &model.VMInfo{
			Name: "web01", GuestOS: "ubuntu64Guest", Firmware: "bios", CPU: 2, MemoryMB: 4096,
			Disks: []model.DiskInfo{{Label: "Hard disk 1", CapacityBytes: 20 << 30}},
		}},
		disks:    &fakeDisks{bad: map[string]bool{}, fail: map[string]bool{}},
		v2v:      &fakeV2V{},
		guest:    &fakeGuest{bootType: guest.BootBIOS},
		drivers:  &fakeDrivers{},
		objects:  &fakeObjects{sizes: map[string]int64{}},
		importer: &fakeImporter{},
		plan:     testPlan(),
	}
	f.stages = &Stages{
		Config:     cfg,
		Hypervisor: f.hv,
		Disks:      f.disks,
		V2V:        f.v2v,
		Guest:      f.guest,
		Drivers:    f.drivers,
		Objects:    f.objects,
		Importer:   func(string) (ImageImporter, error) { return f.importer, nil },
	}
	f.state = &model.MigrationState{MigrationId: "ab12cd34", VMName: "web01", CompletedStages: []model.Stage{}}
	return f
}

func (f *fixture) run(t *testing.T, stage model.Stage) error {
	h, ok := f.stages.Handlers()[stage]
	require.True(t, ok)
	return h.Execute(context.Background(), f.plan, f.state)
}

func TestHandlersCoverRegistry(t *testing.T) {
	exec, err := NewExecutor(newFixture(t).stages.Handlers())
	require.NoError(t, err)
	assert.Empty(t, exec.Missing())
}

func TestValidateStage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, model.StageValidate))
	assert.Equal(t, "ubuntu64Guest", f.state.Artifacts.VMInfo.GuestOS)
	assert.Equal(t, 1, f.hv.disconnects)

	f = newFixture(t)
	f.hv.info.GuestOS = "solaris11_64Guest"
	err := f.run(t, model.StageValidate)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "guest_os", verr.Failures[0].Name)
	assert.NotNil(t, f.state.Artifacts.VMInfo, "inventory is recorded even when blocked")
}

func TestSnapshotStageRecordsInventoryWhenValidationSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, model.StageSnapshot))
	assert.Equal(t, "vmware2scw-ab12cd34", f.state.Artifacts.SnapshotName)
	assert.Equal(t, []string{"vmware2scw-ab12cd34"}, f.hv.snapshots)
	assert.NotNil(t, f.state.Artifacts.VMInfo)
}

func TestExportAndConvert(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, model.StageExport))
	assert.Equal(t, filepath.Join(f.stages.Config.Conversion.WorkDir, "ab12cd34"), f.hv.exportDir)
	vmdk := f.state.Artifacts.VMDKPaths[0]

	// export is skipped while the disks are still on disk
	f.hv.exportDir = ""
	require.NoError(t, f.run(t, model.StageExport))
	assert.Empty(t, f.hv.exportDir)

	require.NoError(t, f.run(t, model.StageConvert))
	qcow2 := filepath.Join(filepath.Dir(vmdk), "web01-disk1.qcow2")
	assert.Equal(t, []string{qcow2}, f.state.Artifacts.QCOW2Paths)
	assert.NoFileExists(t, vmdk)
	assert.FileExists(t, qcow2)
}

func TestConvertSkipsValidTarget(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	vmdk := filepath.Join(dir, "d.vmdk")
	qcow2 := filepath.Join(dir, "d.qcow2")
	require.NoError(t, os.WriteFile(qcow2, []byte("qcow2"), 0644))
	f.state.Artifacts.VMDKPaths = []string{vmdk}

	require.NoError(t, f.run(t, model.StageConvert))
	assert.Empty(t, f.disks.converted)
	assert.Equal(t, []string{qcow2}, f.state.Artifacts.QCOW2Paths)
}

func TestConvertRedoesCorruptTarget(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	vmdk := filepath.Join(dir, "d.vmdk")
	qcow2 := filepath.Join(dir, "d.qcow2")
	require.NoError(t, os.WriteFile(vmdk, []byte("vmdk"), 0644))
	require.NoError(t, os.WriteFile(qcow2, []byte("half"), 0644))
	f.disks.bad[qcow2] = true
	f.state.Artifacts.VMDKPaths = []string{vmdk}

	require.NoError(t, f.run(t, model.StageConvert))
	assert.Equal(t, []string{vmdk}, f.disks.converted)
}

func TestConvertRecordsFinishedDisksOnFailure(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	var vmdks []string
	for _, name := range []string{"d1", "d2", "d3"} {
		vmdk := filepath.Join(dir, name+".vmdk")
		require.NoError(t, os.WriteFile(vmdk, []byte("vmdk"), 0644))
		vmdks = append(vmdks, vmdk)
	}
	f.state.Artifacts.VMDKPaths = vmdks
	f.disks.fail[vmdks[1]] = true

	require.Error(t, f.run(t, model.StageConvert))
	assert.Equal(t, []string{filepath.Join(dir, "d1.qcow2")}, f.state.Artifacts.QCOW2Paths)

	// the retry keeps the list free of duplicates
	delete(f.disks.fail, vmdks[1])
	require.NoError(t, f.run(t, model.StageConvert))
	assert.Equal(t, []string{
		filepath.Join(dir, "d1.qcow2"),
		filepath.Join(dir, "d2.qcow2"),
		filepath.Join(dir, "d3.qcow2"),
	}, f.state.Artifacts.QCOW2Paths)
}

func TestGuestStagesWithoutDiskAreNoOps(t *testing.T) {
	f := newFixture(t)
	for _, stage := range []model.Stage{model.StageConvert, model.StageCleanTools, model.StageInjectVirtio, model.StageFixBootloader, model.StageEnsureUEFI, model.StageUploadS3} {
		require.NoError(t, f.run(t, stage), stage)
	}
	assert.Empty(t, f.guest.calls)
	assert.Zero(t, f.v2v.calls)
	assert.Empty(t, f.objects.uploaded)
}

func withBootDisk(t *testing.T, f *fixture, guestOS string) string {
	disk := filepath.Join(t.TempDir(), "d.qcow2")
	require.NoError(t, os.WriteFile(disk, []byte("qcow2-data"), 0644))
	f.state.Artifacts.QCOW2Paths = []string{disk}
	f.state.Artifacts.VMInfo = &model.VMInfo{Name: "web01", GuestOS: guestOS}
	return disk
}

func TestLinuxGuestStages(t *testing.T) {
	f := newFixture(t)
	withBootDisk(t, f, "ubuntu64Guest")

	require.NoError(t, f.run(t, model.StageCleanTools))
	require.NoError(t, f.run(t, model.StageInjectVirtio))
	require.NoError(t, f.run(t, model.StageFixBootloader))
	require.NoError(t, f.run(t, model.StageEnsureUEFI))

	assert.Equal(t, []string{"clean:linux", "fstab", "bootloader", "uefi"}, f.guest.calls)
	assert.Equal(t, "virt-v2v:qemu-qcow2", f.state.Artifacts.VirtioMethod)
	assert.Equal(t, guest.BootUEFI, f.state.Artifacts.BootType)
	assert.Zero(t, f.drivers.calls)
}

func TestLinuxInjectFallsBackToInitramfs(t *testing.T) {
	f := newFixture(t)
	withBootDisk(t, f, "rhel8_64Guest")
	f.v2v.err = errors.New("all strategies failed")

	require.NoError(t, f.run(t, model.StageInjectVirtio))
	assert.Equal(t, []string{"initramfs"}, f.guest.calls)
	assert.Equal(t, "virt-customize", f.state.Artifacts.VirtioMethod)
}

func TestWindowsGuestStages(t *testing.T) {
	f := newFixture(t)
	withBootDisk(t, f, "windows2019srv_64Guest")
	f.v2v.err = errors.New("virt-v2v failed")

	require.NoError(t, f.run(t, model.StageCleanTools))
	require.NoError(t, f.run(t, model.StageInjectVirtio))
	require.NoError(t, f.run(t, model.StageFixBootloader))
	require.NoError(t, f.run(t, model.StageEnsureUEFI))

	assert.Equal(t, []string{"clean:windows"}, f.guest.calls)
	assert.Equal(t, 1, f.drivers.calls)
	assert.Equal(t, "drivers", f.state.Artifacts.VirtioMethod)
	assert.Equal(t, guest.BootBIOS, f.state.Artifacts.BootType)
}

func TestUploadSkipsObjectsOfSameSize(t *testing.T) {
	f := newFixture(t)
	disk := withBootDisk(t, f, "ubuntu64Guest")
	second := filepath.Join(filepath.Dir(disk), "d2.qcow2")
	require.NoError(t, os.WriteFile(second, []byte("other"), 0644))
	f.state.Artifacts.QCOW2Paths = append(f.state.Artifacts.QCOW2Paths, second)

	f.objects.sizes["migrations/ab12cd34/d.qcow2"] = int64(len("qcow2-data"))
	f.objects.sizes["migrations/ab12cd34/d2.qcow2"] = 1

	require.NoError(t, f.run(t, model.StageUploadS3))
	assert.Equal(t, []string{"migrations/ab12cd34/d2.qcow2"}, f.objects.uploaded)
	assert.Equal(t, "transit", f.state.Artifacts.S3Bucket)
	assert.Equal(t, []string{"migrations/ab12cd34/d.qcow2", "migrations/ab12cd34/d2.qcow2"}, f.state.Artifacts.S3Keys)
}

func TestUploadRecordsFinishedObjectsOnFailure(t *testing.T) {
	f := newFixture(t)
	disk := withBootDisk(t, f, "ubuntu64Guest")
	second := filepath.Join(filepath.Dir(disk), "d2.qcow2")
	require.NoError(t, os.WriteFile(second, []byte("other"), 0644))
	f.state.Artifacts.QCOW2Paths = append(f.state.Artifacts.QCOW2Paths, second)
	f.objects.failKey = "migrations/ab12cd34/d2.qcow2"

	require.Error(t, f.run(t, model.StageUploadS3))
	assert.Equal(t, "transit", f.state.Artifacts.S3Bucket)
	assert.Equal(t, []string{"migrations/ab12cd34/d.qcow2"}, f.state.Artifacts.S3Keys)

	f.objects.failKey = ""
	f.objects.sizes["migrations/ab12cd34/d.qcow2"] = int64(len("qcow2-data"))
	require.NoError(t, f.run(t, model.StageUploadS3))
	assert.Equal(t, []string{"migrations/ab12cd34/d.qcow2", "migrations/ab12cd34/d2.qcow2"}, f.state.Artifacts.S3Keys)
}

func TestImportRequiresUploadedObjects(t *testing.T) {
	f := newFixture(t)
	err := f.run(t, model.StageImportSCW)
	var missing *MissingArtifactError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, model.ArtifactS3Keys, missing.Artifact)
	assert.Zero(t, f.importer.snapshots)
}

func TestImportIsReentrant(t *testing.T) {
	f := newFixture(t)
	f.state.Artifacts.S3Bucket = "transit"
	f.state.Artifacts.S3Keys = []string{"migrations/ab12cd34/d.qcow2"}

	require.NoError(t, f.run(t, model.StageImportSCW))
	assert.Equal(t, "snap-1", f.state.Artifacts.ScalewaySnapshotId)
	assert.Equal(t, "img-1", f.state.Artifacts.ScalewayImageId)
	assert.Equal(t, "migrations/ab12cd34/d.qcow2", f.importer.key)

	require.NoError(t, f.run(t, model.StageImportSCW))
	assert.Equal(t, 1, f.importer.snapshots)
	assert.Equal(t, 1, f.importer.images)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	work := f.stages.Config.MigrationWorkDir(f.state.MigrationId)
	require.NoError(t, os.MkdirAll(work, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "d.qcow2"), []byte("x"), 0644))
	f.state.Artifacts.SnapshotName = "vmware2scw-ab12cd34"
	f.state.Artifacts.S3Bucket = "transit"
	f.state.Artifacts.S3Keys = []string{"migrations/ab12cd34/d.qcow2"}

	// without an image the transit objects are kept
	require.NoError(t, f.run(t, model.StageCleanup))
	assert.NoDirExists(t, work)
	assert.Equal(t, []string{"vmware2scw-ab12cd34"}, f.hv.deleted)
	assert.Empty(t, f.objects.deleted)

	f.state.Artifacts.ScalewayImageId = "img-1"
	require.NoError(t, f.run(t, model.StageCleanup))
	assert.Equal(t, []string{"migrations/ab12cd34/d.qcow2"}, f.objects.deleted)
}

func TestCleanupToleratesUnreachableVCenter(t *testing.T) {
	f := newFixture(t)
	f.state.Artifacts.SnapshotName = "vmware2scw-ab12cd34"
	f.hv.connectErr = errors.New("connection refused")

	require.NoError(t, f.run(t, model.StageCleanup))
	assert.Empty(t, f.hv.deleted)
}

func TestCleanupKeepsStateDirectory(t *testing.T) {
	f := newFixture(t)
	stateDir := f.stages.Config.StateDir()
	require.NoError(t, os.MkdirAll(stateDir, 0755))

	require.NoError(t, f.run(t, model.StageCleanup))
	assert.DirExists(t, stateDir)
}
