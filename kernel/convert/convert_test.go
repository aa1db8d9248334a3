package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
	"github.com/vmware2scw/vmware2scw/kernel/runner/runnertest"
)

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo([]byte(`{"virtual-size": 21474836480, "filename": "d.qcow2", "format": "qcow2", "actual-size": 1052672}`))
	require.NoError(t, err)
	assert.Equal(t, "qcow2", info.Format)
	assert.Equal(t, int64(21474836480), info.VirtualSize)
	assert.Equal(t, int64(1052672), info.ActualSize)

	_, err = ParseInfo([]byte("not json"))
	assert.Error(t, err)
	_, err = ParseInfo([]byte(`{"filename": "d"}`))
	assert.Error(t, err)
}

func TestConvertWritesThroughTemporaryFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "disk.vmdk")
	dst := filepath.Join(dir, "disk.qcow2")
	require.NoError(t, os.WriteFile(src, []byte("vmdk"), 0644))

	fake := &runnertest.Fake{Handle: func(cmd runner.Command) (*runner.Result, error) {
		out := cmd.Args[len(cmd.Args)-1]
		return nil, os.WriteFile(out, []byte("qcow2"), 0644)
	}}
	q := NewQemuImg(fake, 0, true)

	require.NoError(t, q.Convert(context.Background(), src, dst))
	assert.Equal(t, "qemu-img convert -p -O qcow2 -c "+src+" "+dst+".part", runnertest.Joined(fake.Calls()[0]))
	assert.FileExists(t, dst)
	assert.NoFileExists(t, dst+".part")
}

func TestCheck(t *testing.T) {
	fake := &runnertest.Fake{Handle: func(cmd runner.Command) (*runner.Result, error) {
		if cmd.Args[1] == "bad.qcow2" {
			return runnertest.Fail(cmd, "leaked clusters")
		}
		return nil, nil
	}}
	q := NewQemuImg(fake, 0, false)

	assert.NoError(t, q.Check(context.Background(), "good.qcow2"))
	assert.Error(t, q.Check(context.Background(), "bad.qcow2"))
	assert.Equal(t, "qemu-img check good.qcow2", runnertest.Joined(fake.Calls()[0]))
}

func TestConvertFailureLeavesNoTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "disk.vmdk")
	dst := filepath.Join(dir, "disk.qcow2")
	require.NoError(t, os.WriteFile(src, []byte("vmdk"), 0644))

	fake := &runnertest.Fake{Handle: func(cmd runner.Command) (*runner.Result, error) {
		_ = os.WriteFile(cmd.Args[len(cmd.Args)-1], []byte("half"), 0644)
		return runnertest.Fail(cmd, "No space left on device")
	}}
	q := NewQemuImg(fake, 0, false)

	require.Error(t, q.Convert(context.Background(), src, dst))
	assert.NoFileExists(t, dst)
	assert.NoFileExists(t, dst+".part")
}

func writeSized(t *testing.T, path string, size int) {
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}

func TestFindOutputDisk(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "v2v-disk.xml"), 3<<20)
	writeSized(t, filepath.Join(dir, "v2v-disk.sh"), 3<<20)
	writeSized(t, filepath.Join(dir, "small"), 1024)
	writeSized(t, filepath.Join(dir, "v2v-disk-sda"), 2<<20)

	out, err := FindOutputDisk(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "v2v-disk-sda"), out)

	_, err = FindOutputDisk(t.TempDir())
	assert.Error(t, err)
}

func TestV2VFallsBackAcrossSyntaxes(t *testing.T) {
	dir := t.TempDir()
	disk := filepath.Join(dir, "disk.qcow2")
	require.NoError(t, os.WriteFile(disk, []byte("before"), 0644))
	outDir := filepath.Join(dir, "v2v-out")

	attempts := 0
	fake := &runnertest.Fake{Handle: func(cmd runner.Command) (*runner.Result, error) {
		switch cmd.Name {
		case "virt-v2v":
			attempts++
			entries, _ := os.ReadDir(outDir)
			assert.Empty(t, entries, "output directory is reset before each attempt")
			assert.Equal(t, "/isos/virtio-win.iso", cmd.Env["VIRTIO_WIN"])
			if !strings.Contains(runnertest.Joined(cmd), "--block-driver virtio-scsi") {
				_ = os.WriteFile(filepath.Join(outDir, "leftover"), []byte("x"), 0644)
				return runnertest.Fail(cmd, "virt-v2v: error: unknown option -oc")
			}
			writeSized(t, filepath.Join(outDir, "v2v-disk-sda"), 2<<20)
			writeSized(t, filepath.Join(outDir, "v2v-disk.sh"), 10)
			return nil, nil
		case "qemu-img":
			return &runner.Result{Stdout: `{"format": "qcow2"}`}, nil
		}
		return nil, nil
	}}
	v := &V2V{Runner: fake, Img: NewQemuImg(fake, 0, false)}

	syntax, err := v.Convert(context.Background(), disk, "/isos/virtio-win.iso")
	require.NoError(t, err)
	assert.Equal(t, "qemu-virtio-scsi", syntax)
	assert.Equal(t, 2, attempts)

	fi, err := os.Stat(disk)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), fi.Size())
	assert.NoDirExists(t, outDir)

	first := runnertest.Joined(fake.CallsTo("virt-v2v")[0])
	assert.Equal(t, "virt-v2v -i disk "+disk+" -o qemu -os "+outDir+" -on v2v-disk -of qcow2 -oc qcow2", first)
}

func TestV2VConvertsRawOutput(t *testing.T) {
	dir := t.TempDir()
	disk := filepath.Join(dir, "disk.qcow2")
	outDir := filepath.Join(dir, "v2v-out")

	fake := &runnertest.Fake{Handle: func(cmd runner.Command) (*runner.Result, error) {
		if cmd.Name == "virt-v2v" {
			writeSized(t, filepath.Join(outDir, "v2v-disk-sda"), 2<<20)
			return nil, nil
		}
		switch cmd.Args[0] {
		case "info":
			return &runner.Result{Stdout: `{"format": "raw"}`}, nil
		case "convert":
			return nil, os.WriteFile(cmd.Args[len(cmd.Args)-1], []byte("qcow2"), 0644)
		}
		return nil, nil
	}}
	v := &V2V{Runner: fake, Img: NewQemuImg(fake, 0, false)}

	syntax, err := v.Convert(context.Background(), disk, "")
	require.NoError(t, err)
	assert.Equal(t, "qemu-qcow2", syntax)
	data, err := os.ReadFile(disk)
	require.NoError(t, err)
	assert.Equal(t, "qcow2", string(data))
}

func TestV2VAllSyntaxesFail(t *testing.T) {
	dir := t.TempDir()
	fake := &runnertest.Fake{Handle: func(cmd runner.Command) (*runner.Result, error) {
		return runnertest.Fail(cmd, "virt-v2v: error: inspection could not detect the source guest")
	}}
	v := &V2V{Runner: fake, Img: NewQemuImg(fake, 0, false)}

	_, err := v.Convert(context.Background(), filepath.Join(dir, "disk.qcow2"), "")
	require.Error(t, err)
	assert.Len(t, fake.CallsTo("virt-v2v"), 3)
	assert.NoDirExists(t, filepath.Join(dir, "v2v-out"))
}
