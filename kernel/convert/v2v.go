package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/fallback"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
)

// minOutputSize excludes metadata files virt-v2v leaves in the output
// directory from disk detection.
const minOutputSize = 1 << 20

// V2V runs virt-v2v in place on a qcow2 boot disk. Versions of virt-v2v
// disagree on accepted options, so several command lines are attempted.
type V2V struct {
	Runner  runner.Runner
	Timeout time.Duration
	Img     *QemuImg
}

type v2vSyntax struct {
	name  string
	extra func(outDir, name string) []string
}

var v2vSyntaxes = []v2vSyntax{
	{name: "qemu-qcow2", extra: func(outDir, name string) []string {
		return []string{"-o", "qemu", "-os", outDir, "-on", name, "-of", "qcow2", "-oc", "qcow2"}
	}},
	{name: "qemu-virtio-scsi", extra: func(outDir, name string) []string {
		return []string{"-o", "qemu", "-os", outDir, "-on", name, "-of", "qcow2", "--block-driver", "virtio-scsi"}
	}},
	{name: "local", extra: func(outDir, name string) []string {
		return []string{"-o", "local", "-os", outDir, "-on", name, "-of", "qcow2"}
	}},
}

// Convert runs virt-v2v over disk and replaces disk with the result. The
// virtio-win ISO is handed to virt-v2v through VIRTIO_WIN when set. Returns
// the name of the command line that worked.
func (v *V2V) Convert(ctx context.Context, disk, virtioISO string) (string, error) {
	outDir := filepath.Join(filepath.Dir(disk), "v2v-out")
	stem := strings.TrimSuffix(filepath.Base(disk), filepath.Ext(disk))
	name := "v2v-" + stem

	env := map[string]string{"LIBGUESTFS_BACKEND": "direct"}
	if virtioISO != "" {
		env["VIRTIO_WIN"] = virtioISO
	}

	strategies := make([]fallback.Strategy, 0, len(v2vSyntaxes))
	for _, s := range v2vSyntaxes {
		args := append([]string{"-i", "disk", disk}, s.extra(outDir, name)...)
		strategies = append(strategies, fallback.Strategy{Name: s.name, Run: func(ctx context.Context) error {
			if err := resetDir(outDir); err != nil {
				return err
			}
			_, err := v.Runner.Run(ctx, runner.Command{Name: "virt-v2v", Args: args, Env: env, Timeout: v.Timeout})
			if err != nil {
				_ = os.RemoveAll(outDir)
			}
			return err
		}})
	}

	syntax, err := fallback.FirstSuccess(ctx, strategies...)
	if err != nil {
		return "", errors.Wrap(err, "virt-v2v failed")
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	output, err := FindOutputDisk(outDir)
	if err != nil {
		return "", err
	}

	info, err := v.Img.Info(ctx, output)
	if err != nil {
		return "", err
	}
	if info.Format != "qcow2" {
		converted := output + ".qcow2"
		if err := v.Img.Convert(ctx, output, converted); err != nil {
			return "", err
		}
		output = converted
	}

	if err := os.Rename(output, disk); err != nil {
		return "", errors.Wrapf(err, "failed to replace '%s' with virt-v2v output", disk)
	}
	pfxlog.Logger().WithField("disk", disk).Infof("virt-v2v [%s] completed", syntax)
	return syntax, nil
}

// FindOutputDisk picks the largest file in dir that looks like a disk image.
func FindOutputDisk(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "unable to read virt-v2v output")
	}
	var best string
	var bestSize int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".xml" || ext == ".sh" {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.Size() <= minOutputSize {
			continue
		}
		if fi.Size() > bestSize {
			best, bestSize = filepath.Join(dir, e.Name()), fi.Size()
		}
	}
	if best == "" {
		return "", errors.Errorf("no disk image found in '%s'", dir)
	}
	pfxlog.Logger().Debugf("virt-v2v output %s (%s)", best, humanize.IBytes(uint64(bestSize)))
	return best, nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
