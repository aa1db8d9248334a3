// Package guest wraps the libguestfs family of tools used to inspect and
// modify guest disk images offline.
package guest

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
)

// Env is passed to every libguestfs invocation. The direct backend avoids a
// dependency on a running libvirtd.
var Env = map[string]string{"LIBGUESTFS_BACKEND": "direct"}

// Tools runs guestfish, virt-customize, virt-win-reg and the hivex tools
// against one disk image at a time.
type Tools struct {
	Runner  runner.Runner
	Timeout time.Duration
}

func NewTools(r runner.Runner, timeout time.Duration) *Tools {
	return &Tools{Runner: r, Timeout: timeout}
}

func (t *Tools) run(ctx context.Context, name string, args []string, stdin string) (*runner.Result, error) {
	return t.Runner.Run(ctx, runner.Command{
		Name:    name,
		Args:    args,
		Env:     Env,
		Stdin:   stdin,
		Timeout: t.Timeout,
	})
}

func (t *Tools) guestfish(ctx context.Context, disk string, readOnly bool, cmd ...string) (*runner.Result, error) {
	args := []string{}
	if readOnly {
		args = append(args, "--ro")
	}
	args = append(args, "-a", disk, "-i", "--")
	args = append(args, cmd...)
	return t.run(ctx, "guestfish", args, "")
}

// IsFile reports whether guestPath is a regular file inside the guest.
func (t *Tools) IsFile(ctx context.Context, disk, guestPath string) (bool, error) {
	res, err := t.guestfish(ctx, disk, true, "is-file", guestPath)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(res.Stdout), "true"), nil
}

// Upload copies a local file into the guest, replacing any existing file.
func (t *Tools) Upload(ctx context.Context, disk, local, guestPath string) error {
	_, err := t.guestfish(ctx, disk, false, "upload", local, guestPath)
	return errors.Wrapf(err, "upload %s", guestPath)
}

// Download copies a guest file to the local filesystem.
func (t *Tools) Download(ctx context.Context, disk, guestPath, local string) error {
	_, err := t.guestfish(ctx, disk, true, "download", guestPath, local)
	return errors.Wrapf(err, "download %s", guestPath)
}

// MkdirP creates a guest directory and its parents.
func (t *Tools) MkdirP(ctx context.Context, disk, guestDir string) error {
	_, err := t.guestfish(ctx, disk, false, "mkdir-p", guestDir)
	return errors.Wrapf(err, "mkdir-p %s", guestDir)
}

// Customize runs shell snippets inside the guest with virt-customize.
func (t *Tools) Customize(ctx context.Context, disk string, commands ...string) error {
	args := []string{"-a", disk}
	for _, c := range commands {
		args = append(args, "--run-command", c)
	}
	_, err := t.run(ctx, "virt-customize", args, "")
	return errors.Wrap(err, "virt-customize")
}

// Inspect runs a read-only guestfish script without mounting the guest OS,
// which works on images with no recognizable operating system.
func (t *Tools) Inspect(ctx context.Context, disk string, cmd ...string) (string, error) {
	args := append([]string{"--ro", "-a", disk, "--", "run", ":"}, cmd...)
	res, err := t.run(ctx, "guestfish", args, "")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// WinRegMerge merges a .reg file into the offline hives with virt-win-reg.
func (t *Tools) WinRegMerge(ctx context.Context, disk, regFile string) error {
	_, err := t.run(ctx, "virt-win-reg", []string{"--merge", disk, regFile}, "")
	return err
}

// WinRegQuery exports a registry key in .reg format.
func (t *Tools) WinRegQuery(ctx context.Context, disk, key string) (string, error) {
	res, err := t.run(ctx, "virt-win-reg", []string{disk, key}, "")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// HiveMerge merges a .reg file into a local hive file with hivexregedit.
func (t *Tools) HiveMerge(ctx context.Context, hive, prefix, regFile string) error {
	_, err := t.run(ctx, "hivexregedit", []string{"--merge", hive, "--prefix", prefix, regFile}, "")
	return err
}

// HiveShell feeds script to hivexsh against a local hive file.
func (t *Tools) HiveShell(ctx context.Context, hive, script string) (string, error) {
	res, err := t.run(ctx, "hivexsh", []string{hive}, script)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
