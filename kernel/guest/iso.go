package guest

import (
	"context"
	"os"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/hostlock"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
)

// Mounter attaches a filesystem image to a directory.
type Mounter interface {
	Mount(ctx context.Context, image, dir string) error
	Unmount(ctx context.Context, dir string) error
}

// LoopMounter mounts images read-only through the loop device.
type LoopMounter struct {
	Runner  runner.Runner
	Timeout time.Duration
}

func (m *LoopMounter) Mount(ctx context.Context, image, dir string) error {
	_, err := m.Runner.Run(ctx, runner.Command{
		Name:    "mount",
		Args:    []string{"-o", "loop,ro", image, dir},
		Timeout: m.Timeout,
	})
	return errors.Wrapf(err, "cannot mount %s", image)
}

func (m *LoopMounter) Unmount(ctx context.Context, dir string) error {
	_, err := m.Runner.Run(ctx, runner.Command{
		Name:    "umount",
		Args:    []string{dir},
		Timeout: m.Timeout,
	})
	return err
}

// DriverMedia mounts the virtio-win ISO at one host-wide directory. The
// directory is shared by every migration on the host, so a mount is held
// under the host lock until it is closed.
type DriverMedia struct {
	MountDir string
	Mounter  Mounter
	Lock     hostlock.Locker
}

// MountedMedia is a mounted driver image; Close unmounts it and releases the
// host lock.
type MountedMedia struct {
	Dir     string
	media   *DriverMedia
	release func()
}

func (d *DriverMedia) Open(ctx context.Context, iso string) (*MountedMedia, error) {
	if iso == "" {
		return nil, errors.New("virtio-win ISO path is not configured (conversion.virtio_win_iso)")
	}
	if _, err := os.Stat(iso); err != nil {
		return nil, errors.Wrapf(err, "virtio-win ISO '%s' is not readable", iso)
	}

	release, err := d.Lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.MountDir, 0755); err != nil {
		release()
		return nil, errors.Wrap(err, "failed to create mount directory")
	}

	// a crashed earlier run may have left the image mounted
	_ = d.Mounter.Unmount(ctx, d.MountDir)

	if err := d.Mounter.Mount(ctx, iso, d.MountDir); err != nil {
		release()
		return nil, err
	}
	pfxlog.Logger().Debugf("mounted %s at %s", iso, d.MountDir)
	return &MountedMedia{Dir: d.MountDir, media: d, release: release}, nil
}

func (m *MountedMedia) Close(ctx context.Context) {
	if m.release == nil {
		return
	}
	if err := m.media.Mounter.Unmount(context.WithoutCancel(ctx), m.Dir); err != nil {
		pfxlog.Logger().WithError(err).Warnf("failed to unmount %s", m.Dir)
	}
	m.release()
	m.release = nil
}
