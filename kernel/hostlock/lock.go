// Package hostlock serializes access to host-wide resources across
// processes.
package hostlock

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/pkg/errors"
)

// VirtioMountLockName guards the shared driver ISO mount point.
const VirtioMountLockName = "vmware2scw-virtio-mount"

// Locker grants exclusive access to a named host resource. The returned
// function releases it.
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// MutexLocker is a machine-wide named mutex shared by every process on the
// host.
type MutexLocker struct {
	Name  string
	Clock clock.Clock
	Delay time.Duration
}

func NewMutexLocker(name string) *MutexLocker {
	return &MutexLocker{
		Name:  name,
		Clock: clock.WallClock,
		Delay: 250 * time.Millisecond,
	}
}

func (l *MutexLocker) Acquire(ctx context.Context) (func(), error) {
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:   l.Name,
		Clock:  l.Clock,
		Delay:  l.Delay,
		Cancel: ctx.Done(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire host lock '%s'", l.Name)
	}
	return releaser.Release, nil
}
