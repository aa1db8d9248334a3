package engine

import (
	"context"

	"github.com/vmware2scw/vmware2scw/kernel/guest/windows"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

// Hypervisor is the source platform.
type Hypervisor interface {
	Connect(ctx context.Context, endpoint, user, secret string, insecure bool) error
	Disconnect(ctx context.Context) error
	VMInfo(ctx context.Context, name string) (*model.VMInfo, error)
	CreateSnapshot(ctx context.Context, vmName, snapName string) error
	DeleteSnapshot(ctx context.Context, vmName, snapName string) error
	ExportDisks(ctx context.Context, vmName, dir string) ([]string, error)
}

// DiskConverter turns exported disks into qcow2 images.
type DiskConverter interface {
	Convert(ctx context.Context, src, dst string) error
	Check(ctx context.Context, path string) error
}

// GuestConverter rewrites a guest for KVM in place (virt-v2v) and returns the
// method used.
type GuestConverter interface {
	Convert(ctx context.Context, disk, virtioISO string) (string, error)
}

// GuestPreparer edits an offline guest disk.
type GuestPreparer interface {
	CleanTools(ctx context.Context, disk, family string) error
	InjectVirtioLinux(ctx context.Context, disk string) error
	RestoreFstab(ctx context.Context, disk string) error
	FixBootloader(ctx context.Context, disk string) error
	DetectBootType(ctx context.Context, disk string) (string, error)
	ConvertToUEFI(ctx context.Context, disk string) error
}

// DriverInjector installs virtio drivers into an offline Windows guest.
type DriverInjector interface {
	EnsureDrivers(ctx context.Context, disk, iso, workDir string) (*windows.Report, error)
}

// ObjectStore is the transit bucket between the host and the cloud import.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	ObjectSize(ctx context.Context, bucket, key string) (int64, bool, error)
	Upload(ctx context.Context, bucket, key, path string) error
	Delete(ctx context.Context, bucket, key string) error
}

// ImageImporter creates cloud images from uploaded disks.
type ImageImporter interface {
	CreateSnapshotFromObject(ctx context.Context, name, bucket, key string) (string, error)
	WaitForSnapshot(ctx context.Context, id string) error
	CreateImage(ctx context.Context, name, snapshotId string) (string, error)
}
