// Package scaleway imports uploaded qcow2 disks as Scaleway instance images.
package scaleway

import (
	"context"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/scaleway/scaleway-sdk-go/api/instance/v1"
	"github.com/scaleway/scaleway-sdk-go/scw"
)

// DefaultSnapshotTimeout bounds the wait for an imported snapshot to become
// available. Imports of large disks take a while.
const DefaultSnapshotTimeout = 2 * time.Hour

// InstanceAPI is the part of the instance API the importer calls.
type InstanceAPI interface {
	CreateSnapshot(req *instance.CreateSnapshotRequest, opts ...scw.RequestOption) (*instance.CreateSnapshotResponse, error)
	WaitForSnapshot(req *instance.WaitForSnapshotRequest, opts ...scw.RequestOption) (*instance.Snapshot, error)
	CreateImage(req *instance.CreateImageRequest, opts ...scw.RequestOption) (*instance.CreateImageResponse, error)
}

type Importer struct {
	Zone            scw.Zone
	API             InstanceAPI
	SnapshotTimeout time.Duration
}

// NewImporter builds an importer for zone from API credentials.
func NewImporter(zone, accessKey, secretKey, projectId string) (*Importer, error) {
	z, err := scw.ParseZone(zone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid zone '%s'", zone)
	}
	opts := []scw.ClientOption{scw.WithAuth(accessKey, secretKey), scw.WithDefaultZone(z)}
	if projectId != "" {
		opts = append(opts, scw.WithDefaultProjectID(projectId))
	}
	client, err := scw.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create scaleway client")
	}
	return &Importer{Zone: z, API: instance.NewAPI(client), SnapshotTimeout: DefaultSnapshotTimeout}, nil
}

// CreateSnapshotFromObject starts the import of s3://bucket/key as a snapshot.
func (i *Importer) CreateSnapshotFromObject(ctx context.Context, name, bucket, key string) (string, error) {
	resp, err := i.API.CreateSnapshot(&instance.CreateSnapshotRequest{
		Zone:       i.Zone,
		Name:       name,
		VolumeType: instance.SnapshotVolumeTypeUnified,
		Bucket:     scw.StringPtr(bucket),
		Key:        scw.StringPtr(key),
	}, scw.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "unable to import 's3://%s/%s'", bucket, key)
	}
	if resp.Snapshot == nil {
		return "", errors.New("snapshot import returned no snapshot")
	}
	pfxlog.Logger().Infof("snapshot %s importing from s3://%s/%s", resp.Snapshot.ID, bucket, key)
	return resp.Snapshot.ID, nil
}

// WaitForSnapshot blocks until the snapshot leaves its transient state.
func (i *Importer) WaitForSnapshot(ctx context.Context, id string) error {
	timeout := i.SnapshotTimeout
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}
	snap, err := i.API.WaitForSnapshot(&instance.WaitForSnapshotRequest{
		SnapshotID: id,
		Zone:       i.Zone,
		Timeout:    scw.TimeDurationPtr(timeout),
	}, scw.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "waiting for snapshot '%s'", id)
	}
	if snap.State != instance.SnapshotStateAvailable {
		return errors.Errorf("snapshot '%s' ended in state '%s'", id, snap.State)
	}
	return nil
}

// CreateImage registers an x86_64 image with snapshotId as root volume.
func (i *Importer) CreateImage(ctx context.Context, name, snapshotId string) (string, error) {
	resp, err := i.API.CreateImage(&instance.CreateImageRequest{
		Zone:       i.Zone,
		Name:       name,
		RootVolume: snapshotId,
		Arch:       instance.ArchX86_64,
	}, scw.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "unable to create image '%s'", name)
	}
	if resp.Image == nil {
		return "", errors.New("image creation returned no image")
	}
	pfxlog.Logger().Infof("image %s created from snapshot %s", resp.Image.ID, snapshotId)
	return resp.Image.ID, nil
}
