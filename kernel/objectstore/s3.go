// Package objectstore moves converted disks through Scaleway Object Storage
// using its S3-compatible API.
package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/dustin/go-humanize"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

const (
	partSize    = 64 << 20
	concurrency = 4
)

// Scaleway rejects multipart uploads with more parts; the uploader grows the
// part size of larger files to fit.
const maxUploadParts = 1000

// Endpoint returns the Scaleway S3 endpoint for region.
func Endpoint(region string) string {
	return fmt.Sprintf("https://s3.%s.scw.cloud", region)
}

// ObjectKey is where a migration's file is stored in the transit bucket.
func ObjectKey(migrationId, path string) string {
	return fmt.Sprintf("migrations/%s/%s", migrationId, filepath.Base(path))
}

type Store struct {
	Region   string
	client   s3iface.S3API
	uploader *s3manager.Uploader
}

// New builds a store for region with static Scaleway API credentials.
func New(region, accessKey, secretKey string) (*Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(region),
		Endpoint:         aws.String(Endpoint(region)),
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create object storage session")
	}
	return NewWithClient(region, s3.New(sess)), nil
}

func NewWithClient(region string, client s3iface.S3API) *Store {
	return &Store{
		Region: region,
		client: client,
		uploader: s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = concurrency
			u.MaxUploadParts = maxUploadParts
		}),
	}
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// EnsureBucket creates bucket unless it already exists.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return errors.Wrapf(err, "unable to check bucket '%s'", bucket)
	}
	if _, err := s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return errors.Wrapf(err, "unable to create bucket '%s'", bucket)
	}
	pfxlog.Logger().Infof("created bucket '%s' in %s", bucket, s.Region)
	return nil
}

// ObjectSize returns the size of an object and whether it exists.
func (s *Store) ObjectSize(ctx context.Context, bucket, key string) (int64, bool, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "unable to stat 's3://%s/%s'", bucket, key)
	}
	return aws.Int64Value(out.ContentLength), true, nil
}

// Upload streams a local file with a multipart upload.
func (s *Store) Upload(ctx context.Context, bucket, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var size string
	if fi, err := f.Stat(); err == nil {
		size = humanize.IBytes(uint64(fi.Size()))
	}
	pfxlog.Logger().Infof("uploading %s (%s) to s3://%s/%s", filepath.Base(path), size, bucket, key)

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "upload of '%s' failed", path)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "unable to delete 's3://%s/%s'", bucket, key)
	}
	return nil
}
