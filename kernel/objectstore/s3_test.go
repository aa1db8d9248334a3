package objectstore

import (
	"context"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	buckets map[string]bool
	objects map[string]int64
	deleted []string
}

func notFound() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req")
}

func (f *fakeS3) HeadBucketWithContext(_ aws.Context, in *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	if !f.buckets[*in.Bucket] {
		return nil, notFound()
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucketWithContext(_ aws.Context, in *s3.CreateBucketInput, _ ...request.Option) (*s3.CreateBucketOutput, error) {
	f.buckets[*in.Bucket] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	size, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(size)}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, *in.Key)
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func newFake() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string]int64{}}
}

func TestEndpointAndKey(t *testing.T) {
	assert.Equal(t, "https://s3.fr-par.scw.cloud", Endpoint("fr-par"))
	assert.Equal(t, "migrations/ab12cd34/disk-0.qcow2", ObjectKey("ab12cd34", "/var/lib/vmware2scw/ab12cd34/disk-0.qcow2"))
}

func TestEnsureBucket(t *testing.T) {
	fake := newFake()
	s := NewWithClient("fr-par", fake)

	require.NoError(t, s.EnsureBucket(context.Background(), "transit"))
	assert.True(t, fake.buckets["transit"])
	require.NoError(t, s.EnsureBucket(context.Background(), "transit"))
}

func TestObjectSize(t *testing.T) {
	fake := newFake()
	fake.objects["k"] = 42
	s := NewWithClient("fr-par", fake)

	size, ok, err := s.ObjectSize(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), size)

	_, ok, err = s.ObjectSize(context.Background(), "b", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	fake := newFake()
	fake.objects["k"] = 1
	s := NewWithClient("fr-par", fake)

	require.NoError(t, s.Delete(context.Background(), "b", "k"))
	assert.Equal(t, []string{"k"}, fake.deleted)
}

func TestUploaderPartLimits(t *testing.T) {
	s := NewWithClient("fr-par", newFake())

	assert.Equal(t, 1000, s.uploader.MaxUploadParts)
	assert.Equal(t, int64(64<<20), s.uploader.PartSize)
	assert.Equal(t, 4, s.uploader.Concurrency)
}
