// Package convert turns exported VMDK disks into qcow2 images and runs
// virt-v2v over them.
package convert

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/michaelquigley/pfxlog"
	"github.com/oliveagle/jsonpath"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
)

// QemuImg wraps the qemu-img binary.
type QemuImg struct {
	Runner   runner.Runner
	Timeout  time.Duration
	Compress bool
}

func NewQemuImg(r runner.Runner, timeout time.Duration, compress bool) *QemuImg {
	return &QemuImg{Runner: r, Timeout: timeout, Compress: compress}
}

// ImageInfo is the part of `qemu-img info` the migration relies on.
type ImageInfo struct {
	Format      string
	VirtualSize int64
	ActualSize  int64
}

func (q *QemuImg) run(ctx context.Context, args ...string) (*runner.Result, error) {
	return q.Runner.Run(ctx, runner.Command{Name: "qemu-img", Args: args, Timeout: q.Timeout})
}

// Convert writes dst as qcow2 from src. The image is written next to dst and
// renamed into place so an interrupted run never leaves a truncated target.
func (q *QemuImg) Convert(ctx context.Context, src, dst string) error {
	log := pfxlog.Logger().WithField("src", src)

	tmp := dst + ".part"
	_ = os.Remove(tmp)

	args := []string{"convert", "-p", "-O", "qcow2"}
	if q.Compress {
		args = append(args, "-c")
	}
	args = append(args, src, tmp)

	start := time.Now()
	if _, err := q.run(ctx, args...); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "failed to convert '%s'", src)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return errors.Wrapf(err, "failed to move '%s' into place", dst)
	}

	if fi, err := os.Stat(dst); err == nil {
		log.Infof("converted to %s (%s) in %s", dst, humanize.IBytes(uint64(fi.Size())), time.Since(start).Round(time.Second))
	}
	return nil
}

// Check runs a consistency check; a nil error means the image is usable.
func (q *QemuImg) Check(ctx context.Context, path string) error {
	if _, err := q.run(ctx, "check", path); err != nil {
		return errors.Wrapf(err, "image '%s' failed check", path)
	}
	return nil
}

func (q *QemuImg) Info(ctx context.Context, path string) (*ImageInfo, error) {
	res, err := q.run(ctx, "info", "--output=json", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect '%s'", path)
	}
	return ParseInfo([]byte(res.Stdout))
}

// ParseInfo reads the JSON emitted by `qemu-img info --output=json`.
func ParseInfo(data []byte) (*ImageInfo, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid qemu-img info output")
	}

	format, err := jsonpath.JsonPathLookup(doc, "$.format")
	if err != nil {
		return nil, errors.Wrap(err, "qemu-img info has no format")
	}
	info := &ImageInfo{}
	if s, ok := format.(string); ok {
		info.Format = s
	} else {
		return nil, errors.Errorf("unexpected format value %v", format)
	}
	info.VirtualSize = lookupSize(doc, "$.virtual-size")
	info.ActualSize = lookupSize(doc, "$.actual-size")
	return info, nil
}

func lookupSize(doc interface{}, path string) int64 {
	v, err := jsonpath.JsonPathLookup(doc, path)
	if err != nil {
		return 0
	}
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	return 0
}
