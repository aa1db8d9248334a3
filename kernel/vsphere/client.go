// Package vsphere talks to vCenter through govmomi: inventory, snapshots and
// disk export over NFC.
package vsphere

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/nfc"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

// Client is a vCenter session scoped to one datacenter. The zero value is
// disconnected; Connect must be called first.
type Client struct {
	Datacenter string

	client *govmomi.Client
}

func NewClient(datacenter string) *Client {
	return &Client{Datacenter: datacenter}
}

// Connect opens a session. endpoint may be a bare host name or a full SDK URL.
func (c *Client) Connect(ctx context.Context, endpoint, user, secret string, insecure bool) error {
	if endpoint == "" {
		return errors.New("vcenter endpoint is required")
	}
	u, err := soap.ParseURL(endpoint)
	if err != nil {
		return errors.Wrapf(err, "invalid vcenter endpoint '%s'", endpoint)
	}
	u.User = url.UserPassword(user, secret)

	client, err := govmomi.NewClient(ctx, u, insecure)
	if err != nil {
		return errors.Wrapf(err, "unable to connect to '%s'", u.Host)
	}
	c.client = client
	pfxlog.Logger().Infof("connected to vcenter %s as %s", u.Host, user)
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout(ctx)
	c.client = nil
	return err
}

func (c *Client) finder(ctx context.Context) (*find.Finder, error) {
	if c.client == nil {
		return nil, errors.New("not connected to vcenter")
	}
	finder := find.NewFinder(c.client.Client, true)
	var dc *object.Datacenter
	var err error
	if c.Datacenter == "" {
		dc, err = finder.DefaultDatacenter(ctx)
	} else {
		dc, err = finder.Datacenter(ctx, c.Datacenter)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve datacenter")
	}
	finder.SetDatacenter(dc)
	return finder, nil
}

func (c *Client) vm(ctx context.Context, name string) (*object.VirtualMachine, error) {
	finder, err := c.finder(ctx)
	if err != nil {
		return nil, err
	}
	vm, err := finder.VirtualMachine(ctx, name)
	if err != nil {
		if _, ok := err.(*find.NotFoundError); ok {
			return nil, errors.Errorf("virtual machine '%s' not found", name)
		}
		return nil, errors.Wrapf(err, "unable to find virtual machine '%s'", name)
	}
	return vm, nil
}

// VMInfo reads the inventory record of name.
func (c *Client) VMInfo(ctx context.Context, name string) (*model.VMInfo, error) {
	vm, err := c.vm(ctx, name)
	if err != nil {
		return nil, err
	}
	var props mo.VirtualMachine
	if err := c.client.RetrieveOne(ctx, vm.Reference(), []string{"config", "runtime"}, &props); err != nil {
		return nil, errors.Wrapf(err, "unable to read properties of '%s'", name)
	}
	if props.Config == nil {
		return nil, errors.Errorf("virtual machine '%s' has no configuration", name)
	}
	return vmInfoFrom(name, &props), nil
}

func vmInfoFrom(name string, props *mo.VirtualMachine) *model.VMInfo {
	cfg := props.Config
	info := &model.VMInfo{
		Name:       name,
		GuestOS:    cfg.GuestId,
		GuestName:  cfg.GuestFullName,
		Firmware:   cfg.Firmware,
		CPU:        int(cfg.Hardware.NumCPU),
		MemoryMB:   int64(cfg.Hardware.MemoryMB),
		PowerState: string(props.Runtime.PowerState),
	}
	for _, dev := range cfg.Hardware.Device {
		disk, ok := dev.(*types.VirtualDisk)
		if !ok {
			continue
		}
		d := model.DiskInfo{CapacityBytes: disk.CapacityInBytes}
		if d.CapacityBytes == 0 {
			d.CapacityBytes = disk.CapacityInKB * 1024
		}
		if desc := disk.DeviceInfo; desc != nil {
			d.Label = desc.GetDescription().Label
		}
		if b, ok := disk.Backing.(*types.VirtualDiskFlatVer2BackingInfo); ok {
			d.FileName = b.FileName
		}
		info.Disks = append(info.Disks, d)
	}
	return info
}

// CreateSnapshot takes a disk-only snapshot named snapName. An existing
// snapshot with that name is reused.
func (c *Client) CreateSnapshot(ctx context.Context, vmName, snapName string) error {
	vm, err := c.vm(ctx, vmName)
	if err != nil {
		return err
	}
	if _, err := vm.FindSnapshot(ctx, snapName); err == nil {
		pfxlog.Logger().Infof("snapshot '%s' already exists on '%s'", snapName, vmName)
		return nil
	}
	task, err := vm.CreateSnapshot(ctx, snapName, "created by vmware2scw", false, false)
	if err != nil {
		return errors.Wrapf(err, "unable to snapshot '%s'", vmName)
	}
	if err := task.Wait(ctx); err != nil {
		return errors.Wrapf(err, "snapshot of '%s' failed", vmName)
	}
	return nil
}

// DeleteSnapshot removes snapName; a snapshot that no longer exists is not an
// error.
func (c *Client) DeleteSnapshot(ctx context.Context, vmName, snapName string) error {
	vm, err := c.vm(ctx, vmName)
	if err != nil {
		return err
	}
	if _, err := vm.FindSnapshot(ctx, snapName); err != nil {
		pfxlog.Logger().Debugf("snapshot '%s' not present on '%s'", snapName, vmName)
		return nil
	}
	consolidate := true
	task, err := vm.RemoveSnapshot(ctx, snapName, false, &consolidate)
	if err != nil {
		return errors.Wrapf(err, "unable to remove snapshot '%s'", snapName)
	}
	return task.Wait(ctx)
}

// ExportDisks downloads the virtual disks of vmName into dir through an NFC
// export lease and returns their paths in device order. Disks already present
// with the announced size are not downloaded again.
func (c *Client) ExportDisks(ctx context.Context, vmName, dir string) ([]string, error) {
	log := pfxlog.Logger().WithField("vm", vmName)

	vm, err := c.vm(ctx, vmName)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create export directory")
	}

	lease, err := vm.Export(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to start export of '%s'", vmName)
	}
	info, err := lease.Wait(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "export lease failed")
	}

	updater := lease.StartUpdater(ctx, info)
	defer updater.Done()

	var paths []string
	for _, item := range info.Items {
		if !strings.HasSuffix(strings.ToLower(item.Path), ".vmdk") {
			continue
		}
		target := filepath.Join(dir, filepath.Base(item.Path))
		paths = append(paths, target)

		if fi, err := os.Stat(target); err == nil && item.Size > 0 && fi.Size() == item.Size {
			log.Infof("%s already exported", filepath.Base(target))
			continue
		}
		log.Infof("exporting %s", filepath.Base(target))
		if err := downloadItem(ctx, lease, target, item); err != nil {
			_ = lease.Abort(ctx, nil)
			return nil, err
		}
		if fi, err := os.Stat(target); err == nil {
			log.Infof("exported %s (%s)", filepath.Base(target), humanize.IBytes(uint64(fi.Size())))
		}
	}
	if len(paths) == 0 {
		_ = lease.Abort(ctx, nil)
		return nil, errors.Errorf("export of '%s' produced no disks", vmName)
	}
	if err := lease.Complete(ctx); err != nil {
		return nil, errors.Wrap(err, "unable to complete export lease")
	}
	return paths, nil
}

func downloadItem(ctx context.Context, lease *nfc.Lease, target string, item nfc.FileItem) error {
	tmp := target + ".part"
	if err := lease.DownloadFile(ctx, tmp, item, soap.DefaultDownload); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "download of '%s' failed", item.Path)
	}
	return errors.Wrap(os.Rename(tmp, target), "unable to move exported disk into place")
}
