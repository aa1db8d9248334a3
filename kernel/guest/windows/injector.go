package windows

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/guest"
)

// GuestFS is the subset of guestfish operations the injector needs.
type GuestFS interface {
	IsFile(ctx context.Context, disk, guestPath string) (bool, error)
	Upload(ctx context.Context, disk, local, guestPath string) error
	Download(ctx context.Context, disk, guestPath, local string) error
	MkdirP(ctx context.Context, disk, guestDir string) error
}

// HiveTools edits the registry of an offline guest.
type HiveTools interface {
	WinRegMerge(ctx context.Context, disk, regFile string) error
	WinRegQuery(ctx context.Context, disk, key string) (string, error)
	HiveMerge(ctx context.Context, hive, prefix, regFile string) error
	HiveShell(ctx context.Context, hive, script string) (string, error)
}

// Media mounts the virtio-win ISO.
type Media interface {
	Open(ctx context.Context, iso string) (*guest.MountedMedia, error)
}

type Injector struct {
	Guest     GuestFS
	Hive      HiveTools
	Media     Media
	Catalogue []DriverDefinition
}

func NewInjector(tools *guest.Tools, media *guest.DriverMedia) *Injector {
	return &Injector{Guest: tools, Hive: tools, Media: media, Catalogue: Catalogue}
}

// Report summarizes what EnsureDrivers changed.
type Report struct {
	Present        []string
	Missing        []string
	Extracted      []string
	Uploaded       []string
	Registered     []string
	RegistryMethod string
	RegistryError  string
	Staged         []string
	Interfaces     []string
	DHCPMethod     string
}

// EnsureDrivers makes sure every catalogue driver is installed and registered
// in the guest on disk. It is safe to run again on an already prepared disk.
func (i *Injector) EnsureDrivers(ctx context.Context, disk, iso, workDir string) (*Report, error) {
	log := pfxlog.Logger().WithField("disk", filepath.Base(disk))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create work directory")
	}
	report := &Report{}

	present := make(map[string]bool)
	for _, def := range i.Catalogue {
		ok, err := i.Guest.IsFile(ctx, disk, driverGuestPath(def.Name))
		if err != nil {
			log.WithError(err).Warnf("unable to check for %s.sys", def.Name)
		}
		if ok {
			present[def.Name] = true
			report.Present = append(report.Present, def.Name)
		} else {
			report.Missing = append(report.Missing, def.Name)
		}
	}
	log.Infof("drivers present [%s], missing [%s]", strings.Join(report.Present, ", "), strings.Join(report.Missing, ", "))

	// package directories are needed even for drivers already on disk
	media, err := i.Media.Open(ctx, iso)
	if err != nil {
		return nil, errors.Wrap(err, "cannot mount virtio-win ISO")
	}
	extracted, err := ExtractDrivers(media.Dir, workDir, i.Catalogue)
	media.Close(ctx)
	if err != nil {
		return nil, err
	}
	report.Extracted = sortedKeys(extracted)

	for _, name := range report.Missing {
		drv, ok := extracted[name]
		if !ok {
			log.Warnf("%s.sys is missing and not available on the media", name)
			continue
		}
		if err := i.Guest.Upload(ctx, disk, drv.SysFile, driverGuestPath(name)); err != nil {
			return nil, errors.Wrapf(err, "failed to upload %s.sys", name)
		}
		present[name] = true
		report.Uploaded = append(report.Uploaded, name)
	}

	if err := i.checkBootCritical(present); err != nil {
		return nil, err
	}

	var register []DriverDefinition
	for _, def := range i.Catalogue {
		if present[def.Name] {
			register = append(register, def)
			report.Registered = append(report.Registered, def.Name)
		}
	}
	sort.Strings(report.Registered)

	merger := &Merger{Guest: i.Guest, Hive: i.Hive, WorkDir: workDir}
	if len(register) > 0 {
		// the staged packages and the firstboot script still install the drivers
		method, err := merger.Merge(ctx, disk, "virtio-drivers", BuildDriverPatch(register))
		if err != nil {
			report.RegistryError = err.Error()
			log.WithError(err).Warn("unable to register driver services offline, relying on the firstboot script")
		} else {
			report.RegistryMethod = method
			log.Infof("registered services [%s] with %s", strings.Join(report.Registered, ", "), method)
		}
	}

	for _, name := range report.Extracted {
		if err := i.stagePackage(ctx, disk, extracted[name]); err != nil {
			return nil, err
		}
		report.Staged = append(report.Staged, name)
	}
	if err := i.stageFirstboot(ctx, disk, workDir); err != nil {
		return nil, err
	}

	report.Interfaces = merger.InterfaceGUIDs(ctx, disk)
	if len(report.Interfaces) == 0 {
		log.Warn("no network interfaces found, DHCP relies on the firstboot script")
	} else {
		method, err := merger.Merge(ctx, disk, "dhcp-fix", BuildDHCPPatch(report.Interfaces))
		if err != nil {
			log.WithError(err).Warn("unable to force DHCP offline, relying on the firstboot script")
		} else {
			report.DHCPMethod = method
			log.Infof("forced DHCP on %d interface(s)", len(report.Interfaces))
		}
	}

	return report, nil
}

func (i *Injector) checkBootCritical(present map[string]bool) error {
	var critical []string
	for _, def := range i.Catalogue {
		if !def.BootCritical {
			continue
		}
		if present[def.Name] {
			return nil
		}
		critical = append(critical, def.Name)
	}
	if len(critical) == 0 {
		return nil
	}
	return errors.Errorf("no virtio storage driver available (%s), guest cannot boot", strings.Join(critical, ", "))
}

func (i *Injector) stagePackage(ctx context.Context, disk string, drv ExtractedDriver) error {
	guestDir := GuestStagingDir + "/" + drv.Name
	if err := i.Guest.MkdirP(ctx, disk, guestDir); err != nil {
		return errors.Wrapf(err, "failed to create %s", guestDir)
	}
	entries, err := os.ReadDir(drv.PackageDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := i.Guest.Upload(ctx, disk, filepath.Join(drv.PackageDir, e.Name()), guestDir+"/"+e.Name()); err != nil {
			return errors.Wrapf(err, "failed to stage %s", e.Name())
		}
	}
	return nil
}

func (i *Injector) stageFirstboot(ctx context.Context, disk, workDir string) error {
	local := filepath.Join(workDir, FirstbootScriptName)
	if err := os.WriteFile(local, []byte(FirstbootScript()), 0644); err != nil {
		return errors.Wrap(err, "failed to write firstboot script")
	}
	if err := i.Guest.MkdirP(ctx, disk, FirstbootScriptsDir); err != nil {
		return errors.Wrap(err, "failed to create firstboot directory")
	}
	if err := i.Guest.Upload(ctx, disk, local, firstbootGuestPath()); err != nil {
		return errors.Wrap(err, "failed to upload firstboot script")
	}
	return nil
}

func sortedKeys(m map[string]ExtractedDriver) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
