package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmware2scw/vmware2scw/kernel/guest"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"github.com/vmware2scw/vmware2scw/kernel/objectstore"
	"github.com/vmware2scw/vmware2scw/kernel/validate"
)

// Stages holds the collaborators shared by the stage handlers.
type Stages struct {
	Config     *model.AppConfig
	Hypervisor Hypervisor
	Disks      DiskConverter
	V2V        GuestConverter
	Guest      GuestPreparer
	Drivers    DriverInjector
	Objects    ObjectStore
	Importer   func(zone string) (ImageImporter, error)
}

// Handlers binds every registry stage to its handler.
func (s *Stages) Handlers() map[model.Stage]Handler {
	return map[model.Stage]Handler{
		model.StageValidate:      HandlerFunc(s.validate),
		model.StageSnapshot:      HandlerFunc(s.snapshot),
		model.StageExport:        HandlerFunc(s.export),
		model.StageConvert:       HandlerFunc(s.convert),
		model.StageCleanTools:    HandlerFunc(s.cleanTools),
		model.StageInjectVirtio:  HandlerFunc(s.injectVirtio),
		model.StageFixBootloader: HandlerFunc(s.fixBootloader),
		model.StageEnsureUEFI:    HandlerFunc(s.ensureUEFI),
		model.StageFixNetwork:    HandlerFunc(s.fixNetwork),
		model.StageUploadS3:      HandlerFunc(s.uploadS3),
		model.StageImportSCW:     HandlerFunc(s.importSCW),
		model.StageVerify:        HandlerFunc(s.verify),
		model.StageCleanup:       HandlerFunc(s.cleanup),
	}
}

func stageLog(state *model.MigrationState, stage model.Stage) *logrus.Entry {
	return pfxlog.ContextLogger(state.MigrationId).WithField("stage", stage)
}

// SnapshotName is the vSphere snapshot taken for a migration.
func SnapshotName(migrationId string) string {
	return "vmware2scw-" + migrationId
}

func (s *Stages) connect(ctx context.Context) (func(), error) {
	v := s.Config.VMware
	if err := s.Hypervisor.Connect(ctx, v.VCenter, v.Username, v.Password, v.Insecure); err != nil {
		return nil, err
	}
	return func() {
		if err := s.Hypervisor.Disconnect(context.WithoutCancel(ctx)); err != nil {
			pfxlog.Logger().WithError(err).Warn("vcenter logout failed")
		}
	}, nil
}

func family(state *model.MigrationState) string {
	return validate.OSFamily(state.Artifacts.GuestOS(""))
}

func (s *Stages) validate(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageValidate)
	disconnect, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	info, err := s.Hypervisor.VMInfo(ctx, plan.VMName)
	if err != nil {
		return err
	}
	state.Artifacts.VMInfo = info

	report := validate.Validate(info, plan.TargetType)
	for _, w := range report.Warnings() {
		log.Warnf("%s: %s", w.Name, w.Message)
	}
	if failures := report.Failures(); len(failures) > 0 {
		return &ValidationError{VMName: plan.VMName, Failures: failures}
	}
	log.Infof("%s (%s, %s) can be migrated to %s", info.Name, info.GuestOS, info.Firmware, plan.TargetType)
	return nil
}

func (s *Stages) snapshot(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error {
	disconnect, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	// later stages need the guest OS even when validate was skipped
	if state.Artifacts.VMInfo == nil {
		info, err := s.Hypervisor.VMInfo(ctx, plan.VMName)
		if err != nil {
			return err
		}
		state.Artifacts.VMInfo = info
	}

	name := SnapshotName(state.MigrationId)
	if err := s.Hypervisor.CreateSnapshot(ctx, plan.VMName, name); err != nil {
		return err
	}
	state.Artifacts.SnapshotName = name
	return nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return len(paths) > 0
}

func (s *Stages) export(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageExport)
	if allExist(state.Artifacts.VMDKPaths) {
		log.Info("disks already exported")
		return nil
	}

	disconnect, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	paths, err := s.Hypervisor.ExportDisks(ctx, plan.VMName, s.Config.MigrationWorkDir(state.MigrationId))
	if err != nil {
		return err
	}
	state.Artifacts.VMDKPaths = paths
	return nil
}

func qcow2Path(vmdk string) string {
	return strings.TrimSuffix(vmdk, filepath.Ext(vmdk)) + ".qcow2"
}

func (s *Stages) convert(ctx context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageConvert)
	if !state.Artifacts.Has(model.ArtifactVMDKPaths) {
		log.Warn("no exported disks, nothing to convert")
		return nil
	}

	for _, vmdk := range state.Artifacts.VMDKPaths {
		target := qcow2Path(vmdk)
		if _, err := os.Stat(target); err == nil {
			if err := s.Disks.Check(ctx, target); err == nil {
				log.Infof("%s already converted", filepath.Base(target))
				state.Artifacts.QCOW2Paths = appendUnique(state.Artifacts.QCOW2Paths, target)
				_ = os.Remove(vmdk)
				continue
			}
			log.Warnf("%s failed check, converting again", filepath.Base(target))
			_ = os.Remove(target)
		}
		if _, err := os.Stat(vmdk); err != nil {
			return errors.Wrapf(err, "source disk '%s' is missing", vmdk)
		}
		if err := s.Disks.Convert(ctx, vmdk, target); err != nil {
			return err
		}
		if err := os.Remove(vmdk); err != nil {
			log.WithError(err).Warnf("unable to remove %s", vmdk)
		}
		state.Artifacts.QCOW2Paths = appendUnique(state.Artifacts.QCOW2Paths, target)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

func (s *Stages) bootDisk(state *model.MigrationState, stage model.Stage) (string, bool) {
	disk, ok := state.Artifacts.BootDisk()
	if !ok {
		stageLog(state, stage).Warn("no converted disk, skipping")
	}
	return disk, ok
}

func (s *Stages) cleanTools(ctx context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	disk, ok := s.bootDisk(state, model.StageCleanTools)
	if !ok {
		return nil
	}
	return s.Guest.CleanTools(ctx, disk, family(state))
}

func (s *Stages) injectVirtio(ctx context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageInjectVirtio)
	disk, ok := s.bootDisk(state, model.StageInjectVirtio)
	if !ok {
		return nil
	}
	iso := s.Config.Conversion.VirtioWinISO

	if family(state) == validate.FamilyWindows {
		method := "drivers"
		if syntax, err := s.V2V.Convert(ctx, disk, iso); err != nil {
			log.WithError(err).Warn("virt-v2v failed, installing drivers offline only")
		} else {
			method = "virt-v2v:" + syntax + "+drivers"
		}
		report, err := s.Drivers.EnsureDrivers(ctx, disk, iso, filepath.Join(s.Config.MigrationWorkDir(state.MigrationId), "virtio"))
		if err != nil {
			return err
		}
		if report.RegistryError != "" {
			log.Warnf("driver services not registered offline (%s); [%s] install at first boot", report.RegistryError, strings.Join(report.Staged, ", "))
		} else {
			log.Infof("drivers registered [%s] via %s", strings.Join(report.Registered, ", "), report.RegistryMethod)
		}
		state.Artifacts.VirtioMethod = method
		return nil
	}

	syntax, err := s.V2V.Convert(ctx, disk, iso)
	if err == nil {
		if err := s.Guest.RestoreFstab(ctx, disk); err != nil {
			return err
		}
		state.Artifacts.VirtioMethod = "virt-v2v:" + syntax
		return nil
	}
	log.WithError(err).Warn("virt-v2v failed, regenerating initramfs with virt-customize")
	if err := s.Guest.InjectVirtioLinux(ctx, disk); err != nil {
		return err
	}
	state.Artifacts.VirtioMethod = "virt-customize"
	return nil
}

func (s *Stages) fixBootloader(ctx context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	disk, ok := s.bootDisk(state, model.StageFixBootloader)
	if !ok {
		return nil
	}
	if family(state) == validate.FamilyWindows {
		stageLog(state, model.StageFixBootloader).Info("windows guest, nothing to do")
		return nil
	}
	return s.Guest.FixBootloader(ctx, disk)
}

func (s *Stages) ensureUEFI(ctx context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageEnsureUEFI)
	disk, ok := s.bootDisk(state, model.StageEnsureUEFI)
	if !ok {
		return nil
	}
	bootType, err := s.Guest.DetectBootType(ctx, disk)
	if err != nil {
		return err
	}
	state.Artifacts.BootType = bootType
	if bootType == guest.BootUEFI {
		log.Info("disk already boots with UEFI")
		return nil
	}
	if family(state) == validate.FamilyWindows {
		log.Warn("windows guest boots with BIOS; convert it to UEFI before starting the instance")
		return nil
	}
	if err := s.Guest.ConvertToUEFI(ctx, disk); err != nil {
		return err
	}
	state.Artifacts.BootType = guest.BootUEFI
	return nil
}

func (s *Stages) fixNetwork(_ context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	stageLog(state, model.StageFixNetwork).Info("network configured during fix_bootloader and inject_virtio")
	return nil
}

func (s *Stages) uploadS3(ctx context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageUploadS3)
	if !state.Artifacts.Has(model.ArtifactQCOW2Paths) {
		log.Warn("no converted disks to upload")
		return nil
	}
	bucket := s.Config.Scaleway.S3Bucket
	if bucket == "" {
		return errors.New("scaleway.s3_bucket is not configured")
	}
	if err := s.Objects.EnsureBucket(ctx, bucket); err != nil {
		return err
	}

	state.Artifacts.S3Bucket = bucket
	for _, path := range state.Artifacts.QCOW2Paths {
		fi, err := os.Stat(path)
		if err != nil {
			return errors.Wrapf(err, "converted disk '%s' is missing", path)
		}
		key := objectstore.ObjectKey(state.MigrationId, path)
		size, exists, err := s.Objects.ObjectSize(ctx, bucket, key)
		if err != nil {
			return err
		}
		if exists && size == fi.Size() {
			log.Infof("s3://%s/%s already uploaded (%s)", bucket, key, humanize.IBytes(uint64(size)))
		} else if err := s.Objects.Upload(ctx, bucket, key, path); err != nil {
			return err
		}
		state.Artifacts.S3Keys = appendUnique(state.Artifacts.S3Keys, key)
	}
	return nil
}

func (s *Stages) importSCW(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageImportSCW)
	a := &state.Artifacts
	if !a.Has(model.ArtifactS3Keys) {
		return &MissingArtifactError{Stage: model.StageImportSCW, Artifact: model.ArtifactS3Keys}
	}
	if !a.Has(model.ArtifactS3Bucket) {
		return &MissingArtifactError{Stage: model.StageImportSCW, Artifact: model.ArtifactS3Bucket}
	}

	importer, err := s.Importer(plan.Zone)
	if err != nil {
		return err
	}

	if a.ScalewaySnapshotId == "" {
		id, err := importer.CreateSnapshotFromObject(ctx, "vmware2scw-"+plan.VMName+"-"+state.MigrationId, a.S3Bucket, a.S3Keys[0])
		if err != nil {
			return err
		}
		a.ScalewaySnapshotId = id
	} else {
		log.Infof("reusing snapshot %s", a.ScalewaySnapshotId)
	}
	if err := importer.WaitForSnapshot(ctx, a.ScalewaySnapshotId); err != nil {
		return err
	}

	if a.ScalewayImageId == "" {
		id, err := importer.CreateImage(ctx, "migrated-"+plan.VMName, a.ScalewaySnapshotId)
		if err != nil {
			return err
		}
		a.ScalewayImageId = id
	}
	log.Infof("image %s ready in %s", a.ScalewayImageId, plan.Zone)
	return nil
}

func (s *Stages) verify(_ context.Context, _ *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageVerify)
	if state.Artifacts.ScalewayImageId == "" {
		log.Warn("no image was created")
		return nil
	}
	log.Infof("image %s (boot type %s, virtio via %s)", state.Artifacts.ScalewayImageId, state.Artifacts.BootType, state.Artifacts.VirtioMethod)
	return nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total
}

func (s *Stages) cleanup(ctx context.Context, plan *model.MigrationPlan, state *model.MigrationState) error {
	log := stageLog(state, model.StageCleanup)

	dir := s.Config.MigrationWorkDir(state.MigrationId)
	if _, err := os.Stat(dir); err == nil {
		freed := dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "unable to remove '%s'", dir)
		}
		log.Infof("removed %s (%s)", dir, humanize.IBytes(uint64(freed)))
	}

	if name := state.Artifacts.SnapshotName; name != "" {
		if disconnect, err := s.connect(ctx); err != nil {
			log.WithError(err).Warnf("unable to connect, snapshot '%s' left in place", name)
		} else {
			if err := s.Hypervisor.DeleteSnapshot(ctx, plan.VMName, name); err != nil {
				log.WithError(err).Warnf("unable to delete snapshot '%s'", name)
			}
			disconnect()
		}
	}

	// transit objects are kept until an image exists, so import can be retried
	if state.Artifacts.ScalewayImageId != "" {
		for _, key := range state.Artifacts.S3Keys {
			if err := s.Objects.Delete(ctx, state.Artifacts.S3Bucket, key); err != nil {
				log.WithError(err).Warnf("unable to delete s3://%s/%s", state.Artifacts.S3Bucket, key)
			}
		}
	}
	return nil
}
