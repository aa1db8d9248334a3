package model

// Artifact keys. These names are the persisted contract between stages;
// renaming one breaks resume of migrations started by an older build.
const (
	ArtifactVMInfo             = "vm_info"
	ArtifactSnapshotName       = "snapshot_name"
	ArtifactVMDKPaths          = "vmdk_paths"
	ArtifactQCOW2Paths         = "qcow2_paths"
	ArtifactVirtioMethod       = "virtio_method"
	ArtifactBootType           = "boot_type"
	ArtifactS3Bucket           = "s3_bucket"
	ArtifactS3Keys             = "s3_keys"
	ArtifactScalewaySnapshotId = "scaleway_snapshot_id"
	ArtifactScalewayImageId    = "scaleway_image_id"
	ArtifactScalewayInstanceId = "scaleway_instance_id"
)

// Artifacts carries intermediate results between stages. A zero field means
// the producing stage has not run yet.
type Artifacts struct {
	VMInfo             *VMInfo  `json:"vm_info,omitempty"`
	SnapshotName       string   `json:"snapshot_name,omitempty"`
	VMDKPaths          []string `json:"vmdk_paths,omitempty"`
	QCOW2Paths         []string `json:"qcow2_paths,omitempty"`
	VirtioMethod       string   `json:"virtio_method,omitempty"`
	BootType           string   `json:"boot_type,omitempty"`
	S3Bucket           string   `json:"s3_bucket,omitempty"`
	S3Keys             []string `json:"s3_keys,omitempty"`
	ScalewaySnapshotId string   `json:"scaleway_snapshot_id,omitempty"`
	ScalewayImageId    string   `json:"scaleway_image_id,omitempty"`
	ScalewayInstanceId string   `json:"scaleway_instance_id,omitempty"`
}

// BootDisk returns the first converted disk, which carries the OS.
func (a *Artifacts) BootDisk() (string, bool) {
	if len(a.QCOW2Paths) == 0 {
		return "", false
	}
	return a.QCOW2Paths[0], true
}

// GuestOS returns the guest identifier recorded by validate, or fallback.
func (a *Artifacts) GuestOS(fallback string) string {
	if a.VMInfo == nil || a.VMInfo.GuestOS == "" {
		return fallback
	}
	return a.VMInfo.GuestOS
}

// Firmware returns the recorded firmware type, defaulting to bios.
func (a *Artifacts) Firmware() string {
	if a.VMInfo == nil || a.VMInfo.Firmware == "" {
		return "bios"
	}
	return a.VMInfo.Firmware
}

// Has reports whether the artifact named key has been produced.
func (a *Artifacts) Has(key string) bool {
	switch key {
	case ArtifactVMInfo:
		return a.VMInfo != nil
	case ArtifactSnapshotName:
		return a.SnapshotName != ""
	case ArtifactVMDKPaths:
		return len(a.VMDKPaths) > 0
	case ArtifactQCOW2Paths:
		return len(a.QCOW2Paths) > 0
	case ArtifactVirtioMethod:
		return a.VirtioMethod != ""
	case ArtifactBootType:
		return a.BootType != ""
	case ArtifactS3Bucket:
		return a.S3Bucket != ""
	case ArtifactS3Keys:
		return len(a.S3Keys) > 0
	case ArtifactScalewaySnapshotId:
		return a.ScalewaySnapshotId != ""
	case ArtifactScalewayImageId:
		return a.ScalewayImageId != ""
	case ArtifactScalewayInstanceId:
		return a.ScalewayInstanceId != ""
	}
	return false
}

var artifactKeys = []string{
	ArtifactVMInfo,
	ArtifactSnapshotName,
	ArtifactVMDKPaths,
	ArtifactQCOW2Paths,
	ArtifactVirtioMethod,
	ArtifactBootType,
	ArtifactS3Bucket,
	ArtifactS3Keys,
	ArtifactScalewaySnapshotId,
	ArtifactScalewayImageId,
	ArtifactScalewayInstanceId,
}

// Keys lists the produced artifacts in a stable order.
func (a *Artifacts) Keys() []string {
	var out []string
	for _, k := range artifactKeys {
		if a.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (a Artifacts) Clone() Artifacts {
	c := a
	if a.VMInfo != nil {
		info := *a.VMInfo
		info.Disks = append([]DiskInfo(nil), a.VMInfo.Disks...)
		c.VMInfo = &info
	}
	c.VMDKPaths = cloneStrings(a.VMDKPaths)
	c.QCOW2Paths = cloneStrings(a.QCOW2Paths)
	c.S3Keys = cloneStrings(a.S3Keys)
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
