package model

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	ConfigFileName        = "migration.yaml"
	DefaultWorkDir        = "/var/lib/vmware2scw"
	DefaultVirtioMountDir = "/usr/share/virtio-win"
	DefaultToolTimeout    = time.Hour
	DefaultRegion         = "fr-par"
)

// AppConfig is the contents of migration.yaml.
type AppConfig struct {
	VMware     VMwareConfig     `yaml:"vmware"`
	Scaleway   ScalewayConfig   `yaml:"scaleway"`
	Conversion ConversionConfig `yaml:"conversion"`
}

type VMwareConfig struct {
	VCenter    string `yaml:"vcenter"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Insecure   bool   `yaml:"insecure"`
	Datacenter string `yaml:"datacenter"`
}

type ScalewayConfig struct {
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	ProjectId   string `yaml:"project_id"`
	Region      string `yaml:"region"`
	S3Region    string `yaml:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	DefaultZone string `yaml:"default_zone"`
}

type ConversionConfig struct {
	WorkDir        string        `yaml:"work_dir"`
	VirtioWinISO   string        `yaml:"virtio_win_iso"`
	VirtioMountDir string        `yaml:"virtio_mount_dir"`
	CompressQCOW2  bool          `yaml:"compress_qcow2"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
}

// ApplyDefaults fills unset fields and environment overrides.
func (c *AppConfig) ApplyDefaults() {
	if c.Conversion.WorkDir == "" {
		c.Conversion.WorkDir = DefaultWorkDir
	}
	if c.Conversion.VirtioMountDir == "" {
		c.Conversion.VirtioMountDir = DefaultVirtioMountDir
	}
	if c.Conversion.ToolTimeout <= 0 {
		c.Conversion.ToolTimeout = DefaultToolTimeout
	}
	if c.Scaleway.Region == "" {
		c.Scaleway.Region = DefaultRegion
	}
	if c.Scaleway.S3Region == "" {
		c.Scaleway.S3Region = c.Scaleway.Region
	}
	if v := os.Getenv("VMWARE2SCW_VMWARE_PASSWORD"); v != "" {
		c.VMware.Password = v
	}
	if v := os.Getenv("SCW_ACCESS_KEY"); v != "" {
		c.Scaleway.AccessKey = v
	}
	if v := os.Getenv("SCW_SECRET_KEY"); v != "" {
		c.Scaleway.SecretKey = v
	}
}

func (c *AppConfig) Validate() error {
	if c.Conversion.WorkDir == "" {
		return errors.New("conversion.work_dir is required")
	}
	if !filepath.IsAbs(c.Conversion.WorkDir) {
		return errors.Errorf("conversion.work_dir must be absolute, got '%s'", c.Conversion.WorkDir)
	}
	return nil
}

// MigrationWorkDir is the scratch directory for one migration's disks.
func (c *AppConfig) MigrationWorkDir(migrationId string) string {
	return filepath.Join(c.Conversion.WorkDir, migrationId)
}

// StateDir holds the persisted migration records. It is kept outside every
// migration work directory so cleanup never removes a state record.
func (c *AppConfig) StateDir() string {
	return filepath.Join(c.Conversion.WorkDir, "state")
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to resolve home directory")
	}
	return filepath.Join(home, ".vmware2scw"), nil
}
