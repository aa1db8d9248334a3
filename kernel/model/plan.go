package model

import "github.com/pkg/errors"

// MigrationPlan describes what to migrate and where.
type MigrationPlan struct {
	VMName         string `yaml:"name"`
	TargetType     string `yaml:"target_type"`
	Zone           string `yaml:"zone"`
	SkipValidation bool   `yaml:"skip_validation"`
}

func (p *MigrationPlan) Validate() error {
	if p.VMName == "" {
		return errors.New("vm name is required")
	}
	if p.TargetType == "" {
		return errors.Errorf("target type is required for vm '%s'", p.VMName)
	}
	if p.Zone == "" {
		return errors.Errorf("zone is required for vm '%s'", p.VMName)
	}
	return nil
}
