// Package loader reads migration.yaml and multi-VM plan files.
package loader

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"gopkg.in/yaml.v2"
)

// LoadConfig reads the application config at path, applies defaults and
// environment overrides, and validates it.
func LoadConfig(path string) (*model.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config '%s'", path)
	}
	cfg := &model.AppConfig{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "invalid config '%s'", path)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config '%s'", path)
	}
	return cfg, nil
}

type PlanYaml struct {
	Defaults PlanDefaultsYaml      `yaml:"defaults"`
	VMs      []model.MigrationPlan `yaml:"vms"`
}

type PlanDefaultsYaml struct {
	TargetType string `yaml:"target_type"`
	Zone       string `yaml:"zone"`
}

// LoadPlanFile reads a plan listing one or more VMs. Entries missing a target
// type or zone inherit them from the defaults block, then from defaultZone.
func LoadPlanFile(path, defaultZone string) ([]*model.MigrationPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read plan '%s'", path)
	}
	var doc PlanYaml
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "invalid plan '%s'", path)
	}
	if len(doc.VMs) == 0 {
		return nil, errors.Errorf("plan '%s' lists no vms", path)
	}

	seen := map[string]bool{}
	var plans []*model.MigrationPlan
	for i := range doc.VMs {
		p := doc.VMs[i]
		p.VMName = strings.TrimSpace(p.VMName)
		if p.TargetType == "" {
			p.TargetType = doc.Defaults.TargetType
		}
		if p.Zone == "" {
			p.Zone = doc.Defaults.Zone
		}
		if p.Zone == "" {
			p.Zone = defaultZone
		}
		if err := p.Validate(); err != nil {
			return nil, errors.Wrapf(err, "plan '%s' entry %d", path, i)
		}
		if seen[p.VMName] {
			return nil, errors.Errorf("plan '%s' lists vm '%s' twice", path, p.VMName)
		}
		seen[p.VMName] = true
		plans = append(plans, &p)
	}
	return plans, nil
}
