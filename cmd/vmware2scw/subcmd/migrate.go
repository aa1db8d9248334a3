/*
	(c) Copyright NetFoundry Inc. Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package subcmd

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vmware2scw/vmware2scw/kernel/loader"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

func init() {
	RootCmd.AddCommand(NewMigrateCommand())
}

func NewMigrateCommand() *cobra.Command {
	migrateCmd := &MigrateCommand{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate one VM, or every VM of a plan file, to Scaleway",
		Args:  cobra.NoArgs,
		RunE:  migrateCmd.migrate,
	}

	cmd.Flags().StringVarP(&migrateCmd.ConfigPath, "config", "c", "", "path to migration.yaml (default ~/.vmware2scw/migration.yaml)")
	cmd.Flags().StringVar(&migrateCmd.VMName, "vm", "", "name of the vSphere virtual machine")
	cmd.Flags().StringVar(&migrateCmd.TargetType, "type", "", "Scaleway commercial type, e.g. POP2-4C-16G")
	cmd.Flags().StringVar(&migrateCmd.Zone, "zone", "", "Scaleway zone (default scaleway.default_zone)")
	cmd.Flags().BoolVar(&migrateCmd.SkipValidation, "skip-validation", false, "do not run the validate stage")
	cmd.Flags().BoolVar(&migrateCmd.DryRun, "dry-run", false, "print the stages that would run and exit")
	cmd.Flags().StringVar(&migrateCmd.PlanPath, "plan", "", "plan file listing several VMs")
	cmd.MarkFlagsMutuallyExclusive("plan", "vm")

	return cmd
}

type MigrateCommand struct {
	ConfigPath     string
	VMName         string
	TargetType     string
	Zone           string
	SkipValidation bool
	DryRun         bool
	PlanPath       string
}

func (m *MigrateCommand) plans(cfg *model.AppConfig) ([]*model.MigrationPlan, error) {
	if m.PlanPath != "" {
		return loader.LoadPlanFile(m.PlanPath, cfg.Scaleway.DefaultZone)
	}
	plan := &model.MigrationPlan{
		VMName:         m.VMName,
		TargetType:     m.TargetType,
		Zone:           m.Zone,
		SkipValidation: m.SkipValidation,
	}
	if plan.Zone == "" {
		plan.Zone = cfg.Scaleway.DefaultZone
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return []*model.MigrationPlan{plan}, nil
}

func (m *MigrateCommand) migrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(m.ConfigPath)
	if err != nil {
		return err
	}
	plans, err := m.plans(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if m.DryRun {
		for _, plan := range plans {
			renderPlan(out, plan, model.PlanStages(plan))
		}
		return nil
	}

	if err := ensurePassword(cfg); err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	var failed []string
	for _, plan := range plans {
		res, err := pipeline.Run(cmd.Context(), plan)
		if err != nil {
			return errors.Wrapf(err, "unable to migrate '%s'", plan.VMName)
		}
		renderResult(out, res)
		if !res.Success {
			failed = append(failed, plan.VMName)
			if cmd.Context().Err() != nil {
				break
			}
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("migration failed for %s", strings.Join(failed, ", "))
	}
	logrus.Infof("%d migration(s) completed", len(plans))
	return nil
}
