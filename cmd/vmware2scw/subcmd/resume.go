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
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewResumeCommand())
}

func NewResumeCommand() *cobra.Command {
	resumeCmd := &ResumeCommand{}

	cmd := &cobra.Command{
		Use:   "resume <migration-id>",
		Short: "Continue a failed or interrupted migration from its first incomplete stage",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeCmd.resume,
	}
	cmd.Flags().StringVarP(&resumeCmd.ConfigPath, "config", "c", "", "path to migration.yaml (default ~/.vmware2scw/migration.yaml)")

	return cmd
}

type ResumeCommand struct {
	ConfigPath string
}

func (r *ResumeCommand) resume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(r.ConfigPath)
	if err != nil {
		return err
	}
	// fail on an unknown id before prompting for credentials
	if _, err := newStore(cfg).Load(args[0]); err != nil {
		return err
	}
	if err := ensurePassword(cfg); err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	res, err := pipeline.Resume(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	renderResult(cmd.OutOrStdout(), res)
	if !res.Success {
		return errors.Errorf("migration %s failed at stage '%s'", res.MigrationId, res.FailedStage)
	}
	return nil
}
