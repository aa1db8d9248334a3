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
	"sort"

	"github.com/spf13/cobra"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

func init() {
	RootCmd.AddCommand(NewStatusCommand())
}

func NewStatusCommand() *cobra.Command {
	statusCmd := &StatusCommand{}

	cmd := &cobra.Command{
		Use:   "status [migration-id]",
		Short: "List recorded migrations, or show the stages and artifacts of one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  statusCmd.status,
	}
	cmd.Flags().StringVarP(&statusCmd.ConfigPath, "config", "c", "", "path to migration.yaml (default ~/.vmware2scw/migration.yaml)")

	return cmd
}

type StatusCommand struct {
	ConfigPath string
}

func (s *StatusCommand) status(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(s.ConfigPath)
	if err != nil {
		return err
	}
	st := newStore(cfg)

	if len(args) == 1 {
		state, err := st.Load(args[0])
		if err != nil {
			return err
		}
		renderState(cmd.OutOrStdout(), state)
		return nil
	}

	ids, err := st.List()
	if err != nil {
		return err
	}
	var states []*model.MigrationState
	for _, id := range ids {
		state, err := st.Load(id)
		if err != nil {
			return err
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].StartedAt.Before(states[j].StartedAt) })
	renderStates(cmd.OutOrStdout(), states)
	return nil
}
