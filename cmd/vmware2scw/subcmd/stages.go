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
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/vmware2scw/vmware2scw/kernel/model"
)

func init() {
	RootCmd.AddCommand(stagesCmd)
}

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the migration stages in execution order",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"#", "Stage", "Skippable"})
		for i, s := range model.Stages() {
			t.AppendRow(table.Row{i + 1, s, s.Skippable()})
		}
		t.Render()
	},
}
