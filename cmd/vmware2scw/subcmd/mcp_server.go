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
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vmware2scw/vmware2scw/kernel/mcp"
	"github.com/vmware2scw/vmware2scw/kernel/store"
)

func init() {
	RootCmd.AddCommand(NewMCPServerCommand())
}

func NewMCPServerCommand() *cobra.Command {
	mcpCmd := &MCPServerCommand{}

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start an MCP server exposing migration status",
		Long: `Start an MCP (Model Context Protocol) server on stdio that exposes the
recorded migrations to AI assistants.

The server provides tools for:
  - list_migrations: List all migrations with their progress
  - get_migration: Get the state record of a specific migration
  - list_stages: List the stages in execution order

And resources:
  - vmware2scw://status: Summary of every migration`,
		Args: cobra.NoArgs,
		RunE: mcpCmd.run,
	}

	cmd.Flags().StringVarP(&mcpCmd.ConfigPath, "config", "c", "", "path to migration.yaml (default ~/.vmware2scw/migration.yaml)")
	cmd.Flags().BoolVar(&mcpCmd.UseMemoryStore, "memory", false, "use an empty in-memory store (for testing)")

	return cmd
}

type MCPServerCommand struct {
	ConfigPath     string
	UseMemoryStore bool
}

func (m *MCPServerCommand) run(cmd *cobra.Command, args []string) error {
	var stateStore store.StateStore

	if m.UseMemoryStore {
		logrus.Info("using in-memory store")
		stateStore = store.NewMemoryStore()
	} else {
		cfg, err := loadConfig(m.ConfigPath)
		if err != nil {
			return err
		}
		stateStore = newStore(cfg)
	}

	// stdout carries the protocol
	logrus.SetOutput(cmd.ErrOrStderr())
	logrus.Info("starting MCP server on stdio...")
	return mcp.NewMigrationMCPServer(stateStore, Version).ServeStdio()
}
