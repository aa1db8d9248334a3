// Package mcp exposes migration records to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/model"
	"github.com/vmware2scw/vmware2scw/kernel/store"
)

const StatusURI = "vmware2scw://status"

type MigrationMCPServer struct {
	server *server.MCPServer
	store  store.StateStore
}

func NewMigrationMCPServer(s store.StateStore, version string) *MigrationMCPServer {
	srv := server.NewMCPServer(
		"vmware2scw",
		version,
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
	)

	ms := &MigrationMCPServer{
		server: srv,
		store:  s,
	}

	ms.registerTools()
	ms.registerResources()

	return ms
}

func (ms *MigrationMCPServer) ServeStdio() error {
	return server.ServeStdio(ms.server)
}

func (ms *MigrationMCPServer) registerTools() {
	ms.server.AddTool(mcp.NewTool("list_migrations",
		mcp.WithDescription("List recorded VMware to Scaleway migrations with their progress"),
	), ms.listMigrationsHandler)

	ms.server.AddTool(mcp.NewTool("get_migration",
		mcp.WithDescription("Show the full state record of one migration, including its artifacts"),
		mcp.WithString("migration_id",
			mcp.Description("Migration id printed by 'vmware2scw migrate'"),
			mcp.Required(),
		),
	), ms.getMigrationHandler)

	ms.server.AddTool(mcp.NewTool("list_stages",
		mcp.WithDescription("List the migration stages in execution order"),
	), ms.listStagesHandler)
}

func (ms *MigrationMCPServer) registerResources() {
	resource := mcp.NewResource(StatusURI, "Migration Status",
		mcp.WithResourceDescription("Summary of every recorded migration"),
		mcp.WithMIMEType("application/json"),
	)
	ms.server.AddResource(resource, ms.statusHandler)
}

// Summary is the one-line view of a migration.
type Summary struct {
	MigrationId  string      `json:"migration_id"`
	VMName       string      `json:"vm_name"`
	TargetType   string      `json:"target_type"`
	Zone         string      `json:"zone"`
	CurrentStage model.Stage `json:"current_stage"`
	Completed    int         `json:"completed"`
	Total        int         `json:"total"`
	Status       string      `json:"status"`
	ImageId      string      `json:"image_id,omitempty"`
	Error        string      `json:"error,omitempty"`
}

func Summarize(state *model.MigrationState) Summary {
	return Summary{
		MigrationId:  state.MigrationId,
		VMName:       state.VMName,
		TargetType:   state.TargetType,
		Zone:         state.Zone,
		CurrentStage: state.CurrentStage,
		Completed:    len(state.CompletedStages),
		Total:        len(model.StagesToRun(state.Plan())),
		Status:       state.Status(),
		ImageId:      state.Artifacts.ScalewayImageId,
		Error:        state.Error,
	}
}

func (ms *MigrationMCPServer) summaries() ([]Summary, error) {
	ids, err := ms.store.List()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list migrations")
	}
	sort.Strings(ids)
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		state, err := ms.store.Load(id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load migration '%s'", id)
		}
		out = append(out, Summarize(state))
	}
	return out, nil
}

func toJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (ms *MigrationMCPServer) listMigrationsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries, err := ms.summaries()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := toJSON(map[string]interface{}{"count": len(summaries), "migrations": summaries})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func (ms *MigrationMCPServer) getMigrationHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("migration_id")
	if err != nil {
		return mcp.NewToolResultError("migration_id argument is required"), nil
	}
	state, err := ms.store.Load(id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError("no migration with id '" + id + "'"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := toJSON(map[string]interface{}{
		"summary":   Summarize(state),
		"state":     state,
		"remaining": model.Remaining(state),
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func (ms *MigrationMCPServer) listStagesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := toJSON(model.Stages())
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func (ms *MigrationMCPServer) statusHandler(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	summaries, err := ms.summaries()
	if err != nil {
		return nil, err
	}
	text, err := toJSON(map[string]interface{}{"count": len(summaries), "migrations": summaries})
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusURI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
