package tools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/modvault/internal/diagnose"
	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/gaps"
	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/modules"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/usage"
	"github.com/mark3labs/mcp-go/mcp"
)

// tool is implemented by every handler in this package.
type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error)
}

// Deps holds the services the catalogue is built from.
type Deps struct {
	Store    *store.Store
	Modules  *modules.Service
	Graph    *graph.Service
	Diagnose *diagnose.Engine
	Gaps     *gaps.Manager
	Usage    *usage.Tracker
}

// Register adds the full tool catalogue to reg.
func Register(reg *dispatch.Registry, d Deps) error {
	entries := []struct {
		tool       tool
		idParams   []string
		queryParam string
	}{
		// Modules
		{NewCreateModuleTool(d.Modules), nil, "title"},
		{NewGetModuleTool(d.Modules, d.Graph), []string{"id"}, "id"},
		{NewUpdateModuleTool(d.Modules), []string{"id"}, "id"},
		{NewDeleteModuleTool(d.Modules), []string{"id"}, "id"},
		{NewListModulesTool(d.Modules), nil, ""},
		{NewSearchModulesTool(d.Modules), nil, "query"},

		// Graph
		{NewAddDependencyTool(d.Graph), []string{"module_id", "depends_on_id"}, "module_id"},
		{NewRemoveDependencyTool(d.Graph), []string{"module_id", "depends_on_id"}, "module_id"},
		{NewListDependenciesTool(d.Graph), []string{"module_id"}, "module_id"},
		{NewExportTreeTool(d.Graph), []string{"module_id"}, "module_id"},

		// Quality
		{NewValidateModuleTool(d.Modules), []string{"id"}, "id"},
		{NewAuditVaultTool(d.Store), nil, ""},

		// Troubleshooting
		{NewDiagnoseTool(d.Diagnose), nil, "error_message"},
		{NewReportGapTool(d.Gaps), nil, "error_message"},
		{NewResolveGapTool(d.Gaps), nil, "gap_id"},
		{NewInvestigateGapTool(d.Gaps), nil, "gap_id"},
		{NewListGapsTool(d.Gaps), nil, ""},

		// Stats
		{NewVaultStatsTool(d.Store, d.Graph), nil, ""},
		{NewUsageStatsTool(d.Usage), nil, ""},
	}

	for _, e := range entries {
		def := e.tool.Definition()
		err := reg.Register(dispatch.Descriptor{
			Tool:       def,
			Handler:    e.tool.Handle,
			IDParams:   e.idParams,
			QueryParam: e.queryParam,
		})
		if err != nil {
			return fmt.Errorf("registering %s: %w", def.Name, err)
		}
	}
	return nil
}
