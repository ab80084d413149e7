package tools

import (
	"context"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// HintCycle warns that a new edge closed a dependency cycle.
const HintCycle = "Warning: this dependency creates a cycle. That is fine for mutual recommended edges; " +
	"for required edges, check the implementation order."

// ─── add_dependency ──────────────────────────────────────────────────────────

// AddDependencyTool handles add_dependency.
type AddDependencyTool struct {
	graph *graph.Service
}

// NewAddDependencyTool creates an AddDependencyTool.
func NewAddDependencyTool(g *graph.Service) *AddDependencyTool {
	return &AddDependencyTool{graph: g}
}

// Definition returns the tool schema.
func (t *AddDependencyTool) Definition() mcp.Tool {
	return mcp.NewTool("add_dependency",
		mcp.WithDescription("Record that module_id depends on depends_on_id. You must own module_id. "+
			"Cycles are allowed but flagged with creates_cycle."),
		mcp.WithString("module_id", mcp.Required(), mcp.Description("Dependent module id or slug")),
		mcp.WithString("depends_on_id", mcp.Required(), mcp.Description("Prerequisite module id or slug")),
		mcp.WithString("dependency_type",
			mcp.Description("required (default) or recommended"),
			mcp.Enum("required", "recommended"),
		),
	)
}

// Handle adds the edge.
func (t *AddDependencyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	res, err := t.graph.AddDependency(ctx, caller(ctx),
		req.GetString("module_id", ""),
		req.GetString("depends_on_id", ""),
		vault.DependencyType(req.GetString("dependency_type", "")),
	)
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := ""
	if res.CreatesCycle {
		hint = HintCycle
	}
	return dispatch.Result{Data: res, Hint: hint, Count: 1}, nil
}

// ─── remove_dependency ───────────────────────────────────────────────────────

// RemoveDependencyTool handles remove_dependency.
type RemoveDependencyTool struct {
	graph *graph.Service
}

// NewRemoveDependencyTool creates a RemoveDependencyTool.
func NewRemoveDependencyTool(g *graph.Service) *RemoveDependencyTool {
	return &RemoveDependencyTool{graph: g}
}

// Definition returns the tool schema.
func (t *RemoveDependencyTool) Definition() mcp.Tool {
	return mcp.NewTool("remove_dependency",
		mcp.WithDescription("Remove a dependency edge from a module you own."),
		mcp.WithString("module_id", mcp.Required()),
		mcp.WithString("depends_on_id", mcp.Required()),
	)
}

// Handle removes the edge.
func (t *RemoveDependencyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	moduleID := req.GetString("module_id", "")
	dependsOnID := req.GetString("depends_on_id", "")
	if err := t.graph.RemoveDependency(ctx, caller(ctx), moduleID, dependsOnID); err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{
		Data:  map[string]any{"module_id": moduleID, "depends_on_id": dependsOnID, "removed": true},
		Count: 1,
	}, nil
}

// ─── list_dependencies ───────────────────────────────────────────────────────

// ListDependenciesTool handles list_dependencies.
type ListDependenciesTool struct {
	graph *graph.Service
}

// NewListDependenciesTool creates a ListDependenciesTool.
func NewListDependenciesTool(g *graph.Service) *ListDependenciesTool {
	return &ListDependenciesTool{graph: g}
}

// Definition returns the tool schema.
func (t *ListDependenciesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_dependencies",
		mcp.WithDescription("List what a module depends on and what depends on it (one level). Use export_tree for the full closure."),
		mcp.WithString("module_id", mcp.Required()),
	)
}

// Handle lists both edge directions.
func (t *ListDependenciesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	deps, err := t.graph.ListDependencies(ctx, caller(ctx), req.GetString("module_id", ""))
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := ""
	if deps.Required > 0 {
		hint = HintFetchRequired
	}
	return dispatch.Result{Data: deps, Hint: hint, Count: len(deps.DependsOn) + len(deps.Dependents)}, nil
}

// ─── export_tree ─────────────────────────────────────────────────────────────

const (
	defaultDiscoverLimit = 20
	maxDiscoverLimit     = 100
)

// ExportTreeTool handles export_tree.
type ExportTreeTool struct {
	graph *graph.Service
}

// NewExportTreeTool creates an ExportTreeTool.
func NewExportTreeTool(g *graph.Service) *ExportTreeTool {
	return &ExportTreeTool{graph: g}
}

// Definition returns the tool schema.
func (t *ExportTreeTool) Definition() mcp.Tool {
	return mcp.NewTool("export_tree",
		mcp.WithDescription("Export a module and everything it transitively depends on, in implementation order "+
			"(deepest prerequisites last by depth; build from the bottom up). "+
			"Without module_id, list foundation modules: depended on, depending on nothing, newest first."),
		mcp.WithString("module_id", mcp.Description("Root module id or slug; omit for discovery")),
		mcp.WithNumber("max_depth", mcp.Description("Traversal depth (default: 10, max: 25)")),
		mcp.WithNumber("limit", mcp.Description("Discovery only: max modules (default: 20, max: 100)")),
		mcp.WithString("format", mcp.Description("json (default) or yaml"), mcp.Enum("json", "yaml")),
	)
}

// Handle exports the closure.
func (t *ExportTreeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	format := req.GetString("format", "json")
	if format != "json" && format != "yaml" {
		return dispatch.Result{}, apperr.Validationf("format must be json or yaml")
	}
	rootID := req.GetString("module_id", "")
	if rootID == "" {
		return t.discover(ctx, req)
	}
	tree, err := t.graph.Export(ctx, caller(ctx), rootID, intArg(req, "max_depth", 0))
	if err != nil {
		return dispatch.Result{}, err
	}

	hint := ""
	if tree.Truncated {
		hint = "The depth bound cut the tree short; raise max_depth to see more."
	}
	if format == "yaml" {
		doc, err := graph.RenderYAML(tree)
		if err != nil {
			return dispatch.Result{}, apperr.Internal(err, "failed to render tree")
		}
		return dispatch.Result{
			Data:  map[string]any{"format": "yaml", "document": doc},
			Hint:  hint,
			Count: len(tree.Nodes),
		}, nil
	}
	return dispatch.Result{Data: tree, Hint: hint, Count: len(tree.Nodes)}, nil
}

// discover lists the viewer's foundation modules.
func (t *ExportTreeTool) discover(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	limit := intArg(req, "limit", defaultDiscoverLimit)
	if limit < 1 || limit > maxDiscoverLimit {
		return dispatch.Result{}, apperr.Validationf("limit must be between 1 and %d", maxDiscoverLimit)
	}
	found, err := t.graph.Discover(ctx, caller(ctx), limit)
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := "Foundations have no prerequisites; implement these first, then export_tree a dependent module."
	if len(found) == 0 {
		hint = "No module is depended on yet. Link modules with add_dependency."
	}
	return dispatch.Result{Data: map[string]any{"foundations": found}, Hint: hint, Count: len(found)}, nil
}
