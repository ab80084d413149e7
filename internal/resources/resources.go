// Package resources implements MCP resource handlers.
//
// Resources provide read-only data the host can pull into context. They use
// URI addressing under modvault://, and module references returned by tools
// (modvault://modules/<slug>) resolve here.
package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatsURI addresses the vault overview.
const StatsURI = "modvault://vault/stats"

// StatsSource reports vault aggregates. *store.Store satisfies it.
type StatsSource interface {
	Stats(ctx context.Context, viewer string) (*store.VaultStats, error)
}

// ModuleSource fetches a module by id or slug. *modules.Service satisfies it.
type ModuleSource interface {
	Get(ctx context.Context, viewer, idOrSlug string) (*vault.Module, error)
}

// Handler serves modvault resources.
type Handler struct {
	stats   StatsSource
	modules ModuleSource
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(stats StatsSource, modules ModuleSource) *Handler {
	return &Handler{stats: stats, modules: modules}
}

// StatsResource returns the MCP resource definition for vault stats.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		StatsURI,
		"Vault Stats",
		mcp.WithResourceDescription("Module counts per domain, dependency and gap totals"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns the vault stats visible to the caller as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := h.stats.Stats(ctx, viewer(ctx))
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}
	return jsonResource(req.Params.URI, st)
}

// ModuleTemplate returns the resource template for module references.
func (h *Handler) ModuleTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		graph.RefScheme+"{slug}",
		"Module",
		mcp.WithTemplateDescription("A module by slug, as referenced in tool results"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleModule returns one module. Unknown or hidden modules come back as
// an error resource rather than a protocol error.
func (h *Handler) HandleModule(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	slug := strings.TrimPrefix(req.Params.URI, graph.RefScheme)
	if slug == "" || slug == req.Params.URI {
		return errorResource(req.Params.URI, "not a module reference"), nil
	}
	m, err := h.modules.Get(ctx, viewer(ctx), slug)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, m)
}
