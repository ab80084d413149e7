package tools

import (
	"context"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/usage"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── vault_stats ─────────────────────────────────────────────────────────────

// VaultStatsTool handles vault_stats.
type VaultStatsTool struct {
	store *store.Store
	graph *graph.Service
}

// NewVaultStatsTool creates a VaultStatsTool.
func NewVaultStatsTool(s *store.Store, g *graph.Service) *VaultStatsTool {
	return &VaultStatsTool{store: s, graph: g}
}

// Definition returns the tool schema.
func (t *VaultStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("vault_stats",
		mcp.WithDescription("Module counts per domain, gap counts, and the foundation modules most others build on."),
	)
}

// VaultOverview is the vault_stats payload.
type VaultOverview struct {
	*store.VaultStats
	Foundations []graph.Summary `json:"foundations"`
}

// Handle returns the overview.
func (t *VaultStatsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (dispatch.Result, error) {
	viewer := caller(ctx)
	st, err := t.store.Stats(ctx, viewer)
	if err != nil {
		return dispatch.Result{}, apperr.Internal(err, "failed to load stats")
	}
	foundations, err := t.graph.Discover(ctx, viewer, 5)
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := ""
	if st.OpenGaps > 0 {
		hint = "There are open gaps; list_gaps shows the most reported ones."
	}
	return dispatch.Result{Data: VaultOverview{VaultStats: st, Foundations: foundations}, Hint: hint, Count: st.TotalModules}, nil
}

// ─── usage_stats ─────────────────────────────────────────────────────────────

// UsageStatsTool handles usage_stats.
type UsageStatsTool struct {
	usage *usage.Tracker
}

// NewUsageStatsTool creates a UsageStatsTool.
func NewUsageStatsTool(u *usage.Tracker) *UsageStatsTool {
	return &UsageStatsTool{usage: u}
}

// Definition returns the tool schema.
func (t *UsageStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("usage_stats",
		mcp.WithDescription("Tool call counts, error counts and most used modules over a recent window."),
		mcp.WithNumber("window_hours", mcp.Description("Look-back window in hours (default: 168)")),
		mcp.WithBoolean("mine", mcp.Description("Only your own calls (default: true)")),
	)
}

// Handle aggregates usage.
func (t *UsageStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	hours := intArg(req, "window_hours", 168)
	user := ""
	if boolArg(req, "mine", true) {
		user = caller(ctx)
	}
	st, err := t.usage.Stats(ctx, time.Duration(hours)*time.Hour, user)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Data: st, Count: st.TotalEvents}, nil
}
