package tools

import (
	"context"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/modules"
	"github.com/HendryAvila/modvault/internal/scoring"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── validate_module ─────────────────────────────────────────────────────────

// ValidateModuleTool handles validate_module.
type ValidateModuleTool struct {
	modules *modules.Service
}

// NewValidateModuleTool creates a ValidateModuleTool.
func NewValidateModuleTool(m *modules.Service) *ValidateModuleTool {
	return &ValidateModuleTool{modules: m}
}

// Definition returns the tool schema.
func (t *ValidateModuleTool) Definition() mcp.Tool {
	return mcp.NewTool("validate_module",
		mcp.WithDescription("Score how complete a module's documentation is (0-100) and list what is missing."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Module id or slug")),
	)
}

// Handle scores the module.
func (t *ValidateModuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	m, err := t.modules.Get(ctx, caller(ctx), req.GetString("id", ""))
	if err != nil {
		return dispatch.Result{}, err
	}
	r := scoring.Score(m)
	return dispatch.Result{Data: r, Hint: completenessHint(r), Count: 1}, nil
}

// ─── audit_vault ─────────────────────────────────────────────────────────────

// AuditVaultTool handles audit_vault.
type AuditVaultTool struct {
	store *store.Store
}

// NewAuditVaultTool creates an AuditVaultTool.
func NewAuditVaultTool(s *store.Store) *AuditVaultTool {
	return &AuditVaultTool{store: s}
}

// Definition returns the tool schema.
func (t *AuditVaultTool) Definition() mcp.Tool {
	return mcp.NewTool("audit_vault",
		mcp.WithDescription("Score every module you can see and return the weakest ones, with vault-wide averages."),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithBoolean("owned_only", mcp.Description("Only audit modules you own")),
		mcp.WithNumber("limit", mcp.Description("Max modules listed (default: 20)")),
	)
}

// Audit is the audit_vault payload.
type Audit struct {
	Summary scoring.Summary  `json:"summary"`
	Weakest []scoring.Report `json:"weakest"`
}

// Handle audits the vault.
func (t *AuditVaultTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	viewer := caller(ctx)
	domain := vault.Domain(req.GetString("domain", ""))
	if domain != "" {
		if err := vault.ValidateDomain(domain); err != nil {
			return dispatch.Result{}, err
		}
	}
	limit := intArg(req, "limit", 20)
	if limit <= 0 {
		limit = 20
	}

	mods, err := t.store.ScanModules(ctx, store.ScanFilter{Viewer: viewer, Domain: domain})
	if err != nil {
		return dispatch.Result{}, apperr.Internal(err, "failed to load modules")
	}
	if boolArg(req, "owned_only", false) {
		owned := mods[:0]
		for _, m := range mods {
			if m.OwnerID == viewer {
				owned = append(owned, m)
			}
		}
		mods = owned
	}

	reports := scoring.Audit(mods, 0)
	out := Audit{Summary: scoring.Summarize(reports), Weakest: reports}
	if len(out.Weakest) > limit {
		out.Weakest = out.Weakest[:limit]
	}

	hint := "All audited modules meet the completeness threshold."
	if out.Summary.BelowHealth > 0 {
		hint = "Start with the weakest modules; update_module the missing fields."
	}
	return dispatch.Result{Data: out, Hint: hint, Count: len(out.Weakest)}, nil
}
