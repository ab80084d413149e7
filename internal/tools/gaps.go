package tools

import (
	"context"

	"github.com/HendryAvila/modvault/internal/diagnose"
	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/gaps"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── diagnose ────────────────────────────────────────────────────────────────

// DiagnoseTool handles diagnose.
type DiagnoseTool struct {
	engine *diagnose.Engine
}

// NewDiagnoseTool creates a DiagnoseTool.
func NewDiagnoseTool(e *diagnose.Engine) *DiagnoseTool {
	return &DiagnoseTool{engine: e}
}

// Definition returns the tool schema.
func (t *DiagnoseTool) Definition() mcp.Tool {
	return mcp.NewTool("diagnose",
		mcp.WithDescription("Call this FIRST when you hit an error. Finds modules and past resolutions that fix it, "+
			"best match first. Without error_message it runs a vault health check."),
		mcp.WithString("error_message", mcp.Description("The error text, verbatim")),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 5)")),
	)
}

// Handle runs the diagnosis.
func (t *DiagnoseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	res, err := t.engine.Diagnose(ctx, caller(ctx), diagnose.Query{
		ErrorText: req.GetString("error_message", ""),
		Domain:    vault.Domain(req.GetString("domain", "")),
		Limit:     intArg(req, "limit", 0),
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	n := len(res.Matches)
	if res.Mode == "health" {
		n = len(res.Gaps) + len(res.Unhealthy)
	}
	return dispatch.Result{Data: res, Hint: res.Hint, Count: n}, nil
}

// ─── report_gap ──────────────────────────────────────────────────────────────

// ReportGapTool handles report_gap.
type ReportGapTool struct {
	gaps *gaps.Manager
}

// NewReportGapTool creates a ReportGapTool.
func NewReportGapTool(m *gaps.Manager) *ReportGapTool {
	return &ReportGapTool{gaps: m}
}

// Definition returns the tool schema.
func (t *ReportGapTool) Definition() mcp.Tool {
	return mcp.NewTool("report_gap",
		mcp.WithDescription("Report an error the vault could not answer. Identical open reports are merged and counted."),
		mcp.WithString("error_message", mcp.Required(), mcp.Description("The error text, verbatim")),
		mcp.WithString("context", mcp.Description("What you were doing, environment, what you tried")),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithArray("tags", mcp.WithStringItems()),
	)
}

// Handle records the gap.
func (t *ReportGapTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	tags, err := stringsArg(req, "tags")
	if err != nil {
		return dispatch.Result{}, err
	}
	rep, err := t.gaps.Report(ctx, caller(ctx), gaps.ReportInput{
		ErrorText: req.GetString("error_message", ""),
		Context:   req.GetString("context", ""),
		Domain:    vault.Domain(req.GetString("domain", "")),
		Tags:      tags,
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := "Gap recorded. Once you find the fix, call resolve_gap with promote=true to turn it into a module."
	if rep.Deduplicated {
		hint = "This gap was already reported; its hit count went up. Resolving it helps everyone who hits it."
	}
	return dispatch.Result{Data: rep, Hint: hint, Count: 1}, nil
}

// ─── resolve_gap ─────────────────────────────────────────────────────────────

// ResolveGapTool handles resolve_gap.
type ResolveGapTool struct {
	gaps *gaps.Manager
}

// NewResolveGapTool creates a ResolveGapTool.
func NewResolveGapTool(m *gaps.Manager) *ResolveGapTool {
	return &ResolveGapTool{gaps: m}
}

// Definition returns the tool schema.
func (t *ResolveGapTool) Definition() mcp.Tool {
	return mcp.NewTool("resolve_gap",
		mcp.WithDescription("Document the fix for a gap. With promote=true the fix becomes a draft module "+
			"that diagnose will find next time. A promoted gap cannot change again."),
		mcp.WithString("gap_id", mcp.Required()),
		mcp.WithString("resolution", mcp.Required(), mcp.Description("What fixed it")),
		mcp.WithString("resolution_code", mcp.Description("Code of the fix")),
		mcp.WithBoolean("promote", mcp.Description("Create a module from this resolution")),
		mcp.WithString("module_title", mcp.Description("Title of the promoted module (required with promote)")),
		mcp.WithString("module_domain", mcp.Enum(domainEnum()...)),
		mcp.WithArray("module_tags", mcp.WithStringItems()),
	)
}

// Handle resolves the gap.
func (t *ResolveGapTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	tags, err := stringsArg(req, "module_tags")
	if err != nil {
		return dispatch.Result{}, err
	}
	res, err := t.gaps.Resolve(ctx, caller(ctx), gaps.ResolveInput{
		GapID:          req.GetString("gap_id", ""),
		Resolution:     req.GetString("resolution", ""),
		ResolutionCode: req.GetString("resolution_code", ""),
		Promote:        boolArg(req, "promote", false),
		ModuleTitle:    req.GetString("module_title", ""),
		ModuleDomain:   vault.Domain(req.GetString("module_domain", "")),
		ModuleTags:     tags,
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := "Gap resolved. Consider promote=true so the fix becomes a reusable module."
	if res.Module != nil {
		hint = "Module " + res.Module.Slug + " created as a draft. Add why_it_matters and a code_example with update_module."
	}
	return dispatch.Result{Data: res, Hint: hint, Count: 1}, nil
}

// ─── investigate_gap ─────────────────────────────────────────────────────────

// InvestigateGapTool handles investigate_gap.
type InvestigateGapTool struct {
	gaps *gaps.Manager
}

// NewInvestigateGapTool creates an InvestigateGapTool.
func NewInvestigateGapTool(m *gaps.Manager) *InvestigateGapTool {
	return &InvestigateGapTool{gaps: m}
}

// Definition returns the tool schema.
func (t *InvestigateGapTool) Definition() mcp.Tool {
	return mcp.NewTool("investigate_gap",
		mcp.WithDescription("Mark an open gap as being investigated so others know someone is on it."),
		mcp.WithString("gap_id", mcp.Required()),
	)
}

// Handle moves the gap to investigating.
func (t *InvestigateGapTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	g, err := t.gaps.Investigate(ctx, caller(ctx), req.GetString("gap_id", ""))
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Data: g, Hint: "Call resolve_gap when you have the fix.", Count: 1}, nil
}

// ─── list_gaps ───────────────────────────────────────────────────────────────

// ListGapsTool handles list_gaps.
type ListGapsTool struct {
	gaps *gaps.Manager
}

// NewListGapsTool creates a ListGapsTool.
func NewListGapsTool(m *gaps.Manager) *ListGapsTool {
	return &ListGapsTool{gaps: m}
}

// Definition returns the tool schema.
func (t *ListGapsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_gaps",
		mcp.WithDescription("List knowledge gaps, most reported first. Defaults to open and investigating gaps."),
		mcp.WithString("status",
			mcp.Description("open, investigating, resolved, promoted_to_module or all"),
			mcp.Enum("open", "investigating", "resolved", "promoted_to_module", "all"),
		),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 20)")),
	)
}

// Handle lists gaps.
func (t *ListGapsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	list, err := t.gaps.List(ctx, gaps.ListInput{
		Status: vault.GapStatus(req.GetString("status", "")),
		Domain: vault.Domain(req.GetString("domain", "")),
		Limit:  intArg(req, "limit", 20),
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Data: list, Count: len(list)}, nil
}
