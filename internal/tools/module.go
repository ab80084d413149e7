package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/modules"
	"github.com/HendryAvila/modvault/internal/scoring"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// Hints shared by module tools.
const (
	HintFetchRequired = "Fetch the required dependencies before implementing this module."
	HintIncomplete    = "Completeness is below %d. Fill in: %s."
	HintComplete      = "Module is well documented."
)

func completenessHint(r scoring.Report) string {
	if r.Healthy() {
		return HintComplete
	}
	return fmt.Sprintf(HintIncomplete, scoring.HealthThreshold, strings.Join(r.MissingFields, ", "))
}

// moduleFieldOptions declares the writable module fields shared by create
// and update.
func moduleFieldOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("description", mcp.Description("One-paragraph summary")),
		mcp.WithString("module_type",
			mcp.Description("Shape of the knowledge (default: snippet)"),
			mcp.Enum("snippet", "full_module", "schema_migration", "architecture_doc", "playbook_phase", "pattern_guide"),
		),
		mcp.WithString("language", mcp.Description("Programming language of code")),
		mcp.WithString("code", mcp.Description("The reusable code")),
		mcp.WithString("code_example", mcp.Description("Short example of the module in use")),
		mcp.WithString("context", mcp.Description("Extended context: constraints, environment, history")),
		mcp.WithArray("tags", mcp.Description("Search tags"), mcp.WithStringItems()),
		mcp.WithString("why_it_matters", mcp.Description("What goes wrong without this module")),
		mcp.WithString("usage_hint", mcp.Description("When and how an agent should apply it")),
		mcp.WithArray("common_errors",
			mcp.Description("Error messages this module fixes"),
			mcp.Items(commonErrorsSchema),
		),
		mcp.WithArray("solves_problems", mcp.Description("Problem statements this module answers"), mcp.WithStringItems()),
		mcp.WithArray("prerequisites", mcp.Description("What must be in place first"), mcp.WithStringItems()),
		mcp.WithString("test_code", mcp.Description("Tests proving the module works")),
		mcp.WithString("difficulty", mcp.Enum("beginner", "intermediate", "advanced")),
		mcp.WithString("estimated_effort", mcp.Description("e.g. '30 minutes'")),
		mcp.WithString("version", mcp.Description("Semantic version (default: 0.1.0)")),
		mcp.WithString("module_group", mcp.Description("Bundle name for ordered multi-module sets")),
		mcp.WithNumber("implementation_order", mcp.Description("Position inside module_group")),
		mcp.WithString("visibility",
			mcp.Description("private (owner only, default), shared or global"),
			mcp.Enum("private", "shared", "global"),
		),
		mcp.WithArray("related_modules", mcp.Description("Ids or slugs of related modules"), mcp.WithStringItems()),
	}
}

// ─── create_module ───────────────────────────────────────────────────────────

// CreateModuleTool handles create_module.
type CreateModuleTool struct {
	modules *modules.Service
}

// NewCreateModuleTool creates a CreateModuleTool.
func NewCreateModuleTool(m *modules.Service) *CreateModuleTool {
	return &CreateModuleTool{modules: m}
}

// Definition returns the tool schema.
func (t *CreateModuleTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Save a reusable module: code plus the context an agent needs to apply it. " +
			"New modules are drafts, private to you unless visibility says otherwise. " +
			"Fill why_it_matters, usage_hint, common_errors and solves_problems so diagnose can find it."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short, searchable title")),
		mcp.WithString("domain", mcp.Required(), mcp.Enum(domainEnum()...)),
	}
	return mcp.NewTool("create_module", append(opts, moduleFieldOptions()...)...)
}

// Handle creates the module.
func (t *CreateModuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	in := modules.CreateInput{
		Title:               req.GetString("title", ""),
		Description:         req.GetString("description", ""),
		Domain:              vault.Domain(req.GetString("domain", "")),
		ModuleType:          vault.ModuleType(req.GetString("module_type", "")),
		Language:            req.GetString("language", ""),
		Code:                req.GetString("code", ""),
		CodeExample:         req.GetString("code_example", ""),
		Context:             req.GetString("context", ""),
		WhyItMatters:        req.GetString("why_it_matters", ""),
		UsageHint:           req.GetString("usage_hint", ""),
		TestCode:            req.GetString("test_code", ""),
		Difficulty:          vault.Difficulty(req.GetString("difficulty", "")),
		EstimatedEffort:     req.GetString("estimated_effort", ""),
		Version:             req.GetString("version", ""),
		ModuleGroup:         req.GetString("module_group", ""),
		ImplementationOrder: intArg(req, "implementation_order", 0),
		Visibility:          vault.Visibility(req.GetString("visibility", "")),
	}
	var err error
	if in.Tags, err = stringsArg(req, "tags"); err != nil {
		return dispatch.Result{}, err
	}
	if in.CommonErrors, err = commonErrorsArg(req, "common_errors"); err != nil {
		return dispatch.Result{}, err
	}
	if in.SolvesProblems, err = stringsArg(req, "solves_problems"); err != nil {
		return dispatch.Result{}, err
	}
	if in.Prerequisites, err = stringsArg(req, "prerequisites"); err != nil {
		return dispatch.Result{}, err
	}
	if in.RelatedModules, err = stringsArg(req, "related_modules"); err != nil {
		return dispatch.Result{}, err
	}

	created, err := t.modules.Create(ctx, caller(ctx), in)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Data: created, Hint: completenessHint(created.Completeness), Count: 1}, nil
}

// ─── get_module ──────────────────────────────────────────────────────────────

// GetModuleTool handles get_module.
type GetModuleTool struct {
	modules *modules.Service
	graph   *graph.Service
}

// NewGetModuleTool creates a GetModuleTool.
func NewGetModuleTool(m *modules.Service, g *graph.Service) *GetModuleTool {
	return &GetModuleTool{modules: m, graph: g}
}

// Definition returns the tool schema.
func (t *GetModuleTool) Definition() mcp.Tool {
	return mcp.NewTool("get_module",
		mcp.WithDescription("Fetch one module by id or slug, with its dependencies and completeness."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Module id or slug")),
		mcp.WithString("detail_level",
			mcp.Description("summary (no code), standard (default, no test code) or full"),
			mcp.Enum(DetailLevelValues()...),
		),
	)
}

// ModuleView is a module with its graph neighbourhood.
type ModuleView struct {
	Module       *vault.Module       `json:"module"`
	Dependencies *graph.Dependencies `json:"dependencies"`
	Completeness scoring.Report      `json:"completeness"`
	DetailLevel  string              `json:"detail_level"`
	// EstimatedTokens is the size of the full module, whatever the level.
	EstimatedTokens int `json:"estimated_tokens"`
}

// Handle returns the module.
func (t *GetModuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	viewer := caller(ctx)
	m, err := t.modules.Get(ctx, viewer, req.GetString("id", ""))
	if err != nil {
		return dispatch.Result{}, err
	}
	deps, err := t.graph.Neighbours(ctx, viewer, m)
	if err != nil {
		return dispatch.Result{}, err
	}
	level := ParseDetailLevel(req.GetString("detail_level", ""))
	view := ModuleView{
		Module:          withDetail(m, level),
		Dependencies:    deps,
		Completeness:    scoring.Score(m),
		DetailLevel:     level,
		EstimatedTokens: moduleTokens(m),
	}
	view.Completeness.Checks = nil

	hint := ""
	if deps.Required > 0 {
		hint = HintFetchRequired
	} else if !view.Completeness.Healthy() {
		hint = completenessHint(view.Completeness)
	}
	return dispatch.Result{Data: view, Hint: hint, Count: 1}, nil
}

// ─── update_module ───────────────────────────────────────────────────────────

// UpdateModuleTool handles update_module.
type UpdateModuleTool struct {
	modules *modules.Service
}

// NewUpdateModuleTool creates an UpdateModuleTool.
func NewUpdateModuleTool(m *modules.Service) *UpdateModuleTool {
	return &UpdateModuleTool{modules: m}
}

// Definition returns the tool schema.
func (t *UpdateModuleTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Update fields of a module you own. Only the fields you send change. " +
			"Set validation_status to validated once the module is proven, or back to draft to restore a soft-deleted module."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Module id or slug")),
		mcp.WithString("title"),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithString("validation_status", mcp.Enum("draft", "validated", "deprecated")),
	}
	return mcp.NewTool("update_module", append(opts, moduleFieldOptions()...)...)
}

// Handle applies the patch.
func (t *UpdateModuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	p, err := patchFrom(req)
	if err != nil {
		return dispatch.Result{}, err
	}
	updated, err := t.modules.Update(ctx, caller(ctx), req.GetString("id", ""), p)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Data: updated, Hint: completenessHint(updated.Completeness), Count: 1}, nil
}

func patchFrom(req mcp.CallToolRequest) (*vault.Patch, error) {
	p := &vault.Patch{}
	setString := func(key string, f *vault.Field[string]) {
		if has(req, key) {
			*f = vault.Some(req.GetString(key, ""))
		}
	}
	setString("title", &p.Title)
	setString("description", &p.Description)
	setString("language", &p.Language)
	setString("code", &p.Code)
	setString("code_example", &p.CodeExample)
	setString("context", &p.Context)
	setString("why_it_matters", &p.WhyItMatters)
	setString("usage_hint", &p.UsageHint)
	setString("test_code", &p.TestCode)
	setString("estimated_effort", &p.EstimatedEffort)
	setString("version", &p.Version)
	setString("module_group", &p.ModuleGroup)

	if has(req, "domain") {
		p.Domain = vault.Some(vault.Domain(req.GetString("domain", "")))
	}
	if has(req, "module_type") {
		p.ModuleType = vault.Some(vault.ModuleType(req.GetString("module_type", "")))
	}
	if has(req, "difficulty") {
		p.Difficulty = vault.Some(vault.Difficulty(req.GetString("difficulty", "")))
	}
	if has(req, "validation_status") {
		p.ValidationStatus = vault.Some(vault.ValidationStatus(req.GetString("validation_status", "")))
	}
	if has(req, "visibility") {
		p.Visibility = vault.Some(vault.Visibility(req.GetString("visibility", "")))
	}
	if has(req, "implementation_order") {
		p.ImplementationOrder = vault.Some(intArg(req, "implementation_order", 0))
	}

	lists := []struct {
		key string
		dst *vault.Field[[]string]
	}{
		{"tags", &p.Tags},
		{"solves_problems", &p.SolvesProblems},
		{"prerequisites", &p.Prerequisites},
		{"related_modules", &p.RelatedModules},
	}
	for _, l := range lists {
		if !has(req, l.key) {
			continue
		}
		v, err := stringsArg(req, l.key)
		if err != nil {
			return nil, err
		}
		if v == nil {
			v = []string{}
		}
		*l.dst = vault.Some(v)
	}
	if has(req, "common_errors") {
		v, err := commonErrorsArg(req, "common_errors")
		if err != nil {
			return nil, err
		}
		if v == nil {
			v = []vault.CommonError{}
		}
		p.CommonErrors = vault.Some(v)
	}
	return p, nil
}

// ─── delete_module ───────────────────────────────────────────────────────────

// DeleteModuleTool handles delete_module.
type DeleteModuleTool struct {
	modules *modules.Service
}

// NewDeleteModuleTool creates a DeleteModuleTool.
func NewDeleteModuleTool(m *modules.Service) *DeleteModuleTool {
	return &DeleteModuleTool{modules: m}
}

// Definition returns the tool schema.
func (t *DeleteModuleTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_module",
		mcp.WithDescription("Delete a module you own. By default it is deprecated (reversible with update_module); "+
			"hard=true removes it and its dependency edges permanently."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Module id or slug")),
		mcp.WithBoolean("hard", mcp.Description("Remove permanently (default: false)")),
	)
}

// Handle deletes the module.
func (t *DeleteModuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	hard := boolArg(req, "hard", false)
	deleted, err := t.modules.Delete(ctx, caller(ctx), req.GetString("id", ""), hard)
	if err != nil {
		return dispatch.Result{}, err
	}
	hint := "Module deprecated. Restore it with update_module validation_status=draft."
	if hard {
		hint = "Module and its dependency edges were removed."
	}
	return dispatch.Result{Data: deleted, Hint: hint, Count: 1}, nil
}

// ─── list_modules ────────────────────────────────────────────────────────────

// ListModulesTool handles list_modules.
type ListModulesTool struct {
	modules *modules.Service
}

// NewListModulesTool creates a ListModulesTool.
func NewListModulesTool(m *modules.Service) *ListModulesTool {
	return &ListModulesTool{modules: m}
}

// Definition returns the tool schema.
func (t *ListModulesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_modules",
		mcp.WithDescription("List modules you can see. Filtering by module_group returns the bundle in implementation order."),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithString("module_type"),
		mcp.WithString("module_group"),
		mcp.WithString("tag"),
		mcp.WithBoolean("owned_only", mcp.Description("Only modules you own")),
		mcp.WithBoolean("include_deprecated"),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 20)")),
		mcp.WithNumber("offset"),
	)
}

// ModuleSummary is the listing shape of a module.
type ModuleSummary struct {
	ID                  string                 `json:"id"`
	Slug                string                 `json:"slug"`
	Title               string                 `json:"title"`
	Domain              vault.Domain           `json:"domain"`
	ModuleType          vault.ModuleType       `json:"module_type"`
	ModuleGroup         string                 `json:"module_group,omitempty"`
	ImplementationOrder int                    `json:"implementation_order,omitempty"`
	ValidationStatus    vault.ValidationStatus `json:"validation_status"`
	Visibility          vault.Visibility       `json:"visibility"`
	Tags                []string               `json:"tags"`
	Score               int                    `json:"completeness"`
}

func summarize(m *vault.Module) ModuleSummary {
	return ModuleSummary{
		ID:                  m.ID,
		Slug:                m.Slug,
		Title:               m.Title,
		Domain:              m.Domain,
		ModuleType:          m.ModuleType,
		ModuleGroup:         m.ModuleGroup,
		ImplementationOrder: m.ImplementationOrder,
		ValidationStatus:    m.ValidationStatus,
		Visibility:          m.Visibility,
		Tags:                m.Tags,
		Score:               scoring.Score(m).Score,
	}
}

// Handle lists modules.
func (t *ListModulesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	mods, err := t.modules.List(ctx, store.ListFilter{
		Viewer:            caller(ctx),
		Domain:            vault.Domain(req.GetString("domain", "")),
		ModuleType:        vault.ModuleType(req.GetString("module_type", "")),
		Group:             req.GetString("module_group", ""),
		Tag:               strings.ToLower(strings.TrimSpace(req.GetString("tag", ""))),
		OwnedOnly:         boolArg(req, "owned_only", false),
		IncludeDeprecated: boolArg(req, "include_deprecated", false),
		Limit:             intArg(req, "limit", 20),
		Offset:            intArg(req, "offset", 0),
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	out := make([]ModuleSummary, 0, len(mods))
	for i := range mods {
		out = append(out, summarize(&mods[i]))
	}
	hint := ""
	if len(out) == 0 {
		hint = "No modules match. Try search_modules or drop a filter."
	}
	return dispatch.Result{Data: out, Hint: hint, Count: len(out)}, nil
}

// ─── search_modules ──────────────────────────────────────────────────────────

// SearchModulesTool handles search_modules.
type SearchModulesTool struct {
	modules *modules.Service
}

// NewSearchModulesTool creates a SearchModulesTool.
func NewSearchModulesTool(m *modules.Service) *SearchModulesTool {
	return &SearchModulesTool{modules: m}
}

// Definition returns the tool schema.
func (t *SearchModulesTool) Definition() mcp.Tool {
	return mcp.NewTool("search_modules",
		mcp.WithDescription("Search modules by meaning and keywords. For error messages prefer diagnose."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language or keywords")),
		mcp.WithString("domain", mcp.Enum(domainEnum()...)),
		mcp.WithString("module_type"),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 10)")),
	)
}

// SearchHit is one search result.
type SearchHit struct {
	ModuleSummary
	Relevance float64 `json:"relevance"`
	Ref       string  `json:"ref"`
}

// Handle runs the search.
func (t *SearchModulesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (dispatch.Result, error) {
	domain := vault.Domain(req.GetString("domain", ""))
	if domain != "" {
		if err := vault.ValidateDomain(domain); err != nil {
			return dispatch.Result{}, err
		}
	}
	res, err := t.modules.Search(ctx, req.GetString("query", ""), store.SearchFilter{
		Viewer:     caller(ctx),
		Domain:     domain,
		ModuleType: vault.ModuleType(req.GetString("module_type", "")),
		Limit:      intArg(req, "limit", 10),
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	hits := make([]SearchHit, 0, len(res.Hits))
	for i := range res.Hits {
		h := &res.Hits[i]
		hits = append(hits, SearchHit{
			ModuleSummary: summarize(&h.Module),
			Relevance:     h.Score,
			Ref:           graph.FetchRef(h.Module.Slug),
		})
	}
	data := map[string]any{"mode": res.Mode, "results": hits}
	hint := ""
	if len(hits) == 0 {
		hint = "No match. If you are fixing an error, call diagnose; if nothing helps, report_gap."
	}
	return dispatch.Result{Data: data, Hint: hint, Count: len(hits)}, nil
}
