// Package diagnose answers "what in the vault fixes this error?".
//
// Troubleshooting runs four strategies concurrently and merges them:
//
//	error_match    0.95  module common_errors contain / are contained in the text
//	problem_match  0.80  module solves_problems, modules from error_match skipped
//	resolved_gap   0.70  resolution of a resolved or promoted gap
//	search         ≤0.60 hybrid text + vector search, matched modules skipped
//
// Without error text the engine runs a vault health check instead.
package diagnose

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/scoring"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
)

// Strategy names the source of a match.
type Strategy string

const (
	StrategyErrorMatch   Strategy = "error_match"
	StrategyProblemMatch Strategy = "problem_match"
	StrategyResolvedGap  Strategy = "resolved_gap"
	StrategySearch       Strategy = "search"
)

const (
	relevanceErrorMatch   = 0.95
	relevanceProblemMatch = 0.8
	relevanceResolvedGap  = 0.7
	searchCeiling         = 0.6
)

// Hint texts returned alongside results.
const (
	HintNoMatch = "Nothing in the vault matches this error. Call report_gap with the error_message so it is tracked, then resolve_gap once you find the fix."
	HintMatched = "Apply the highest-relevance match first. If none of them fixes the error, call report_gap."
	HintHealthy = "No open gaps and no incomplete modules."
	HintHealth  = "Resolve the most-hit gaps first, then fill missing fields on the weakest modules."
)

// Config bounds result sizes.
type Config struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{DefaultLimit: 5, MaxLimit: 20}
}

// QueryEmbedder embeds search text. It returns nil when no vector can be
// produced.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}

// Engine runs diagnostics against the store.
type Engine struct {
	store    *store.Store
	embedder QueryEmbedder
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine. embedder may be nil.
func New(s *store.Store, embedder QueryEmbedder, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg, logger: logger}
}

// Query is one diagnose request.
type Query struct {
	ErrorText string
	Domain    vault.Domain
	Limit     int
}

// Match is one troubleshooting candidate. Module fields are empty for
// resolved_gap matches, which carry the gap's resolution instead.
type Match struct {
	Strategy  Strategy `json:"strategy"`
	Relevance float64  `json:"relevance"`

	ModuleID  string       `json:"module_id,omitempty"`
	Slug      string       `json:"slug,omitempty"`
	Title     string       `json:"title,omitempty"`
	Domain    vault.Domain `json:"domain,omitempty"`
	UsageHint string       `json:"usage_hint,omitempty"`
	Ref       string       `json:"ref,omitempty"`
	MatchedOn string       `json:"matched_on,omitempty"`
	Cause     string       `json:"cause,omitempty"`
	Fix       string       `json:"fix,omitempty"`

	GapID            string `json:"gap_id,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	ResolutionCode   string `json:"resolution_code,omitempty"`
	PromotedModuleID string `json:"promoted_module_id,omitempty"`
}

// Result is the outcome of Diagnose. Mode is "troubleshoot" or "health".
type Result struct {
	Mode      string               `json:"mode"`
	Matches   []Match              `json:"matches,omitempty"`
	Gaps      []vault.KnowledgeGap `json:"open_gaps,omitempty"`
	Unhealthy []scoring.Report     `json:"incomplete_modules,omitempty"`
	Hint      string               `json:"hint"`
}

func (e *Engine) limit(n int) int {
	if n <= 0 {
		return e.cfg.DefaultLimit
	}
	return min(n, e.cfg.MaxLimit)
}

// Diagnose troubleshoots q.ErrorText for viewer, or runs a health check
// when it is empty.
func (e *Engine) Diagnose(ctx context.Context, viewer string, q Query) (*Result, error) {
	if q.Domain != "" {
		if err := vault.ValidateDomain(q.Domain); err != nil {
			return nil, err
		}
	}
	limit := e.limit(q.Limit)
	text := strings.TrimSpace(q.ErrorText)
	if text == "" {
		return e.health(ctx, viewer, q.Domain, limit)
	}
	return e.troubleshoot(ctx, viewer, text, q.Domain, limit)
}

// ─── Troubleshooting ─────────────────────────────────────────────────────────

type strategyRun struct {
	matches []Match
	err     error
}

func (e *Engine) troubleshoot(ctx context.Context, viewer, text string, domain vault.Domain, limit int) (*Result, error) {
	runs := make([]strategyRun, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		runs[0].matches, runs[0].err = e.errorMatches(ctx, viewer, text, domain)
	}()
	go func() {
		defer wg.Done()
		runs[1].matches, runs[1].err = e.problemMatches(ctx, viewer, text, domain)
	}()
	go func() {
		defer wg.Done()
		runs[2].matches, runs[2].err = e.gapMatches(ctx, text, domain, limit)
	}()
	go func() {
		defer wg.Done()
		runs[3].matches, runs[3].err = e.searchMatches(ctx, viewer, text, domain, limit)
	}()
	wg.Wait()

	failed := 0
	for i, r := range runs {
		if r.err != nil {
			failed++
			e.logger.Warn("diagnose strategy failed", "strategy", i+1, "err", r.err)
		}
	}
	if failed == len(runs) {
		return nil, apperr.Internal(runs[0].err, "diagnosis failed")
	}

	matches := merge(runs[0].matches, runs[1].matches, runs[2].matches, runs[3].matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	res := &Result{Mode: "troubleshoot", Matches: matches, Hint: HintMatched}
	if len(matches) == 0 {
		res.Matches = []Match{}
		res.Hint = HintNoMatch
	}
	return res, nil
}

// merge applies cross-strategy module dedup and orders by relevance. The
// sort is stable so equal relevance keeps strategy order.
func merge(errs, problems, gaps, search []Match) []Match {
	seen := make(map[string]bool, len(errs))
	out := make([]Match, 0, len(errs)+len(problems)+len(gaps)+len(search))
	for _, m := range errs {
		seen[m.ModuleID] = true
		out = append(out, m)
	}
	for _, m := range problems {
		if seen[m.ModuleID] {
			continue
		}
		seen[m.ModuleID] = true
		out = append(out, m)
	}
	out = append(out, gaps...)
	for _, m := range search {
		if seen[m.ModuleID] {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

func (e *Engine) errorMatches(ctx context.Context, viewer, text string, domain vault.Domain) ([]Match, error) {
	mods, err := e.store.ScanModules(ctx, store.ScanFilter{Viewer: viewer, Domain: domain, WithErrors: true})
	if err != nil {
		return nil, err
	}
	var out []Match
	for i := range mods {
		m := &mods[i]
		for _, ce := range m.CommonErrors {
			if !contains(text, ce.Error) {
				continue
			}
			match := moduleMatch(m, StrategyErrorMatch, relevanceErrorMatch, ce.Error)
			match.Cause = ce.Cause
			match.Fix = ce.Fix
			out = append(out, match)
			break
		}
	}
	return out, nil
}

func (e *Engine) problemMatches(ctx context.Context, viewer, text string, domain vault.Domain) ([]Match, error) {
	mods, err := e.store.ScanModules(ctx, store.ScanFilter{Viewer: viewer, Domain: domain, WithProblems: true})
	if err != nil {
		return nil, err
	}
	var out []Match
	for i := range mods {
		m := &mods[i]
		for _, p := range m.SolvesProblems {
			if contains(text, p) {
				out = append(out, moduleMatch(m, StrategyProblemMatch, relevanceProblemMatch, p))
				break
			}
		}
	}
	return out, nil
}

func (e *Engine) gapMatches(ctx context.Context, text string, domain vault.Domain, limit int) ([]Match, error) {
	gaps, err := e.store.MatchResolvedGaps(ctx, text, domain, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(gaps))
	for _, g := range gaps {
		out = append(out, Match{
			Strategy:         StrategyResolvedGap,
			Relevance:        relevanceResolvedGap,
			MatchedOn:        g.ErrorMessage,
			GapID:            g.ID,
			Resolution:       g.Resolution,
			ResolutionCode:   g.ResolutionCode,
			PromotedModuleID: g.PromotedModuleID,
		})
	}
	return out, nil
}

func (e *Engine) searchMatches(ctx context.Context, viewer, text string, domain vault.Domain, limit int) ([]Match, error) {
	var vec []float32
	if e.embedder != nil {
		vec = e.embedder.EmbedQuery(ctx, text)
	}
	hits, err := e.store.HybridSearch(ctx, text, vec, store.SearchFilter{Viewer: viewer, Domain: domain, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for i := range hits {
		out = append(out, moduleMatch(&hits[i].Module, StrategySearch, hits[i].Score*searchCeiling, ""))
	}
	return out, nil
}

func moduleMatch(m *vault.Module, s Strategy, relevance float64, on string) Match {
	return Match{
		Strategy:  s,
		Relevance: relevance,
		ModuleID:  m.ID,
		Slug:      m.Slug,
		Title:     m.Title,
		Domain:    m.Domain,
		UsageHint: m.UsageHint,
		Ref:       graph.FetchRef(m.Slug),
		MatchedOn: on,
	}
}

// contains reports whether either string contains the other, ignoring case.
// An empty candidate never matches.
func contains(text, candidate string) bool {
	c := strings.ToLower(strings.TrimSpace(candidate))
	if c == "" {
		return false
	}
	t := strings.ToLower(text)
	return strings.Contains(t, c) || strings.Contains(c, t)
}

// ─── Health check ────────────────────────────────────────────────────────────

func (e *Engine) health(ctx context.Context, viewer string, domain vault.Domain, limit int) (*Result, error) {
	gaps, err := e.store.ListGaps(ctx, store.GapFilter{
		Statuses: []vault.GapStatus{vault.GapOpen, vault.GapInvestigating},
		Domain:   domain,
		Limit:    limit,
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to load gaps")
	}
	mods, err := e.store.ScanModules(ctx, store.ScanFilter{Viewer: viewer, Domain: domain})
	if err != nil {
		return nil, apperr.Internal(err, "failed to load modules")
	}

	unhealthy := []scoring.Report{}
	for _, r := range scoring.Audit(mods, 0) {
		if r.Healthy() {
			break
		}
		unhealthy = append(unhealthy, r)
		if len(unhealthy) == limit {
			break
		}
	}
	if gaps == nil {
		gaps = []vault.KnowledgeGap{}
	}

	res := &Result{Mode: "health", Gaps: gaps, Unhealthy: unhealthy, Hint: HintHealth}
	if len(gaps) == 0 && len(unhealthy) == 0 {
		res.Hint = HintHealthy
	}
	return res, nil
}
