// Package gaps manages the knowledge gap lifecycle: report, investigate,
// resolve, and promotion of a resolution into a module.
package gaps

import (
	"context"
	"log/slog"
	"strings"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/modules"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/google/uuid"
)

// maxErrorText bounds stored error messages.
const maxErrorText = 4000

// Manager runs gap lifecycle transitions.
type Manager struct {
	store     *store.Store
	modules   *modules.Service
	refresher *modules.Refresher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewManager creates a Manager. mods builds promoted modules; r refreshes
// their embeddings.
func NewManager(s *store.Store, mods *modules.Service, r *modules.Refresher, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, modules: mods, refresher: r, clock: clk, logger: logger}
}

// ReportInput describes an error nobody could answer.
type ReportInput struct {
	ErrorText string
	Context   string
	Domain    vault.Domain
	Tags      []string
}

// Reported is the result of Report.
type Reported struct {
	Gap          *vault.KnowledgeGap `json:"gap"`
	Deduplicated bool                `json:"deduplicated"`
}

// Report records a gap, or bumps the hit count of the active gap with the
// same error message.
func (m *Manager) Report(ctx context.Context, reporter string, in ReportInput) (*Reported, error) {
	text := strings.TrimSpace(in.ErrorText)
	if text == "" {
		return nil, apperr.Validationf("error_message is required")
	}
	if len(text) > maxErrorText {
		return nil, apperr.Validationf("error_message exceeds %d bytes", maxErrorText)
	}
	if in.Domain != "" {
		if err := vault.ValidateDomain(in.Domain); err != nil {
			return nil, err
		}
	}

	g := &vault.KnowledgeGap{
		ID:           uuid.NewString(),
		ErrorMessage: text,
		Context:      in.Context,
		Domain:       in.Domain,
		Tags:         vault.NormalizeTags(in.Tags),
		ReportedBy:   reporter,
	}
	got, dup, err := m.store.ReportGap(ctx, g)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to record gap")
	}
	if dup {
		m.logger.Info("gap hit", "gap_id", got.ID, "hit_count", got.HitCount)
	} else {
		m.logger.Info("gap reported", "gap_id", got.ID, "reporter", reporter)
	}
	return &Reported{Gap: got, Deduplicated: dup}, nil
}

// Investigate moves an open gap to investigating.
func (m *Manager) Investigate(ctx context.Context, actor, gapID string) (*vault.KnowledgeGap, error) {
	g, err := m.store.GetGap(ctx, gapID)
	if err != nil {
		return nil, err
	}
	if err := vault.CanTransitionGap(g.Status, vault.GapInvestigating); err != nil {
		return nil, err
	}
	g.Status = vault.GapInvestigating
	if err := m.store.UpdateGap(ctx, g); err != nil {
		return nil, err
	}
	m.logger.Info("gap under investigation", "gap_id", g.ID, "actor", actor)
	return g, nil
}

// ResolveInput documents a fix, optionally promoting it into a module.
type ResolveInput struct {
	GapID          string
	Resolution     string
	ResolutionCode string
	Promote        bool
	ModuleTitle    string
	ModuleDomain   vault.Domain
	ModuleTags     []string
}

// Resolved is the result of Resolve.
type Resolved struct {
	Gap    *vault.KnowledgeGap `json:"gap"`
	Module *vault.Module       `json:"module,omitempty"`
}

// Resolve closes a gap. A gap already promoted to a module cannot be
// resolved again.
func (m *Manager) Resolve(ctx context.Context, resolver string, in ResolveInput) (*Resolved, error) {
	resolution := strings.TrimSpace(in.Resolution)
	if resolution == "" {
		return nil, apperr.Validationf("resolution is required")
	}

	g, err := m.store.GetGap(ctx, in.GapID)
	if err != nil {
		return nil, err
	}
	target := vault.GapResolved
	if in.Promote {
		target = vault.GapPromoted
	}
	if err := vault.CanTransitionGap(g.Status, target); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	g.Resolution = resolution
	g.ResolutionCode = in.ResolutionCode
	g.ResolvedBy = resolver
	g.ResolvedAt = &now

	if !in.Promote {
		g.Status = vault.GapResolved
		if err := m.store.UpdateGap(ctx, g); err != nil {
			return nil, err
		}
		m.logger.Info("gap resolved", "gap_id", g.ID, "resolver", resolver)
		return &Resolved{Gap: g}, nil
	}

	title := strings.TrimSpace(in.ModuleTitle)
	if title == "" {
		return nil, apperr.Validationf("module_title is required when promote is set")
	}
	domain := in.ModuleDomain
	if domain == "" {
		domain = g.Domain
	}
	if domain == "" {
		domain = vault.DomainBackend
	}
	tags := in.ModuleTags
	if len(tags) == 0 {
		tags = g.Tags
	}

	mod, err := m.modules.Build(resolver, modules.CreateInput{
		Title:          title,
		Description:    "Fix for: " + g.ErrorMessage,
		Domain:         domain,
		Code:           in.ResolutionCode,
		Context:        g.Context,
		Tags:           tags,
		UsageHint:      resolution,
		SolvesProblems: []string{g.ErrorMessage},
		CommonErrors: []vault.CommonError{{
			Error: g.ErrorMessage,
			Cause: g.Context,
			Fix:   resolution,
		}},
	})
	if err != nil {
		return nil, err
	}

	if err := m.store.PromoteGap(ctx, g, mod); err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to promote gap")
	}
	m.logger.Info("gap promoted", "gap_id", g.ID, "module_id", mod.ID, "slug", mod.Slug)
	m.refresher.Refresh(ctx, mod.ID, mod.EmbeddingText())
	return &Resolved{Gap: g, Module: mod}, nil
}

// ListInput narrows List. An empty Status lists active gaps.
type ListInput struct {
	Status vault.GapStatus
	Domain vault.Domain
	Limit  int
}

// List returns gaps ordered by hit count.
func (m *Manager) List(ctx context.Context, in ListInput) ([]vault.KnowledgeGap, error) {
	f := store.GapFilter{Domain: in.Domain, Limit: in.Limit}
	switch in.Status {
	case "":
		f.Statuses = []vault.GapStatus{vault.GapOpen, vault.GapInvestigating}
	case "all":
	default:
		if err := vault.ValidateGapStatus(in.Status); err != nil {
			return nil, err
		}
		f.Statuses = []vault.GapStatus{in.Status}
	}
	if in.Domain != "" {
		if err := vault.ValidateDomain(in.Domain); err != nil {
			return nil, err
		}
	}
	out, err := m.store.ListGaps(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list gaps")
	}
	if out == nil {
		out = []vault.KnowledgeGap{}
	}
	return out, nil
}
