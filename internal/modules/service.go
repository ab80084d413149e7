// Package modules implements module mutation and lookup with owner-only
// writes, visibility-filtered reads, and background embedding refresh.
package modules

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/embed"
	"github.com/HendryAvila/modvault/internal/scoring"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/google/uuid"
)

// queryEmbedTimeout bounds the inline embedding of a search query.
const queryEmbedTimeout = 5 * time.Second

// Service owns module reads and writes.
type Service struct {
	store     *store.Store
	embedder  embed.Embedder
	refresher *Refresher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewService creates a Service. embedder may be nil, in which case search
// is text-only and no embeddings are produced.
func NewService(s *store.Store, e embed.Embedder, r *Refresher, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, embedder: e, refresher: r, clock: clk, logger: logger}
}

// NewID returns a time-ordered module id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsID reports whether s has the shape of a primary key rather than a slug.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ─── Create ──────────────────────────────────────────────────────────────────

// CreateInput carries the fields of a new module. Zero values take
// defaults.
type CreateInput struct {
	Title               string
	Description         string
	Domain              vault.Domain
	ModuleType          vault.ModuleType
	Language            string
	Code                string
	CodeExample         string
	Context             string
	Tags                []string
	WhyItMatters        string
	UsageHint           string
	CommonErrors        []vault.CommonError
	SolvesProblems      []string
	Prerequisites       []string
	TestCode            string
	Difficulty          vault.Difficulty
	EstimatedEffort     string
	Version             string
	ModuleGroup         string
	ImplementationOrder int
	Visibility          vault.Visibility
	RelatedModules      []string
}

// Created is the result of Create.
type Created struct {
	Module       *vault.Module  `json:"module"`
	Completeness scoring.Report `json:"completeness"`
}

// Build validates in and returns the module it describes, owned by owner.
// The module is not stored.
func (s *Service) Build(owner string, in CreateInput) (*vault.Module, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validationf("title is required")
	}
	if in.Domain == "" {
		return nil, apperr.Validationf("domain is required")
	}
	if err := vault.ValidateDomain(in.Domain); err != nil {
		return nil, err
	}

	m := &vault.Module{
		ID:                  NewID(),
		Title:               title,
		Description:         in.Description,
		Domain:              in.Domain,
		ModuleType:          or(in.ModuleType, vault.TypeSnippet),
		Language:            in.Language,
		Code:                in.Code,
		CodeExample:         in.CodeExample,
		Context:             in.Context,
		Tags:                vault.NormalizeTags(in.Tags),
		WhyItMatters:        in.WhyItMatters,
		UsageHint:           in.UsageHint,
		CommonErrors:        in.CommonErrors,
		SolvesProblems:      in.SolvesProblems,
		Prerequisites:       in.Prerequisites,
		TestCode:            in.TestCode,
		Difficulty:          or(in.Difficulty, vault.DifficultyIntermediate),
		EstimatedEffort:     in.EstimatedEffort,
		Version:             or(in.Version, vault.DefaultVersion),
		ModuleGroup:         in.ModuleGroup,
		ImplementationOrder: in.ImplementationOrder,
		ValidationStatus:    vault.StatusDraft,
		Visibility:          or(in.Visibility, vault.VisibilityPrivate),
		RelatedModules:      in.RelatedModules,
		OwnerID:             owner,
	}
	if err := vault.ValidateModuleType(m.ModuleType); err != nil {
		return nil, err
	}
	if err := vault.ValidateDifficulty(m.Difficulty); err != nil {
		return nil, err
	}
	if err := vault.ValidateVisibility(m.Visibility); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	return m, nil
}

// Create stores a new draft module owned by owner and schedules its
// embedding.
func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (*Created, error) {
	m, err := s.Build(owner, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateModule(ctx, m); err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to create module")
	}
	s.logger.Info("module created", "module_id", m.ID, "slug", m.Slug, "owner", owner)
	s.refresher.Refresh(ctx, m.ID, m.EmbeddingText())
	return &Created{Module: m, Completeness: scoring.Score(m)}, nil
}

// ─── Read ────────────────────────────────────────────────────────────────────

// Get returns a module by id or slug if viewer may read it.
func (s *Service) Get(ctx context.Context, viewer, idOrSlug string) (*vault.Module, error) {
	var (
		m   *vault.Module
		err error
	)
	if IsID(idOrSlug) {
		m, err = s.store.GetModule(ctx, idOrSlug)
	} else {
		m, err = s.store.GetModuleBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if !m.VisibleTo(viewer) {
		return nil, apperr.NotFoundf("module %q not found", idOrSlug)
	}
	return m, nil
}

// List returns modules visible to viewer.
func (s *Service) List(ctx context.Context, f store.ListFilter) ([]vault.Module, error) {
	if f.Domain != "" {
		if err := vault.ValidateDomain(f.Domain); err != nil {
			return nil, err
		}
	}
	if f.ModuleType != "" {
		if err := vault.ValidateModuleType(f.ModuleType); err != nil {
			return nil, err
		}
	}
	mods, err := s.store.ListModules(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list modules")
	}
	if mods == nil {
		mods = []vault.Module{}
	}
	return mods, nil
}

// SearchResult is the outcome of Search. Mode is "hybrid" when a query
// vector was used and "text" otherwise.
type SearchResult struct {
	Hits []store.SearchHit `json:"hits"`
	Mode string            `json:"mode"`
}

// Search ranks visible modules against query. When the query cannot be
// embedded the search degrades to text-only ranking.
func (s *Service) Search(ctx context.Context, query string, f store.SearchFilter) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validationf("query is required")
	}
	vec := s.EmbedQuery(ctx, query)
	hits, err := s.store.HybridSearch(ctx, query, vec, f)
	if err != nil {
		return nil, apperr.Internal(err, "search failed")
	}
	res := &SearchResult{Hits: hits, Mode: "text"}
	if res.Hits == nil {
		res.Hits = []store.SearchHit{}
	}
	if vec != nil {
		res.Mode = "hybrid"
	}
	return res, nil
}

// EmbedQuery embeds text for search, returning nil when no embedder is
// configured or the provider fails.
func (s *Service) EmbedQuery(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if !errors.Is(err, embed.ErrDisabled) {
			s.logger.Warn("query embedding failed, using text ranking", "err", err)
		}
		return nil
	}
	return vec
}

// ─── Update / delete ─────────────────────────────────────────────────────────

// Updated is the result of Update.
type Updated struct {
	Module       *vault.Module  `json:"module"`
	Touched      []string       `json:"touched"`
	Reembedding  bool           `json:"reembedding"`
	Completeness scoring.Report `json:"completeness"`
}

func (s *Service) owned(ctx context.Context, owner, id string) (*vault.Module, error) {
	m, err := s.store.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != owner {
		return nil, apperr.NotFoundf("module %q not found", id)
	}
	return m, nil
}

// Update applies p to a module owned by owner.
func (s *Service) Update(ctx context.Context, owner, id string, p *vault.Patch) (*Updated, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	touched, reembed := p.Apply(m)
	if len(touched) == 0 {
		return nil, apperr.Validationf("no updatable fields provided")
	}
	if p.Tags.Set {
		m.Tags = vault.NormalizeTags(m.Tags)
	}
	m.Title = strings.TrimSpace(m.Title)

	if err := s.store.SaveModule(ctx, m); err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to update module")
	}
	s.logger.Info("module updated", "module_id", m.ID, "fields", touched)
	if reembed {
		s.refresher.Refresh(ctx, m.ID, m.EmbeddingText())
	}
	return &Updated{Module: m, Touched: touched, Reembedding: reembed, Completeness: scoring.Score(m)}, nil
}

// Deleted is the result of Delete.
type Deleted struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Hard bool   `json:"hard"`
}

// Delete deprecates a module owned by owner, or removes it and its edges
// when hard is set.
func (s *Service) Delete(ctx context.Context, owner, id string, hard bool) (*Deleted, error) {
	m, err := s.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if hard {
		err = s.store.DeleteModule(ctx, m.ID)
	} else {
		err = s.store.DeprecateModule(ctx, m.ID)
	}
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to delete module")
	}
	s.logger.Info("module deleted", "module_id", m.ID, "hard", hard)
	return &Deleted{ID: m.ID, Slug: m.Slug, Hard: hard}, nil
}

func or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}
