package graph

import (
	"context"
	"log/slog"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
)

// Service exposes dependency operations with ownership and visibility
// enforced.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(s *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger}
}

// Summary is a short module reference used by listings.
type Summary struct {
	ID                  string               `json:"id"`
	Slug                string               `json:"slug"`
	Title               string               `json:"title"`
	ModuleType          vault.ModuleType     `json:"module_type"`
	Domain              vault.Domain         `json:"domain,omitempty"`
	ImplementationOrder int                  `json:"implementation_order"`
	DependencyType      vault.DependencyType `json:"dependency_type,omitempty"`
	Deprecated          bool                 `json:"deprecated,omitempty"`
	Ref                 string               `json:"ref"`
}

// Dependencies lists both directions of a module's edges.
type Dependencies struct {
	ModuleID   string    `json:"module_id"`
	Slug       string    `json:"slug"`
	DependsOn  []Summary `json:"depends_on"`
	Dependents []Summary `json:"dependents"`
	Required   int       `json:"required"`
}

// AddResult is the outcome of AddDependency.
type AddResult struct {
	Dependency   *vault.Dependency `json:"dependency"`
	CreatesCycle bool              `json:"creates_cycle"`
}

// Export returns the closure of rootID visible to viewer.
func (s *Service) Export(ctx context.Context, viewer, rootID string, maxDepth int) (*Tree, error) {
	return Walk(ctx, s.store, viewer, rootID, maxDepth)
}

// Discover returns foundation modules: depended upon, depending on nothing.
func (s *Service) Discover(ctx context.Context, viewer string, limit int) ([]Summary, error) {
	mods, err := s.store.DependencyTargets(ctx, viewer, limit)
	if err != nil {
		return nil, apperr.Internal(err, "failed to discover modules")
	}
	out := make([]Summary, 0, len(mods))
	for i := range mods {
		m := &mods[i]
		out = append(out, Summary{
			ID:                  m.ID,
			Slug:                m.Slug,
			Title:               m.Title,
			ModuleType:          m.ModuleType,
			Domain:              m.Domain,
			ImplementationOrder: m.ImplementationOrder,
			Ref:                 FetchRef(m.Slug),
		})
	}
	return out, nil
}

// ownedModule loads id and checks owner may mutate it. Foreign and missing
// modules are indistinguishable to the caller.
func (s *Service) ownedModule(ctx context.Context, owner, id string) (*vault.Module, error) {
	m, err := s.store.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != owner {
		return nil, apperr.NotFoundf("module %q not found", id)
	}
	return m, nil
}

func (s *Service) visibleModule(ctx context.Context, viewer, id string) (*vault.Module, error) {
	m, err := s.store.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.VisibleTo(viewer) {
		return nil, apperr.NotFoundf("module %q not found", id)
	}
	return m, nil
}

// AddDependency records that moduleID depends on dependsOnID. The caller
// must own moduleID and be able to read dependsOnID. Cycles are allowed
// and reported.
func (s *Service) AddDependency(ctx context.Context, owner, moduleID, dependsOnID string, typ vault.DependencyType) (*AddResult, error) {
	if typ == "" {
		typ = vault.DependencyRequired
	}
	if err := vault.ValidateDependencyType(typ); err != nil {
		return nil, err
	}
	if _, err := s.ownedModule(ctx, owner, moduleID); err != nil {
		return nil, err
	}
	if _, err := s.visibleModule(ctx, owner, dependsOnID); err != nil {
		return nil, err
	}

	dep, err := s.store.AddDependency(ctx, moduleID, dependsOnID, typ)
	if err != nil {
		return nil, err
	}

	cycle, err := Reachable(ctx, s.store, dependsOnID, moduleID)
	if err != nil {
		s.logger.Warn("cycle check failed", "module_id", moduleID, "depends_on_id", dependsOnID, "err", err)
	}
	if cycle {
		s.logger.Info("dependency closes a cycle", "module_id", moduleID, "depends_on_id", dependsOnID)
	}
	return &AddResult{Dependency: dep, CreatesCycle: cycle}, nil
}

// RemoveDependency deletes an edge from a module the caller owns.
func (s *Service) RemoveDependency(ctx context.Context, owner, moduleID, dependsOnID string) error {
	if _, err := s.ownedModule(ctx, owner, moduleID); err != nil {
		return err
	}
	return s.store.RemoveDependency(ctx, moduleID, dependsOnID)
}

// ListDependencies resolves both directions of a module's edges, hiding
// modules viewer may not read.
func (s *Service) ListDependencies(ctx context.Context, viewer, moduleID string) (*Dependencies, error) {
	m, err := s.visibleModule(ctx, viewer, moduleID)
	if err != nil {
		return nil, err
	}
	out, err := s.dependencies(ctx, viewer, m)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list dependencies")
	}
	return out, nil
}

func (s *Service) dependencies(ctx context.Context, viewer string, m *vault.Module) (*Dependencies, error) {
	deps, err := s.store.Dependencies(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	dependents, err := s.store.Dependents(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	out := &Dependencies{ModuleID: m.ID, Slug: m.Slug, DependsOn: []Summary{}, Dependents: []Summary{}}
	for _, e := range deps {
		if e.TargetVisibility == vault.VisibilityPrivate && e.TargetOwner != viewer {
			continue
		}
		out.DependsOn = append(out.DependsOn, edgeSummary(e.DependsOnID, e))
		if e.DependencyType == vault.DependencyRequired {
			out.Required++
		}
	}
	for _, e := range dependents {
		if e.TargetVisibility == vault.VisibilityPrivate && e.TargetOwner != viewer {
			continue
		}
		out.Dependents = append(out.Dependents, edgeSummary(e.ModuleID, e))
	}
	return out, nil
}

// Neighbours is ListDependencies for a module already loaded and checked.
func (s *Service) Neighbours(ctx context.Context, viewer string, m *vault.Module) (*Dependencies, error) {
	return s.dependencies(ctx, viewer, m)
}

func edgeSummary(id string, e store.Edge) Summary {
	return Summary{
		ID:                  id,
		Slug:                e.TargetSlug,
		Title:               e.TargetTitle,
		ModuleType:          e.TargetType,
		ImplementationOrder: e.TargetOrder,
		DependencyType:      e.DependencyType,
		Deprecated:          e.TargetDeprecated,
		Ref:                 FetchRef(e.TargetSlug),
	}
}
