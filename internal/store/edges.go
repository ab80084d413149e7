package store

import (
	"context"
	"fmt"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/vault"
)

// ─── Dependency edges ────────────────────────────────────────────────────────

// Edge is a dependency edge joined with the target module's summary.
type Edge struct {
	ModuleID         string               `json:"module_id"`
	DependsOnID      string               `json:"depends_on_id"`
	DependencyType   vault.DependencyType `json:"dependency_type"`
	TargetSlug       string               `json:"slug"`
	TargetTitle      string               `json:"title"`
	TargetType       vault.ModuleType     `json:"module_type"`
	TargetOrder      int                  `json:"implementation_order"`
	TargetVisibility vault.Visibility     `json:"-"`
	TargetOwner      string               `json:"-"`
	TargetDeprecated bool                 `json:"deprecated,omitempty"`
}

// AddDependency inserts the edge moduleID → dependsOnID. Both modules must
// exist; a duplicate edge is a validation error.
func (s *Store) AddDependency(ctx context.Context, moduleID, dependsOnID string, typ vault.DependencyType) (*vault.Dependency, error) {
	if moduleID == dependsOnID {
		return nil, apperr.Validationf("a module cannot depend on itself")
	}
	for _, id := range []string{moduleID, dependsOnID} {
		ok, err := s.ModuleExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("checking module %s: %w", id, err)
		}
		if !ok {
			return nil, apperr.NotFoundf("module %q not found", id)
		}
	}

	dep := &vault.Dependency{
		ModuleID:       moduleID,
		DependsOnID:    dependsOnID,
		DependencyType: typ,
		CreatedAt:      s.now(),
	}
	_, err := s.execHook(ctx, s.db,
		`INSERT INTO module_dependencies (module_id, depends_on_id, dependency_type, created_at)
		 VALUES (?, ?, ?, ?)`,
		moduleID, dependsOnID, string(typ), formatTime(dep.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Validationf("dependency already exists: %s → %s", moduleID, dependsOnID)
		}
		return nil, fmt.Errorf("creating dependency: %w", err)
	}
	return dep, nil
}

// RemoveDependency deletes the edge moduleID → dependsOnID.
func (s *Store) RemoveDependency(ctx context.Context, moduleID, dependsOnID string) error {
	res, err := s.execHook(ctx, s.db,
		`DELETE FROM module_dependencies WHERE module_id = ? AND depends_on_id = ?`,
		moduleID, dependsOnID,
	)
	if err != nil {
		return fmt.Errorf("deleting dependency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("dependency %s → %s not found", moduleID, dependsOnID)
	}
	return nil
}

// Dependencies returns the outgoing edges of moduleID with target summaries,
// ordered by implementation_order then title.
func (s *Store) Dependencies(ctx context.Context, moduleID string) ([]Edge, error) {
	return s.queryEdges(ctx,
		`SELECT d.module_id, d.depends_on_id, d.dependency_type,
		        t.slug, t.title, t.module_type, t.implementation_order, t.visibility, t.owner_id,
		        t.validation_status = 'deprecated'
		 FROM module_dependencies d
		 JOIN modules t ON t.id = d.depends_on_id
		 WHERE d.module_id = ?
		 ORDER BY t.implementation_order ASC, t.title ASC`,
		moduleID,
	)
}

// Dependents returns the incoming edges of moduleID; the summary fields
// describe the depending module.
func (s *Store) Dependents(ctx context.Context, moduleID string) ([]Edge, error) {
	return s.queryEdges(ctx,
		`SELECT d.module_id, d.depends_on_id, d.dependency_type,
		        t.slug, t.title, t.module_type, t.implementation_order, t.visibility, t.owner_id,
		        t.validation_status = 'deprecated'
		 FROM module_dependencies d
		 JOIN modules t ON t.id = d.module_id
		 WHERE d.depends_on_id = ?
		 ORDER BY t.title ASC`,
		moduleID,
	)
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Edge
	for rows.Next() {
		var (
			e                  Edge
			dtype, ttype, tvis string
		)
		if err := rows.Scan(&e.ModuleID, &e.DependsOnID, &dtype,
			&e.TargetSlug, &e.TargetTitle, &ttype, &e.TargetOrder, &tvis, &e.TargetOwner,
			&e.TargetDeprecated,
		); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		e.DependencyType = vault.DependencyType(dtype)
		e.TargetType = vault.ModuleType(ttype)
		e.TargetVisibility = vault.Visibility(tvis)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DependencyTargets returns modules that are depended upon but depend on
// nothing themselves: the foundations an agent should implement first.
func (s *Store) DependencyTargets(ctx context.Context, viewer string, limit int) ([]vault.Module, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules m
		 WHERE `+visibleClause("m")+`
		   AND m.validation_status != 'deprecated'
		   AND EXISTS (SELECT 1 FROM module_dependencies d WHERE d.depends_on_id = m.id)
		   AND NOT EXISTS (SELECT 1 FROM module_dependencies d WHERE d.module_id = m.id)
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ?`,
		viewer, limit,
	)
}
