package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/vault"
)

// ─── Knowledge gaps ──────────────────────────────────────────────────────────

const gapColumns = `
	g.id, g.error_message, g.context, g.domain, g.tags, g.hit_count, g.status,
	g.resolution, g.resolution_code, g.promoted_module_id, g.reported_by,
	g.resolved_by, g.resolved_at, g.created_at, g.updated_at`

func scanGap(row scanner) (*vault.KnowledgeGap, error) {
	var (
		g                              vault.KnowledgeGap
		domain, tags, status           string
		promoted, resolvedBy, resolved sql.NullString
		createdAt, updatedAt           string
	)
	if err := row.Scan(
		&g.ID, &g.ErrorMessage, &g.Context, &domain, &tags, &g.HitCount, &status,
		&g.Resolution, &g.ResolutionCode, &promoted, &g.ReportedBy,
		&resolvedBy, &resolved, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	g.Domain = vault.Domain(domain)
	g.Tags = decodeStrings(tags)
	g.Status = vault.GapStatus(status)
	g.PromotedModuleID = promoted.String
	g.ResolvedBy = resolvedBy.String
	g.ResolvedAt = parseNullableTime(resolved)
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return &g, nil
}

func (s *Store) queryGaps(ctx context.Context, query string, args ...any) ([]vault.KnowledgeGap, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying gaps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []vault.KnowledgeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning gap: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// ReportGap records g as a new open gap, unless an open or investigating
// gap with the identical error message exists: that gap's hit_count is
// incremented and it is returned with deduplicated=true.
func (s *Store) ReportGap(ctx context.Context, g *vault.KnowledgeGap) (*vault.KnowledgeGap, bool, error) {
	// Two attempts: a concurrent reporter may insert between our lookup and
	// our insert, in which case the partial unique index rejects ours and
	// the second pass takes the increment path.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.bumpActiveGap(ctx, g.ErrorMessage)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}

		now := s.now()
		g.Status = vault.GapOpen
		g.HitCount = 1
		g.CreatedAt = now
		g.UpdatedAt = now
		_, err = s.execHook(ctx, s.db,
			`INSERT INTO knowledge_gaps (id, error_message, context, domain, tags, hit_count, status, reported_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
			g.ID, g.ErrorMessage, g.Context, string(g.Domain), encodeJSON(g.Tags),
			string(vault.GapOpen), g.ReportedBy, formatTime(now), formatTime(now),
		)
		if err == nil {
			return g, false, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("inserting gap: %w", err)
		}
	}
	return nil, false, apperr.Internal(errors.New("gap dedup race did not settle"), "failed to record gap")
}

func (s *Store) bumpActiveGap(ctx context.Context, message string) (*vault.KnowledgeGap, error) {
	res, err := s.execHook(ctx, s.db,
		`UPDATE knowledge_gaps
		 SET hit_count = hit_count + 1, updated_at = ?
		 WHERE error_message = ? AND status IN ('open', 'investigating')`,
		formatTime(s.now()), message,
	)
	if err != nil {
		return nil, fmt.Errorf("incrementing gap: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+gapColumns+` FROM knowledge_gaps g
		 WHERE g.error_message = ? AND g.status IN ('open', 'investigating')`, message)
	g, err := scanGap(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Resolved between the update and the read; report it as new.
		return nil, nil
	}
	return g, err
}

// GetGap returns a gap by id.
func (s *Store) GetGap(ctx context.Context, id string) (*vault.KnowledgeGap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gapColumns+` FROM knowledge_gaps g WHERE g.id = ?`, id)
	g, err := scanGap(row)
	if err != nil {
		return nil, notFound(err, "gap", id)
	}
	return g, nil
}

// UpdateGap persists the lifecycle fields of g. A promoted gap is never
// overwritten, even by a concurrent caller.
func (s *Store) UpdateGap(ctx context.Context, g *vault.KnowledgeGap) error {
	return s.updateGap(ctx, s.db, g)
}

func (s *Store) updateGap(ctx context.Context, db execer, g *vault.KnowledgeGap) error {
	g.UpdatedAt = s.now()
	res, err := s.execHook(ctx, db,
		`UPDATE knowledge_gaps
		 SET status = ?, resolution = ?, resolution_code = ?, promoted_module_id = ?,
		     resolved_by = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status != 'promoted_to_module'`,
		string(g.Status), g.Resolution, g.ResolutionCode, nullableString(g.PromotedModuleID),
		nullableString(g.ResolvedBy), formatNullableTime(g.ResolvedAt), formatTime(g.UpdatedAt),
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating gap: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Validationf("gap %q is missing or already promoted to a module", g.ID)
	}
	return nil
}

// PromoteGap inserts m and marks g promoted to it in one transaction.
// Either both land or neither does.
func (s *Store) PromoteGap(ctx context.Context, g *vault.KnowledgeGap, m *vault.Module) error {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.insertModule(ctx, tx, m); err != nil {
		return err
	}
	g.PromotedModuleID = m.ID
	g.Status = vault.GapPromoted
	if err := s.updateGap(ctx, tx, g); err != nil {
		return err
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GapFilter narrows ListGaps.
type GapFilter struct {
	Statuses []vault.GapStatus
	Domain   vault.Domain
	Limit    int
}

// ListGaps returns gaps ordered by hit_count then recency.
func (s *Store) ListGaps(ctx context.Context, f GapFilter) ([]vault.KnowledgeGap, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + gapColumns + ` FROM knowledge_gaps g WHERE 1 = 1`
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += " AND g.status IN (" + strings.Join(marks, ", ") + ")"
	}
	if f.Domain != "" {
		query += " AND g.domain = ?"
		args = append(args, string(f.Domain))
	}
	query += " ORDER BY g.hit_count DESC, g.updated_at DESC LIMIT ?"
	args = append(args, limit)

	return s.queryGaps(ctx, query, args...)
}

// MatchResolvedGaps returns resolved or promoted gaps whose error message
// contains text, or is contained in it, case-insensitively. Gaps without a
// domain match any domain filter.
func (s *Store) MatchResolvedGaps(ctx context.Context, text string, domain vault.Domain, limit int) ([]vault.KnowledgeGap, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + gapColumns + ` FROM knowledge_gaps g
		WHERE g.status IN ('resolved', 'promoted_to_module')
		  AND g.error_message != ''
		  AND (instr(lower(?), lower(g.error_message)) > 0 OR instr(lower(g.error_message), lower(?)) > 0)`
	args := []any{text, text}
	if domain != "" {
		query += " AND (g.domain = ? OR g.domain = '')"
		args = append(args, string(domain))
	}
	query += " ORDER BY g.hit_count DESC, g.updated_at DESC LIMIT ?"
	args = append(args, limit)

	return s.queryGaps(ctx, query, args...)
}
