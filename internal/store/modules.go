package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/embed"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/zeebo/blake3"
)

// ─── Modules ─────────────────────────────────────────────────────────────────

const moduleColumns = `
	m.id, m.slug, m.title, m.description, m.domain, m.module_type, m.language,
	m.code, m.code_example, m.context, m.tags, m.why_it_matters, m.usage_hint,
	m.common_errors, m.solves_problems, m.prerequisites, m.test_code, m.difficulty,
	m.estimated_effort, m.version, m.module_group, m.implementation_order,
	m.validation_status, m.visibility, m.related_modules, m.embedding, m.owner_id,
	m.created_at, m.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanModule(row scanner, extra ...any) (*vault.Module, error) {
	var (
		m                                 vault.Module
		tags, commonErrs, solves, prereqs string
		related, createdAt, updatedAt     string
		domain, mtype, difficulty, status string
		visibility                        string
		embedding                         []byte
	)
	dest := []any{
		&m.ID, &m.Slug, &m.Title, &m.Description, &domain, &mtype, &m.Language,
		&m.Code, &m.CodeExample, &m.Context, &tags, &m.WhyItMatters, &m.UsageHint,
		&commonErrs, &solves, &prereqs, &m.TestCode, &difficulty,
		&m.EstimatedEffort, &m.Version, &m.ModuleGroup, &m.ImplementationOrder,
		&status, &visibility, &related, &embedding, &m.OwnerID,
		&createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	m.Domain = vault.Domain(domain)
	m.ModuleType = vault.ModuleType(mtype)
	m.Difficulty = vault.Difficulty(difficulty)
	m.ValidationStatus = vault.ValidationStatus(status)
	m.Visibility = vault.Visibility(visibility)
	m.Tags = decodeStrings(tags)
	m.SolvesProblems = decodeStrings(solves)
	m.Prerequisites = decodeStrings(prereqs)
	m.RelatedModules = decodeStrings(related)
	m.CommonErrors = []vault.CommonError{}
	_ = json.Unmarshal([]byte(commonErrs), &m.CommonErrors) // best-effort: corrupt column reads as empty
	m.Embedding = embed.DecodeVector(embedding)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

func (s *Store) queryModules(ctx context.Context, query string, args ...any) ([]vault.Module, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []vault.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// CreateModule inserts m, assigning a unique slug derived from its title
// when m.Slug is empty. ID, owner and timestamps must be set by the caller.
func (s *Store) CreateModule(ctx context.Context, m *vault.Module) error {
	return s.insertModule(ctx, s.db, m)
}

func (s *Store) insertModule(ctx context.Context, db interface {
	execer
	queryer
}, m *vault.Module) error {
	base := m.Slug
	if base == "" {
		base = vault.Slugify(m.Title)
	}

	for attempt := 1; attempt <= 50; attempt++ {
		slug := base
		if attempt > 1 {
			slug = base + "-" + strconv.Itoa(attempt)
		}
		_, err := s.execHook(ctx, db,
			`INSERT INTO modules (
				id, slug, title, description, domain, module_type, language,
				code, code_example, context, tags, why_it_matters, usage_hint,
				common_errors, solves_problems, prerequisites, test_code, difficulty,
				estimated_effort, version, module_group, implementation_order,
				validation_status, visibility, related_modules, embedding, embedding_source,
				owner_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, slug, m.Title, m.Description, string(m.Domain), string(m.ModuleType), m.Language,
			m.Code, m.CodeExample, m.Context, encodeJSON(m.Tags), m.WhyItMatters, m.UsageHint,
			encodeJSON(m.CommonErrors), encodeJSON(m.SolvesProblems), encodeJSON(m.Prerequisites), m.TestCode, string(m.Difficulty),
			m.EstimatedEffort, m.Version, m.ModuleGroup, m.ImplementationOrder,
			string(m.ValidationStatus), string(m.Visibility), encodeJSON(m.RelatedModules), embed.EncodeVector(m.Embedding),
			ContentDigest(m.EmbeddingText()), m.OwnerID, formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
		)
		if err == nil {
			m.Slug = slug
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("inserting module: %w", err)
		}
		var taken int
		if qerr := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM modules WHERE id = ?`, m.ID).Scan(&taken); qerr == nil && taken > 0 {
			return apperr.Validationf("module %q already exists", m.ID)
		}
	}
	return apperr.Validationf("could not allocate a unique slug for %q", m.Title)
}

// GetModule returns a module by primary key regardless of visibility.
func (s *Store) GetModule(ctx context.Context, id string) (*vault.Module, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules m WHERE m.id = ?`, id)
	m, err := scanModule(row)
	if err != nil {
		return nil, notFound(err, "module", id)
	}
	return m, nil
}

// GetModuleBySlug returns a module by slug regardless of visibility.
func (s *Store) GetModuleBySlug(ctx context.Context, slug string) (*vault.Module, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules m WHERE m.slug = ?`, slug)
	m, err := scanModule(row)
	if err != nil {
		return nil, notFound(err, "module", slug)
	}
	return m, nil
}

// ResolveSlug maps a slug to its module primary key.
func (s *Store) ResolveSlug(ctx context.Context, slug string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM modules WHERE slug = ?`, slug).Scan(&id)
	if err != nil {
		return "", notFound(err, "module", slug)
	}
	return id, nil
}

// SaveModule overwrites every mutable column of m and bumps updated_at.
// The embedding column is left alone; see SetEmbedding.
func (s *Store) SaveModule(ctx context.Context, m *vault.Module) error {
	m.UpdatedAt = s.now()
	res, err := s.execHook(ctx, s.db,
		`UPDATE modules
		 SET title = ?, description = ?, domain = ?, module_type = ?, language = ?,
		     code = ?, code_example = ?, context = ?, tags = ?, why_it_matters = ?,
		     usage_hint = ?, common_errors = ?, solves_problems = ?, prerequisites = ?,
		     test_code = ?, difficulty = ?, estimated_effort = ?, version = ?,
		     module_group = ?, implementation_order = ?, validation_status = ?,
		     visibility = ?, related_modules = ?, embedding_source = ?, updated_at = ?
		 WHERE id = ?`,
		m.Title, m.Description, string(m.Domain), string(m.ModuleType), m.Language,
		m.Code, m.CodeExample, m.Context, encodeJSON(m.Tags), m.WhyItMatters,
		m.UsageHint, encodeJSON(m.CommonErrors), encodeJSON(m.SolvesProblems), encodeJSON(m.Prerequisites),
		m.TestCode, string(m.Difficulty), m.EstimatedEffort, m.Version,
		m.ModuleGroup, m.ImplementationOrder, string(m.ValidationStatus),
		string(m.Visibility), encodeJSON(m.RelatedModules), ContentDigest(m.EmbeddingText()),
		formatTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating module: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("module %q not found", m.ID)
	}
	return nil
}

// ContentDigest identifies the text an embedding is computed from.
func ContentDigest(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// SetEmbedding stores vec as a module's vector if the module's embedding
// text still digests to source. It reports whether the vector was stored;
// false means the module changed or was hard-deleted while vec was computed.
func (s *Store) SetEmbedding(ctx context.Context, id, source string, vec []float32) (bool, error) {
	res, err := s.execHook(ctx, s.db,
		`UPDATE modules SET embedding = ? WHERE id = ? AND embedding_source = ?`,
		embed.EncodeVector(vec), id, source,
	)
	if err != nil {
		return false, fmt.Errorf("storing embedding: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeprecateModule soft-deletes a module by marking it deprecated.
func (s *Store) DeprecateModule(ctx context.Context, id string) error {
	res, err := s.execHook(ctx, s.db,
		`UPDATE modules SET validation_status = ?, updated_at = ? WHERE id = ?`,
		string(vault.StatusDeprecated), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("deprecating module: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("module %q not found", id)
	}
	return nil
}

// DeleteModule hard-deletes a module. Its dependency edges go with it.
func (s *Store) DeleteModule(ctx context.Context, id string) error {
	res, err := s.execHook(ctx, s.db, `DELETE FROM modules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting module: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("module %q not found", id)
	}
	return nil
}

// ListFilter narrows ListModules.
type ListFilter struct {
	Viewer            string
	Domain            vault.Domain
	ModuleType        vault.ModuleType
	Group             string
	Tag               string
	OwnedOnly         bool
	IncludeDeprecated bool
	Limit             int
	Offset            int
}

// ListModules returns modules visible to the viewer. Grouped listings are
// ordered by implementation_order; everything else newest first.
func (s *Store) ListModules(ctx context.Context, f ListFilter) ([]vault.Module, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > s.cfg.MaxScan {
		limit = s.cfg.MaxScan
	}

	query := `SELECT ` + moduleColumns + ` FROM modules m WHERE ` + visibleClause("m")
	args := []any{f.Viewer}

	if !f.IncludeDeprecated {
		query += " AND m.validation_status != 'deprecated'"
	}
	if f.OwnedOnly {
		query += " AND m.owner_id = ?"
		args = append(args, f.Viewer)
	}
	if f.Domain != "" {
		query += " AND m.domain = ?"
		args = append(args, string(f.Domain))
	}
	if f.ModuleType != "" {
		query += " AND m.module_type = ?"
		args = append(args, string(f.ModuleType))
	}
	if f.Group != "" {
		query += " AND m.module_group = ?"
		args = append(args, f.Group)
	}
	if f.Tag != "" {
		query += " AND EXISTS (SELECT 1 FROM json_each(m.tags) WHERE json_each.value = ?)"
		args = append(args, f.Tag)
	}

	if f.Group != "" {
		query += " ORDER BY m.implementation_order ASC, m.title ASC"
	} else {
		query += " ORDER BY m.created_at DESC, m.id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	return s.queryModules(ctx, query, args...)
}

// ScanFilter narrows ScanModules.
type ScanFilter struct {
	Viewer string
	Domain vault.Domain
	// WithErrors keeps modules documenting at least one common error.
	WithErrors bool
	// WithProblems keeps modules listing at least one solved problem.
	WithProblems bool
}

// ScanModules loads every visible, non-deprecated module matching f, up to
// the configured scan bound, newest first.
func (s *Store) ScanModules(ctx context.Context, f ScanFilter) ([]vault.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules m
		WHERE m.validation_status != 'deprecated' AND ` + visibleClause("m")
	args := []any{f.Viewer}

	if f.Domain != "" {
		query += " AND m.domain = ?"
		args = append(args, string(f.Domain))
	}
	if f.WithErrors && f.WithProblems {
		query += " AND (m.common_errors != '[]' OR m.solves_problems != '[]')"
	} else if f.WithErrors {
		query += " AND m.common_errors != '[]'"
	} else if f.WithProblems {
		query += " AND m.solves_problems != '[]'"
	}
	query += " ORDER BY m.updated_at DESC LIMIT ?"
	args = append(args, s.cfg.MaxScan)

	return s.queryModules(ctx, query, args...)
}

// ModulesByID loads the given modules, keyed by id. Unknown ids are skipped.
func (s *Store) ModulesByID(ctx context.Context, ids []string) (map[string]*vault.Module, error) {
	out := make(map[string]*vault.Module, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw, _ := json.Marshal(ids)
	mods, err := s.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules m
		 WHERE m.id IN (SELECT value FROM json_each(?))`, string(raw))
	if err != nil {
		return nil, err
	}
	for i := range mods {
		out[mods[i].ID] = &mods[i]
	}
	return out, nil
}

// ModuleExists reports whether a module row exists.
func (s *Store) ModuleExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM modules WHERE id = ?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
