// Package store implements the persistent module knowledge graph on
// SQLite with FTS5 full-text search.
//
// Modules, dependency edges, knowledge gaps, usage events, API keys and
// rate-limit counters all live in one database file opened in WAL mode.
// Every method takes a context and is safe for concurrent use; no
// in-process locks guard domain state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
	// MaxScan bounds how many modules a full scan (diagnostics, audits,
	// vector ranking) may load.
	MaxScan int
	Clock   clock.Clock
}

// DefaultConfig returns the default configuration for the store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".modvault"),
		MaxScan: 2000,
		Clock:   clock.Real(),
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent knowledge graph backed by SQLite + FTS5.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New creates a Store. It creates the data directory if needed, opens
// SQLite with WAL mode, and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MaxScan <= 0 {
		cfg.MaxScan = 2000
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	// Pragmas ride on the DSN so every pooled connection gets them;
	// foreign_keys in particular is per-connection.
	dbPath := filepath.Join(cfg.DataDir, "modvault.db")
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) now() time.Time {
	return s.cfg.Clock.Now().UTC()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS modules (
			id                   TEXT PRIMARY KEY,
			slug                 TEXT    NOT NULL UNIQUE,
			title                TEXT    NOT NULL,
			description          TEXT    NOT NULL DEFAULT '',
			domain               TEXT    NOT NULL,
			module_type          TEXT    NOT NULL DEFAULT 'snippet',
			language             TEXT    NOT NULL DEFAULT '',
			code                 TEXT    NOT NULL DEFAULT '',
			code_example         TEXT    NOT NULL DEFAULT '',
			context              TEXT    NOT NULL DEFAULT '',
			tags                 TEXT    NOT NULL DEFAULT '[]',
			why_it_matters       TEXT    NOT NULL DEFAULT '',
			usage_hint           TEXT    NOT NULL DEFAULT '',
			common_errors        TEXT    NOT NULL DEFAULT '[]',
			solves_problems      TEXT    NOT NULL DEFAULT '[]',
			prerequisites        TEXT    NOT NULL DEFAULT '[]',
			test_code            TEXT    NOT NULL DEFAULT '',
			difficulty           TEXT    NOT NULL DEFAULT 'intermediate',
			estimated_effort     TEXT    NOT NULL DEFAULT '',
			version              TEXT    NOT NULL DEFAULT '0.1.0',
			module_group         TEXT    NOT NULL DEFAULT '',
			implementation_order INTEGER NOT NULL DEFAULT 0,
			validation_status    TEXT    NOT NULL DEFAULT 'draft',
			visibility           TEXT    NOT NULL DEFAULT 'private',
			related_modules      TEXT    NOT NULL DEFAULT '[]',
			embedding            BLOB,
			embedding_source     TEXT    NOT NULL DEFAULT '',
			owner_id             TEXT    NOT NULL,
			created_at           TEXT    NOT NULL,
			updated_at           TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_modules_domain  ON modules(domain, validation_status);
		CREATE INDEX IF NOT EXISTS idx_modules_owner   ON modules(owner_id);
		CREATE INDEX IF NOT EXISTS idx_modules_group   ON modules(module_group, implementation_order);
		CREATE INDEX IF NOT EXISTS idx_modules_created ON modules(created_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS modules_fts USING fts5(
			title,
			description,
			why_it_matters,
			usage_hint,
			tags,
			solves_problems,
			common_errors,
			code,
			content='modules',
			content_rowid='rowid'
		);

		CREATE TABLE IF NOT EXISTS module_dependencies (
			module_id       TEXT NOT NULL,
			depends_on_id   TEXT NOT NULL,
			dependency_type TEXT NOT NULL DEFAULT 'required',
			created_at      TEXT NOT NULL,
			PRIMARY KEY (module_id, depends_on_id),
			FOREIGN KEY (module_id)     REFERENCES modules(id) ON DELETE CASCADE,
			FOREIGN KEY (depends_on_id) REFERENCES modules(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_deps_target ON module_dependencies(depends_on_id);

		CREATE TABLE IF NOT EXISTS knowledge_gaps (
			id                 TEXT PRIMARY KEY,
			error_message      TEXT    NOT NULL,
			context            TEXT    NOT NULL DEFAULT '',
			domain             TEXT    NOT NULL DEFAULT '',
			tags               TEXT    NOT NULL DEFAULT '[]',
			hit_count          INTEGER NOT NULL DEFAULT 1,
			status             TEXT    NOT NULL DEFAULT 'open',
			resolution         TEXT    NOT NULL DEFAULT '',
			resolution_code    TEXT    NOT NULL DEFAULT '',
			promoted_module_id TEXT,
			reported_by        TEXT    NOT NULL,
			resolved_by        TEXT,
			resolved_at        TEXT,
			created_at         TEXT    NOT NULL,
			updated_at         TEXT    NOT NULL,
			FOREIGN KEY (promoted_module_id) REFERENCES modules(id) ON DELETE SET NULL
		);

		CREATE INDEX IF NOT EXISTS idx_gaps_status ON knowledge_gaps(status, hit_count DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_gaps_active_message
			ON knowledge_gaps(error_message) WHERE status IN ('open', 'investigating');

		CREATE TABLE IF NOT EXISTS usage_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type   TEXT    NOT NULL,
			tool_name    TEXT    NOT NULL,
			module_id    TEXT,
			query_text   TEXT,
			result_count INTEGER NOT NULL DEFAULT 0,
			user_id      TEXT    NOT NULL,
			key_id       TEXT    NOT NULL DEFAULT '',
			created_at   TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_tool    ON usage_events(tool_name, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_events(created_at DESC);

		CREATE TABLE IF NOT EXISTS key_secrets (
			id         TEXT PRIMARY KEY,
			digest     BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			owner_id     TEXT NOT NULL,
			prefix       TEXT NOT NULL UNIQUE,
			secret_ref   TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at   TEXT,
			expires_at   TEXT,
			FOREIGN KEY (secret_ref) REFERENCES key_secrets(id)
		);

		CREATE INDEX IF NOT EXISTS idx_keys_owner ON api_keys(owner_id);

		CREATE TABLE IF NOT EXISTS rate_limit_counters (
			identifier      TEXT    NOT NULL,
			action          TEXT    NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TEXT    NOT NULL,
			blocked_until   TEXT,
			PRIMARY KEY (identifier, action)
		);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return err
	}

	// FTS triggers (idempotent). Embedding writes do not touch the index.
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='modules_fts_insert'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		triggers := `
			CREATE TRIGGER modules_fts_insert AFTER INSERT ON modules BEGIN
				INSERT INTO modules_fts(rowid, title, description, why_it_matters, usage_hint, tags, solves_problems, common_errors, code)
				VALUES (new.rowid, new.title, new.description, new.why_it_matters, new.usage_hint, new.tags, new.solves_problems, new.common_errors, new.code);
			END;

			CREATE TRIGGER modules_fts_delete AFTER DELETE ON modules BEGIN
				INSERT INTO modules_fts(modules_fts, rowid, title, description, why_it_matters, usage_hint, tags, solves_problems, common_errors, code)
				VALUES ('delete', old.rowid, old.title, old.description, old.why_it_matters, old.usage_hint, old.tags, old.solves_problems, old.common_errors, old.code);
			END;

			CREATE TRIGGER modules_fts_update
			AFTER UPDATE OF title, description, why_it_matters, usage_hint, tags, solves_problems, common_errors, code ON modules BEGIN
				INSERT INTO modules_fts(modules_fts, rowid, title, description, why_it_matters, usage_hint, tags, solves_problems, common_errors, code)
				VALUES ('delete', old.rowid, old.title, old.description, old.why_it_matters, old.usage_hint, old.tags, old.solves_problems, old.common_errors, old.code);
				INSERT INTO modules_fts(rowid, title, description, why_it_matters, usage_hint, tags, solves_problems, common_errors, code)
				VALUES (new.rowid, new.title, new.description, new.why_it_matters, new.usage_hint, new.tags, new.solves_problems, new.common_errors, new.code);
			END;
		`
		if _, err := s.execHook(ctx, s.db, triggers); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// storedTimeLayout is fixed width so stored timestamps sort as text.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out) // best-effort: corrupt column reads as empty
	return out
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to a classified NotFound error.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("%s %q not found", what, id)
	}
	return err
}

// sanitizeFTS quotes each word and ORs them so any overlap ranks.
// `Cannot read "map"` → `"Cannot" OR "read" OR "map"`
func sanitizeFTS(query string) string {
	const maxTerms = 32
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.ReplaceAll(w, `"`, "")
		if !strings.ContainsFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		terms = append(terms, `"`+w+`"`)
		if len(terms) == maxTerms {
			break
		}
	}
	return strings.Join(terms, " OR ")
}

// visibleClause restricts rows of alias m to those viewer may read.
func visibleClause(alias string) string {
	return "(" + alias + ".visibility != 'private' OR " + alias + ".owner_id = ?)"
}
