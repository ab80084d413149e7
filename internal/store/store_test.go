package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/google/uuid"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	s, err := New(Config{DataDir: t.TempDir(), MaxScan: 500, Clock: clk})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func seedModule(t *testing.T, s *Store, owner, title string, mutate ...func(*vault.Module)) *vault.Module {
	t.Helper()
	m := &vault.Module{
		ID:               newID(),
		Title:            title,
		Domain:           vault.DomainBackend,
		ModuleType:       vault.TypeSnippet,
		Difficulty:       vault.DifficultyIntermediate,
		Version:          vault.DefaultVersion,
		ValidationStatus: vault.StatusDraft,
		Visibility:       vault.VisibilityShared,
		OwnerID:          owner,
		CreatedAt:        s.now(),
		UpdatedAt:        s.now(),
	}
	for _, fn := range mutate {
		fn(m)
	}
	if err := s.CreateModule(context.Background(), m); err != nil {
		t.Fatalf("CreateModule(%q): %v", title, err)
	}
	return m
}

// ─── Open / migrate ──────────────────────────────────────────────────────────

func TestNew_CreatesDatabaseAndIsReopenable(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "modvault.db")); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	_ = s.Close()

	// Migrations are idempotent.
	s2, err := New(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if err := s2.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNew_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(driver, dsn string) (*sql.DB, error) {
		return nil, errors.New("driver exploded")
	}

	if _, err := New(Config{DataDir: t.TempDir()}); err == nil {
		t.Fatal("expected error when the driver fails to open")
	}
}

// ─── Modules ─────────────────────────────────────────────────────────────────

func TestCreateModule_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m := seedModule(t, s, "alice", "JWT refresh rotation", func(m *vault.Module) {
		m.Tags = []string{"auth", "jwt"}
		m.CommonErrors = []vault.CommonError{{Error: "token expired", Cause: "clock skew", Fix: "allow 30s leeway"}}
		m.SolvesProblems = []string{"users logged out randomly"}
		m.Embedding = []float32{0.1, 0.2}
	})

	got, err := s.GetModule(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if got.Slug != "jwt-refresh-rotation" {
		t.Errorf("slug = %q", got.Slug)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "jwt" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.CommonErrors) != 1 || got.CommonErrors[0].Fix != "allow 30s leeway" {
		t.Errorf("common_errors = %+v", got.CommonErrors)
	}
	if len(got.Embedding) != 2 {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, epoch)
	}
	if got.Prerequisites == nil || got.RelatedModules == nil {
		t.Error("empty list columns should decode to empty slices, not nil")
	}

	bySlug, err := s.GetModuleBySlug(ctx, "jwt-refresh-rotation")
	if err != nil || bySlug.ID != m.ID {
		t.Errorf("GetModuleBySlug = %v, %v", bySlug, err)
	}
	id, err := s.ResolveSlug(ctx, "jwt-refresh-rotation")
	if err != nil || id != m.ID {
		t.Errorf("ResolveSlug = %q, %v", id, err)
	}
}

func TestCreateModule_SlugCollision(t *testing.T) {
	s, _ := newTestStore(t)

	a := seedModule(t, s, "alice", "Retry with jitter")
	b := seedModule(t, s, "bob", "Retry with Jitter!")
	c := seedModule(t, s, "bob", "retry with jitter")

	if a.Slug != "retry-with-jitter" || b.Slug != "retry-with-jitter-2" || c.Slug != "retry-with-jitter-3" {
		t.Errorf("slugs = %q, %q, %q", a.Slug, b.Slug, c.Slug)
	}
}

func TestGetModule_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetModule(context.Background(), newID())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("GetModule(unknown) err = %v, want not_found", err)
	}
	if _, err := s.ResolveSlug(context.Background(), "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("ResolveSlug(unknown) err = %v, want not_found", err)
	}
}

func TestSaveModule_KeepsEmbedding(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	m := seedModule(t, s, "alice", "Pool sizing", func(m *vault.Module) {
		m.Embedding = []float32{1, 0, 0}
	})

	clk.Advance(time.Minute)
	m.Title = "Connection pool sizing"
	m.Embedding = nil
	if err := s.SaveModule(ctx, m); err != nil {
		t.Fatalf("SaveModule: %v", err)
	}

	got, _ := s.GetModule(ctx, m.ID)
	if got.Title != "Connection pool sizing" {
		t.Errorf("title = %q", got.Title)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("SaveModule must not touch the embedding, got %v", got.Embedding)
	}
	if !got.UpdatedAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("updated_at = %v", got.UpdatedAt)
	}
	if got.Slug != "pool-sizing" {
		t.Errorf("slug should be stable across renames, got %q", got.Slug)
	}
}

func TestSetEmbedding_OnlyForCurrentText(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := seedModule(t, s, "alice", "Webhook retry")
	oldSource := ContentDigest(m.EmbeddingText())

	m.Title = "Cache warmer"
	if err := s.SaveModule(ctx, m); err != nil {
		t.Fatalf("SaveModule: %v", err)
	}

	stored, err := s.SetEmbedding(ctx, m.ID, oldSource, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	if stored {
		t.Error("vector for superseded text should not be stored")
	}

	stored, err = s.SetEmbedding(ctx, m.ID, ContentDigest(m.EmbeddingText()), []float32{0, 1, 0})
	if err != nil || !stored {
		t.Fatalf("SetEmbedding current = %v, %v; want stored", stored, err)
	}
	got, _ := s.GetModule(ctx, m.ID)
	if len(got.Embedding) != 3 || got.Embedding[1] != 1 {
		t.Errorf("embedding = %v, want the current text's vector", got.Embedding)
	}

	if err := s.DeprecateModule(ctx, m.ID); err != nil {
		t.Fatalf("DeprecateModule: %v", err)
	}
	if stored, _ := s.SetEmbedding(ctx, m.ID, ContentDigest(m.EmbeddingText()), []float32{0, 0, 1}); !stored {
		t.Error("deprecation does not change the text and must not drop a refresh")
	}

	if stored, err := s.SetEmbedding(ctx, "missing", oldSource, []float32{1}); err != nil || stored {
		t.Errorf("SetEmbedding on a missing module = %v, %v; want false, nil", stored, err)
	}
}

func TestDeprecateAndDeleteModule(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := seedModule(t, s, "alice", "A")
	b := seedModule(t, s, "alice", "B")
	if _, err := s.AddDependency(ctx, a.ID, b.ID, vault.DependencyRequired); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	if err := s.DeprecateModule(ctx, a.ID); err != nil {
		t.Fatalf("DeprecateModule: %v", err)
	}
	got, _ := s.GetModule(ctx, a.ID)
	if got.ValidationStatus != vault.StatusDeprecated {
		t.Errorf("status = %q, want deprecated", got.ValidationStatus)
	}

	if err := s.DeleteModule(ctx, b.ID); err != nil {
		t.Fatalf("DeleteModule: %v", err)
	}
	deps, err := s.Dependencies(ctx, a.ID)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("hard delete should cascade edges, still have %d", len(deps))
	}
	if err := s.DeleteModule(ctx, b.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second delete err = %v, want not_found", err)
	}
}

func TestListModules_VisibilityAndFilters(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	seedModule(t, s, "alice", "Alice private", func(m *vault.Module) { m.Visibility = vault.VisibilityPrivate })
	clk.Advance(time.Second)
	seedModule(t, s, "bob", "Bob shared", func(m *vault.Module) {
		m.Domain = vault.DomainSecurity
		m.Tags = []string{"csrf"}
	})
	clk.Advance(time.Second)
	seedModule(t, s, "bob", "Bob deprecated", func(m *vault.Module) { m.ValidationStatus = vault.StatusDeprecated })
	clk.Advance(time.Second)
	seedModule(t, s, "bob", "Step 2", func(m *vault.Module) { m.ModuleGroup = "saas-starter"; m.ImplementationOrder = 2 })
	clk.Advance(time.Second)
	seedModule(t, s, "bob", "Step 1", func(m *vault.Module) { m.ModuleGroup = "saas-starter"; m.ImplementationOrder = 1 })

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"carol sees shared only", ListFilter{Viewer: "carol"}, []string{"Step 1", "Step 2", "Bob shared"}},
		{"alice sees own private", ListFilter{Viewer: "alice", OwnedOnly: true}, []string{"Alice private"}},
		{"domain filter", ListFilter{Viewer: "carol", Domain: vault.DomainSecurity}, []string{"Bob shared"}},
		{"tag filter", ListFilter{Viewer: "carol", Tag: "csrf"}, []string{"Bob shared"}},
		{"group ordered", ListFilter{Viewer: "carol", Group: "saas-starter"}, []string{"Step 1", "Step 2"}},
		{"include deprecated", ListFilter{Viewer: "bob", OwnedOnly: true, IncludeDeprecated: true, Limit: 2}, []string{"Step 1", "Step 2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListModules(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListModules: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d modules, want %d: %v", len(got), len(tt.want), titles(got))
			}
			for i := range tt.want {
				if got[i].Title != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q (all: %v)", i, got[i].Title, tt.want[i], titles(got))
				}
			}
		})
	}
}

func titles(mods []vault.Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Title
	}
	return out
}

func TestScanModules_WithErrors(t *testing.T) {
	s, _ := newTestStore(t)
	seedModule(t, s, "alice", "Has errors", func(m *vault.Module) {
		m.CommonErrors = []vault.CommonError{{Error: "ECONNREFUSED"}}
	})
	seedModule(t, s, "alice", "Has problems", func(m *vault.Module) {
		m.SolvesProblems = []string{"slow startup"}
	})
	seedModule(t, s, "alice", "Bare")

	got, err := s.ScanModules(context.Background(), ScanFilter{Viewer: "alice", WithErrors: true})
	if err != nil {
		t.Fatalf("ScanModules: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Has errors" {
		t.Errorf("WithErrors = %v", titles(got))
	}

	got, _ = s.ScanModules(context.Background(), ScanFilter{Viewer: "alice", WithErrors: true, WithProblems: true})
	if len(got) != 2 {
		t.Errorf("WithErrors+WithProblems = %v", titles(got))
	}
}

// ─── Dependencies ────────────────────────────────────────────────────────────

func TestAddDependency_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := seedModule(t, s, "alice", "A")
	b := seedModule(t, s, "alice", "B")

	if _, err := s.AddDependency(ctx, a.ID, a.ID, vault.DependencyRequired); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("self edge err = %v, want validation", err)
	}
	if _, err := s.AddDependency(ctx, a.ID, newID(), vault.DependencyRequired); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("missing target err = %v, want not_found", err)
	}
	if _, err := s.AddDependency(ctx, a.ID, b.ID, vault.DependencyRecommended); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if _, err := s.AddDependency(ctx, a.ID, b.ID, vault.DependencyRequired); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("duplicate edge err = %v, want validation", err)
	}

	deps, _ := s.Dependencies(ctx, a.ID)
	if len(deps) != 1 || deps[0].TargetTitle != "B" || deps[0].DependencyType != vault.DependencyRecommended {
		t.Errorf("Dependencies = %+v", deps)
	}
	dependents, _ := s.Dependents(ctx, b.ID)
	if len(dependents) != 1 || dependents[0].TargetTitle != "A" {
		t.Errorf("Dependents = %+v", dependents)
	}

	if err := s.RemoveDependency(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if err := s.RemoveDependency(ctx, a.ID, b.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second remove err = %v, want not_found", err)
	}
}

func TestDependencyTargets(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	app := seedModule(t, s, "alice", "App")
	auth := seedModule(t, s, "alice", "Auth")
	db := seedModule(t, s, "alice", "DB schema")
	seedModule(t, s, "alice", "Loner")

	for _, e := range [][2]string{{app.ID, auth.ID}, {auth.ID, db.ID}} {
		if _, err := s.AddDependency(ctx, e[0], e[1], vault.DependencyRequired); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DependencyTargets(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("DependencyTargets: %v", err)
	}
	if len(got) != 1 || got[0].ID != db.ID {
		t.Errorf("DependencyTargets = %v, want [DB schema]", titles(got))
	}
}

// ─── Gaps ────────────────────────────────────────────────────────────────────

func TestReportGap_Dedup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, dup, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: "X failed", ReportedBy: "alice"})
	if err != nil || dup {
		t.Fatalf("first report: dup=%v err=%v", dup, err)
	}
	second, dup, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: "X failed", ReportedBy: "bob"})
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if !dup || second.ID != first.ID || second.HitCount != 2 {
		t.Errorf("second report = %+v dup=%v, want same id with hit_count 2", second, dup)
	}

	// Once resolved, the same message opens a fresh gap.
	second.Status = vault.GapResolved
	second.Resolution = "restart"
	if err := s.UpdateGap(ctx, second); err != nil {
		t.Fatalf("UpdateGap: %v", err)
	}
	third, dup, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: "X failed", ReportedBy: "carol"})
	if err != nil || dup || third.ID == first.ID {
		t.Errorf("report after resolve: %+v dup=%v err=%v", third, dup, err)
	}
}

func TestPromoteGap_Atomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	g, _, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: "Y broke", ReportedBy: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return errors.New("disk full")
	}
	m := &vault.Module{
		ID: newID(), Title: "Fix for Y", Domain: vault.DomainBackend, ModuleType: vault.TypeSnippet,
		Difficulty: vault.DifficultyIntermediate, Version: vault.DefaultVersion,
		ValidationStatus: vault.StatusDraft, Visibility: vault.VisibilityPrivate,
		OwnerID: "alice", CreatedAt: s.now(), UpdatedAt: s.now(),
	}
	gapCopy := *g
	if err := s.PromoteGap(ctx, &gapCopy, m); err == nil {
		t.Fatal("expected commit failure")
	}
	if ok, _ := s.ModuleExists(ctx, m.ID); ok {
		t.Error("module must not survive a failed promotion")
	}
	stored, _ := s.GetGap(ctx, g.ID)
	if stored.Status != vault.GapOpen {
		t.Errorf("gap status = %q after failed promotion, want open", stored.Status)
	}

	s.hooks.commit = nil
	gapCopy = *g
	if err := s.PromoteGap(ctx, &gapCopy, m); err != nil {
		t.Fatalf("PromoteGap: %v", err)
	}
	stored, _ = s.GetGap(ctx, g.ID)
	if stored.Status != vault.GapPromoted || stored.PromotedModuleID != m.ID {
		t.Errorf("gap after promotion = %+v", stored)
	}

	// Promoted gaps are frozen at the storage layer too.
	stored.Status = vault.GapResolved
	if err := s.UpdateGap(ctx, stored); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("UpdateGap(promoted) err = %v, want validation", err)
	}
}

func TestMatchResolvedGaps(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	resolve := func(msg string, domain vault.Domain) {
		g, _, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: msg, Domain: domain, ReportedBy: "a"})
		if err != nil {
			t.Fatal(err)
		}
		g.Status = vault.GapResolved
		g.Resolution = "fixed"
		if err := s.UpdateGap(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	resolve("ECONNREFUSED 127.0.0.1:5432", vault.DomainBackend)
	resolve("CORS preflight blocked", vault.DomainFrontend)
	if _, _, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: "econnrefused", ReportedBy: "a"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.MatchResolvedGaps(ctx, "Error: connect ECONNREFUSED 127.0.0.1:5432 at TCP", "", 10)
	if err != nil {
		t.Fatalf("MatchResolvedGaps: %v", err)
	}
	if len(got) != 1 || got[0].ErrorMessage != "ECONNREFUSED 127.0.0.1:5432" {
		t.Errorf("containment match = %+v", got)
	}

	got, _ = s.MatchResolvedGaps(ctx, "cors", "", 10)
	if len(got) != 1 {
		t.Errorf("reverse containment should match, got %d", len(got))
	}
	got, _ = s.MatchResolvedGaps(ctx, "cors", vault.DomainBackend, 10)
	if len(got) != 0 {
		t.Errorf("domain filter should exclude frontend gap, got %d", len(got))
	}
}

func TestListGaps(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, msg := range []string{"a", "b", "b", "b", "c", "c"} {
		if _, _, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: msg, ReportedBy: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListGaps(ctx, GapFilter{Statuses: []vault.GapStatus{vault.GapOpen}, Limit: 2})
	if err != nil {
		t.Fatalf("ListGaps: %v", err)
	}
	if len(got) != 2 || got[0].ErrorMessage != "b" || got[0].HitCount != 3 || got[1].ErrorMessage != "c" {
		t.Errorf("ListGaps = %+v", got)
	}
}

// ─── Search ──────────────────────────────────────────────────────────────────

func TestHybridSearch_TextOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedModule(t, s, "alice", "Postgres connection pooling", func(m *vault.Module) {
		m.Description = "Configure pgbouncer for connection reuse"
	})
	seedModule(t, s, "alice", "React form validation")
	seedModule(t, s, "alice", "Deprecated pooling", func(m *vault.Module) { m.ValidationStatus = vault.StatusDeprecated })
	seedModule(t, s, "bob", "Secret pooling", func(m *vault.Module) { m.Visibility = vault.VisibilityPrivate })

	hits, err := s.HybridSearch(ctx, `connection "pooling"`, nil, SearchFilter{Viewer: "carol"})
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Module.Title != "Postgres connection pooling" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Errorf("score = %v, want (0,1]", hits[0].Score)
	}
	if hits[0].Score != 1 {
		t.Errorf("top text-only hit should normalize to 1, got %v", hits[0].Score)
	}

	hits, _ = s.HybridSearch(ctx, "   !!! ", nil, SearchFilter{Viewer: "carol"})
	if len(hits) != 0 {
		t.Errorf("punctuation-only query should match nothing, got %d", len(hits))
	}
}

func TestHybridSearch_VectorFusion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	near := seedModule(t, s, "alice", "Graceful termination", func(m *vault.Module) { m.Embedding = []float32{1, 0, 0} })
	seedModule(t, s, "alice", "Unrelated", func(m *vault.Module) { m.Embedding = []float32{0, 1, 0} })
	both := seedModule(t, s, "alice", "Shutdown hooks", func(m *vault.Module) { m.Embedding = []float32{0.9, 0.1, 0} })

	hits, err := s.HybridSearch(ctx, "shutdown hooks", []float32{1, 0, 0}, SearchFilter{Viewer: "alice"})
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 (orthogonal vector dropped)", len(hits))
	}
	if hits[0].Module.ID != both.ID {
		t.Errorf("module matched by text and vector should rank first, got %q", hits[0].Module.Title)
	}
	if hits[1].Module.ID != near.ID {
		t.Errorf("second hit = %q", hits[1].Module.Title)
	}
	if hits[1].Similarity < 0.99 {
		t.Errorf("similarity = %v", hits[1].Similarity)
	}
}

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"fix auth bug", `"fix" OR "auth" OR "bug"`},
		{`say "hi"`, `"say" OR "hi"`},
		{"-- !!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeFTS(tt.in); got != tt.want {
			t.Errorf("sanitizeFTS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ─── Keys / counters / usage / stats ─────────────────────────────────────────

func TestAPIKeys(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	k := &APIKey{ID: newID(), Name: "ci", OwnerID: "alice", Prefix: "mvkabc12345", CreatedAt: s.now()}
	if err := s.CreateAPIKey(ctx, k, newID(), []byte("digest")); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.APIKeyByPrefix(ctx, "mvkabc12345")
	if err != nil || got.ID != k.ID {
		t.Fatalf("APIKeyByPrefix = %+v, %v", got, err)
	}
	digest, err := s.KeySecret(ctx, got.SecretRef)
	if err != nil || string(digest) != "digest" {
		t.Errorf("KeySecret = %q, %v", digest, err)
	}

	clk.Advance(time.Minute)
	if err := s.TouchAPIKey(ctx, k.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountActiveKeys(ctx, "alice"); n != 1 {
		t.Errorf("CountActiveKeys = %d, want 1", n)
	}

	if err := s.RevokeAPIKey(ctx, "bob", k.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("revoke by other owner err = %v, want not_found", err)
	}
	if err := s.RevokeAPIKey(ctx, "alice", k.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	keys, _ := s.ListAPIKeys(ctx, "alice")
	if len(keys) != 1 || keys[0].RevokedAt == nil || keys[0].LastUsedAt == nil {
		t.Errorf("ListAPIKeys = %+v", keys)
	}
	if n, _ := s.CountActiveKeys(ctx, "alice"); n != 0 {
		t.Errorf("CountActiveKeys after revoke = %d, want 0", n)
	}

	dupe := &APIKey{ID: newID(), Name: "dupe", OwnerID: "alice", Prefix: "mvkabc12345", CreatedAt: s.now()}
	if err := s.CreateAPIKey(ctx, dupe, newID(), []byte("x")); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("prefix collision err = %v, want validation", err)
	}
}

func TestCounters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetCounter(ctx, "alice", "agent_tools")
	if err != nil || got != nil {
		t.Fatalf("missing counter = %+v, %v", got, err)
	}

	until := epoch.Add(time.Minute)
	c := &Counter{Identifier: "alice", Action: "agent_tools", Attempts: 3, LastAttemptAt: epoch, BlockedUntil: &until}
	if err := s.PutCounter(ctx, c); err != nil {
		t.Fatalf("PutCounter: %v", err)
	}
	c.Attempts = 4
	if err := s.PutCounter(ctx, c); err != nil {
		t.Fatalf("PutCounter upsert: %v", err)
	}

	got, _ = s.GetCounter(ctx, "alice", "agent_tools")
	if got.Attempts != 4 || got.BlockedUntil == nil || !got.BlockedUntil.Equal(until) {
		t.Errorf("counter = %+v", got)
	}
}

func TestUsageStats(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	events := []UsageEvent{
		{EventType: "tool_call", ToolName: "diagnose", UserID: "alice", ResultCount: 3},
		{EventType: "tool_call", ToolName: "diagnose", UserID: "alice"},
		{EventType: "tool_error", ToolName: "get_module", UserID: "alice", ModuleID: "m1"},
		{EventType: "tool_call", ToolName: "get_module", UserID: "bob", ModuleID: "m1"},
	}
	for _, ev := range events {
		if err := s.RecordUsage(ctx, ev); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	clk.Advance(time.Hour)

	st, err := s.UsageStats(ctx, epoch, "")
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if st.TotalEvents != 4 || len(st.Tools) != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Tools[0].ToolName != "diagnose" || st.Tools[0].Calls != 2 {
		t.Errorf("tools[0] = %+v", st.Tools[0])
	}
	if st.Tools[1].Errors != 1 {
		t.Errorf("get_module errors = %d, want 1", st.Tools[1].Errors)
	}
	if len(st.TopModules) != 1 || st.TopModules[0] != "m1" {
		t.Errorf("top modules = %v", st.TopModules)
	}

	st, _ = s.UsageStats(ctx, epoch, "bob")
	if st.TotalEvents != 1 {
		t.Errorf("bob events = %d, want 1", st.TotalEvents)
	}
	st, _ = s.UsageStats(ctx, epoch.Add(time.Minute), "")
	if st.TotalEvents != 0 {
		t.Errorf("events after cutoff = %d, want 0", st.TotalEvents)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedModule(t, s, "alice", "A", func(m *vault.Module) { m.ValidationStatus = vault.StatusValidated; m.Embedding = []float32{1} })
	seedModule(t, s, "alice", "B")
	seedModule(t, s, "alice", "C", func(m *vault.Module) { m.Domain = vault.DomainSecurity })
	seedModule(t, s, "bob", "Hidden", func(m *vault.Module) { m.Visibility = vault.VisibilityPrivate })
	if _, _, err := s.ReportGap(ctx, &vault.KnowledgeGap{ID: newID(), ErrorMessage: "boom", ReportedBy: "alice"}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalModules != 3 || st.OpenGaps != 1 {
		t.Errorf("stats = %+v", st)
	}
	if len(st.Domains) != len(vault.Domains) {
		t.Fatalf("domains = %d, want every domain listed", len(st.Domains))
	}
	for _, d := range st.Domains {
		if d.Domain == vault.DomainBackend && (d.Modules != 2 || d.Validated != 1 || d.Drafts != 1 || d.Embedded != 1) {
			t.Errorf("backend aggregate = %+v", d)
		}
	}
}
