package modules

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/embed"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
)

// fakeEmbedder maps text to a 3-d vector by keyword, or fails on demand.
// Text containing gateOn blocks until gate is closed, after signalling
// entered.
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   []string
	fail    error
	gateOn  string
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fail := f.fail
	var gate, entered chan struct{}
	if f.gate != nil && strings.Contains(lower, f.gateOn) {
		gate, entered = f.gate, f.entered
		f.entered = nil
	}
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			close(entered)
		}
		<-gate
	}
	if fail != nil {
		return nil, fail
	}
	switch {
	case strings.Contains(lower, "webhook"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(lower, "cache"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Model() string  { return "fake" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var _ embed.Embedder = (*fakeEmbedder)(nil)

func newTestService(t *testing.T) (*Service, *store.Store, *fakeEmbedder, *Refresher) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	s, err := store.New(store.Config{DataDir: t.TempDir(), Clock: clk})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	fe := &fakeEmbedder{}
	r := NewRefresher(s, fe, nil, time.Second)
	t.Cleanup(func() {
		r.Wait()
		_ = s.Close()
	})
	return NewService(s, fe, r, clk, nil), s, fe, r
}

// ─── Create ──────────────────────────────────────────────────────────────────

func TestCreate_DefaultsAndScore(t *testing.T) {
	svc, s, _, r := newTestService(t)
	ctx := context.Background()

	got, err := svc.Create(ctx, "alice", CreateInput{
		Title:  "Webhook Retry Helper",
		Code:   "...",
		Domain: vault.DomainBackend,
		Tags:   []string{"Webhooks", "webhooks", " retry "},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m := got.Module
	if m.ValidationStatus != vault.StatusDraft {
		t.Errorf("status = %q, want draft", m.ValidationStatus)
	}
	if m.ModuleType != vault.TypeSnippet || m.Difficulty != vault.DifficultyIntermediate ||
		m.Version != vault.DefaultVersion || m.Visibility != vault.VisibilityPrivate {
		t.Errorf("defaults = %s/%s/%s/%s", m.ModuleType, m.Difficulty, m.Version, m.Visibility)
	}
	if m.Slug != "webhook-retry-helper" {
		t.Errorf("slug = %q", m.Slug)
	}
	if !IsID(m.ID) {
		t.Errorf("id %q is not a uuid", m.ID)
	}
	if got.Completeness.Score >= 100 {
		t.Errorf("score = %d, want < 100", got.Completeness.Score)
	}
	if !slices.Contains(got.Completeness.MissingFields, "why_it_matters") {
		t.Errorf("missing fields = %v", got.Completeness.MissingFields)
	}

	r.Wait()
	stored, _ := s.GetModule(ctx, m.ID)
	if len(stored.Embedding) != 3 {
		t.Errorf("embedding not refreshed after create: %v", stored.Embedding)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"missing title", CreateInput{Domain: vault.DomainBackend}},
		{"blank title", CreateInput{Title: "   ", Domain: vault.DomainBackend}},
		{"missing domain", CreateInput{Title: "x"}},
		{"bad domain", CreateInput{Title: "x", Domain: "cooking"}},
		{"bad type", CreateInput{Title: "x", Domain: vault.DomainBackend, ModuleType: "blog"}},
		{"bad visibility", CreateInput{Title: "x", Domain: vault.DomainBackend, Visibility: "public"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, "alice", tt.in); !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

// ─── Read ────────────────────────────────────────────────────────────────────

func TestGet_ByIDOrSlugWithVisibility(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, "alice", CreateInput{Title: "Private Thing", Domain: vault.DomainSecurity})

	for _, ref := range []string{c.Module.ID, c.Module.Slug} {
		if _, err := svc.Get(ctx, "alice", ref); err != nil {
			t.Errorf("owner Get(%q): %v", ref, err)
		}
		if _, err := svc.Get(ctx, "bob", ref); !apperr.Is(err, apperr.KindNotFound) {
			t.Errorf("stranger Get(%q) err = %v, want not_found", ref, err)
		}
	}
}

func TestSearch_DegradesToText(t *testing.T) {
	svc, _, fe, r := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "alice", CreateInput{Title: "Webhook signature check", Domain: vault.DomainSecurity, Visibility: vault.VisibilityShared})
	_, _ = svc.Create(ctx, "alice", CreateInput{Title: "Cache stampede guard", Domain: vault.DomainBackend, Visibility: vault.VisibilityShared})
	r.Wait()

	res, err := svc.Search(ctx, "webhook", store.SearchFilter{Viewer: "bob"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Mode != "hybrid" || len(res.Hits) == 0 || res.Hits[0].Module.Title != "Webhook signature check" {
		t.Errorf("hybrid search = %+v", res)
	}

	fe.mu.Lock()
	fe.fail = errors.New("provider down")
	fe.mu.Unlock()
	res, err = svc.Search(ctx, "stampede", store.SearchFilter{Viewer: "bob"})
	if err != nil {
		t.Fatalf("Search with failing embedder: %v", err)
	}
	if res.Mode != "text" || len(res.Hits) != 1 || res.Hits[0].Module.Title != "Cache stampede guard" {
		t.Errorf("text search = %+v", res)
	}

	if _, err := svc.Search(ctx, "  ", store.SearchFilter{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty query err = %v, want validation", err)
	}
}

// ─── Update ──────────────────────────────────────────────────────────────────

func TestUpdate_OwnerOnly(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, "alice", CreateInput{Title: "Mine", Domain: vault.DomainBackend, Visibility: vault.VisibilityShared})

	p := &vault.Patch{UsageHint: vault.Some("use it")}
	if _, err := svc.Update(ctx, "bob", c.Module.ID, p); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("non-owner update err = %v, want not_found", err)
	}
	if _, err := svc.Update(ctx, "alice", NewID(), p); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown id err = %v, want not_found", err)
	}
	if _, err := svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty patch err = %v, want validation", err)
	}
	bad := &vault.Patch{Difficulty: vault.Some(vault.Difficulty("impossible"))}
	if _, err := svc.Update(ctx, "alice", c.Module.ID, bad); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad enum err = %v, want validation", err)
	}
}

func TestUpdate_ReembedOnlyForRelevantFields(t *testing.T) {
	svc, s, fe, r := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, "alice", CreateInput{Title: "Cache layer", Domain: vault.DomainBackend})
	r.Wait()
	base := fe.callCount()

	up, err := svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{Difficulty: vault.Some(vault.DifficultyAdvanced)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	r.Wait()
	if up.Reembedding || fe.callCount() != base {
		t.Errorf("difficulty change should not re-embed (reembedding=%v calls=%d)", up.Reembedding, fe.callCount()-base)
	}

	up, err = svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{
		WhyItMatters: vault.Some("Webhook storms melt the DB"),
		Tags:         vault.Some([]string{"Cache", "cache"}),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	r.Wait()
	if !up.Reembedding || fe.callCount() != base+1 {
		t.Errorf("why_it_matters change should re-embed once (reembedding=%v calls=%d)", up.Reembedding, fe.callCount()-base)
	}
	if !slices.Equal(up.Module.Tags, []string{"cache"}) {
		t.Errorf("tags = %v, want normalized", up.Module.Tags)
	}
	stored, _ := s.GetModule(ctx, c.Module.ID)
	if len(stored.Embedding) != 3 || stored.Embedding[0] != 1 {
		t.Errorf("embedding = %v, want webhook vector", stored.Embedding)
	}
}

func TestUpdate_EmbeddingFailureKeepsStaleVector(t *testing.T) {
	svc, s, fe, r := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, "alice", CreateInput{Title: "Webhook fan-out", Domain: vault.DomainBackend})
	r.Wait()

	fe.mu.Lock()
	fe.fail = errors.New("quota exceeded")
	fe.mu.Unlock()

	if _, err := svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{Title: vault.Some("Cache fan-out")}); err != nil {
		t.Fatalf("Update must not surface embedding failures: %v", err)
	}
	r.Wait()

	stored, _ := s.GetModule(ctx, c.Module.ID)
	if stored.Title != "Cache fan-out" {
		t.Errorf("title = %q", stored.Title)
	}
	if len(stored.Embedding) != 3 || stored.Embedding[0] != 1 {
		t.Errorf("stale vector should survive a failed refresh, got %v", stored.Embedding)
	}
}

func TestUpdate_SupersededRefreshDoesNotOverwrite(t *testing.T) {
	svc, s, fe, r := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, "alice", CreateInput{Title: "Queue consumer", Domain: vault.DomainBackend})
	r.Wait()

	release := make(chan struct{})
	entered := make(chan struct{})
	fe.mu.Lock()
	fe.gateOn, fe.gate, fe.entered = "webhook", release, entered
	fe.mu.Unlock()

	if _, err := svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{Title: vault.Some("Webhook retry")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	<-entered
	if _, err := svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{Title: vault.Some("Cache warmer")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		got, _ := s.GetModule(ctx, c.Module.ID)
		if len(got.Embedding) == 3 && got.Embedding[1] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("newer refresh never landed, embedding = %v", got.Embedding)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	r.Wait()

	got, _ := s.GetModule(ctx, c.Module.ID)
	if got.Title != "Cache warmer" {
		t.Errorf("title = %q", got.Title)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 1 {
		t.Errorf("embedding = %v, want the cache vector; the older job must not win", got.Embedding)
	}
}

// ─── Delete ──────────────────────────────────────────────────────────────────

func TestDelete_SoftIsReversible(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, "alice", CreateInput{Title: "Old way", Domain: vault.DomainBackend})

	if _, err := svc.Delete(ctx, "bob", c.Module.ID, false); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("non-owner delete err = %v, want not_found", err)
	}

	del, err := svc.Delete(ctx, "alice", c.Module.ID, false)
	if err != nil || del.Hard {
		t.Fatalf("soft Delete = %+v, %v", del, err)
	}
	m, _ := svc.Get(ctx, "alice", c.Module.ID)
	if m.ValidationStatus != vault.StatusDeprecated {
		t.Errorf("status = %q, want deprecated", m.ValidationStatus)
	}

	if _, err := svc.Update(ctx, "alice", c.Module.ID, &vault.Patch{ValidationStatus: vault.Some(vault.StatusDraft)}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	m, _ = svc.Get(ctx, "alice", c.Module.ID)
	if m.ValidationStatus != vault.StatusDraft {
		t.Errorf("status after restore = %q, want draft", m.ValidationStatus)
	}
}

func TestDelete_Hard(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, "alice", CreateInput{Title: "A", Domain: vault.DomainBackend})
	b, _ := svc.Create(ctx, "alice", CreateInput{Title: "B", Domain: vault.DomainBackend})
	if _, err := s.AddDependency(ctx, a.Module.ID, b.Module.ID, vault.DependencyRequired); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Delete(ctx, "alice", b.Module.ID, true); err != nil {
		t.Fatalf("hard Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "alice", b.Module.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Get after hard delete err = %v, want not_found", err)
	}
	deps, _ := s.Dependencies(ctx, a.Module.ID)
	if len(deps) != 0 {
		t.Errorf("edges should cascade, got %d", len(deps))
	}
}

func TestList_ValidatesFilters(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.List(context.Background(), store.ListFilter{Viewer: "a", Domain: "nope"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad domain filter err = %v, want validation", err)
	}
	got, err := svc.List(context.Background(), store.ListFilter{Viewer: "a"})
	if err != nil || got == nil {
		t.Errorf("empty list = %v, %v; want non-nil empty slice", got, err)
	}
}
