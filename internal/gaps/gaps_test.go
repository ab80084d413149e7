package gaps

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/modules"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	s, err := store.New(store.Config{DataDir: t.TempDir(), Clock: clk})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	mods := modules.NewService(s, nil, nil, clk, nil)
	return NewManager(s, mods, nil, clk, nil), s, clk
}

// ─── Report ──────────────────────────────────────────────────────────────────

func TestReport_Dedup(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Report(ctx, "alice", ReportInput{ErrorText: "X failed", Tags: []string{"Build"}})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if first.Deduplicated || first.Gap.HitCount != 1 || first.Gap.Status != vault.GapOpen {
		t.Errorf("first report = %+v", first)
	}

	second, err := m.Report(ctx, "bob", ReportInput{ErrorText: "  X failed  "})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !second.Deduplicated || second.Gap.ID != first.Gap.ID || second.Gap.HitCount != 2 {
		t.Errorf("second report = %+v, want dedup onto %s with hit_count 2", second.Gap, first.Gap.ID)
	}

	all, _ := m.List(ctx, ListInput{Status: "all"})
	if len(all) != 1 {
		t.Errorf("gap rows = %d, want 1", len(all))
	}
}

func TestReport_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Report(ctx, "a", ReportInput{ErrorText: " "}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty text err = %v, want validation", err)
	}
	if _, err := m.Report(ctx, "a", ReportInput{ErrorText: strings.Repeat("x", maxErrorText+1)}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("oversized text err = %v, want validation", err)
	}
	if _, err := m.Report(ctx, "a", ReportInput{ErrorText: "x", Domain: "gardening"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad domain err = %v, want validation", err)
	}
}

// ─── Resolve ─────────────────────────────────────────────────────────────────

func TestResolve_Promote(t *testing.T) {
	m, s, clk := newTestManager(t)
	ctx := context.Background()

	rep, err := m.Report(ctx, "alice", ReportInput{ErrorText: "ECONNRESET on webhook", Context: "idle sockets dropped"})
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)

	res, err := m.Resolve(ctx, "alice", ResolveInput{
		GapID:      rep.Gap.ID,
		Resolution: "add keep-alive header",
		Promote:    true,
		ModuleTitle: "Keep-Alive Fix",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	mod := res.Module
	if mod == nil {
		t.Fatal("promotion should return the new module")
	}
	if len(mod.SolvesProblems) != 1 || mod.SolvesProblems[0] != "ECONNRESET on webhook" {
		t.Errorf("solves_problems = %v", mod.SolvesProblems)
	}
	if len(mod.CommonErrors) != 1 || mod.CommonErrors[0].Cause != "idle sockets dropped" || mod.CommonErrors[0].Fix != "add keep-alive header" {
		t.Errorf("common_errors = %+v", mod.CommonErrors)
	}
	if mod.ValidationStatus != vault.StatusDraft || mod.Domain != vault.DomainBackend || mod.OwnerID != "alice" {
		t.Errorf("module = %s/%s/%s", mod.ValidationStatus, mod.Domain, mod.OwnerID)
	}

	g, _ := s.GetGap(ctx, rep.Gap.ID)
	if g.Status != vault.GapPromoted || g.PromotedModuleID != mod.ID {
		t.Errorf("gap = %s promoted_module_id=%q, want promoted to %s", g.Status, g.PromotedModuleID, mod.ID)
	}
	if g.ResolvedBy != "alice" || g.ResolvedAt == nil || !g.ResolvedAt.Equal(clk.Now()) {
		t.Errorf("resolver = %q at %v", g.ResolvedBy, g.ResolvedAt)
	}
	if ok, _ := s.ModuleExists(ctx, mod.ID); !ok {
		t.Error("promoted module should be stored")
	}
}

func TestResolve_PromotedGapAlwaysFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	rep, _ := m.Report(ctx, "alice", ReportInput{ErrorText: "boom"})
	if _, err := m.Resolve(ctx, "alice", ResolveInput{GapID: rep.Gap.ID, Resolution: "fix", Promote: true, ModuleTitle: "Boom fix"}); err != nil {
		t.Fatalf("first promotion: %v", err)
	}

	payloads := []ResolveInput{
		{GapID: rep.Gap.ID, Resolution: "again"},
		{GapID: rep.Gap.ID, Resolution: "again", Promote: true, ModuleTitle: "Another"},
		{GapID: rep.Gap.ID, Resolution: "again", ResolutionCode: "x := 1"},
	}
	for i, in := range payloads {
		if _, err := m.Resolve(ctx, "bob", in); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("payload %d err = %v, want validation", i, err)
		}
	}
}

func TestResolve_PlainAndReResolve(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	rep, _ := m.Report(ctx, "alice", ReportInput{ErrorText: "flaky test", Domain: vault.DomainDevOps})

	res, err := m.Resolve(ctx, "bob", ResolveInput{GapID: rep.Gap.ID, Resolution: "pin the seed", ResolutionCode: "rand.Seed(1)"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Module != nil || res.Gap.Status != vault.GapResolved || res.Gap.ResolutionCode != "rand.Seed(1)" {
		t.Errorf("resolved = %+v", res)
	}

	res, err = m.Resolve(ctx, "bob", ResolveInput{GapID: rep.Gap.ID, Resolution: "use a fake clock"})
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if res.Gap.Resolution != "use a fake clock" {
		t.Errorf("resolution = %q", res.Gap.Resolution)
	}

	// A resolved gap can still be promoted later, into its own domain.
	res, err = m.Resolve(ctx, "bob", ResolveInput{GapID: rep.Gap.ID, Resolution: "use a fake clock", Promote: true, ModuleTitle: "Deterministic tests"})
	if err != nil {
		t.Fatalf("promote resolved gap: %v", err)
	}
	if res.Module.Domain != vault.DomainDevOps {
		t.Errorf("domain = %q, want devops from the gap", res.Module.Domain)
	}
}

func TestResolve_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	rep, _ := m.Report(ctx, "alice", ReportInput{ErrorText: "oops"})

	if _, err := m.Resolve(ctx, "a", ResolveInput{GapID: rep.Gap.ID}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("missing resolution err = %v, want validation", err)
	}
	if _, err := m.Resolve(ctx, "a", ResolveInput{GapID: rep.Gap.ID, Resolution: "x", Promote: true}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("promote without title err = %v, want validation", err)
	}
	if _, err := m.Resolve(ctx, "a", ResolveInput{GapID: "missing", Resolution: "x"}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown gap err = %v, want not_found", err)
	}
}

// ─── Investigate / list ──────────────────────────────────────────────────────

func TestInvestigateAndList(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	a, _ := m.Report(ctx, "x", ReportInput{ErrorText: "a", Domain: vault.DomainFrontend})
	b, _ := m.Report(ctx, "x", ReportInput{ErrorText: "b"})
	_, _ = m.Report(ctx, "x", ReportInput{ErrorText: "b"})
	c, _ := m.Report(ctx, "x", ReportInput{ErrorText: "c"})

	g, err := m.Investigate(ctx, "bob", a.Gap.ID)
	if err != nil || g.Status != vault.GapInvestigating {
		t.Fatalf("Investigate = %+v, %v", g, err)
	}
	if _, err := m.Investigate(ctx, "bob", a.Gap.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("investigating twice err = %v, want validation", err)
	}
	if _, err := m.Resolve(ctx, "bob", ResolveInput{GapID: c.Gap.ID, Resolution: "done"}); err != nil {
		t.Fatal(err)
	}

	active, err := m.List(ctx, ListInput{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 2 || active[0].ID != b.Gap.ID {
		t.Errorf("active gaps = %+v, want b first then a", active)
	}

	resolved, _ := m.List(ctx, ListInput{Status: vault.GapResolved})
	if len(resolved) != 1 || resolved[0].ID != c.Gap.ID {
		t.Errorf("resolved gaps = %+v", resolved)
	}
	frontend, _ := m.List(ctx, ListInput{Domain: vault.DomainFrontend})
	if len(frontend) != 1 {
		t.Errorf("frontend gaps = %d, want 1", len(frontend))
	}
	if _, err := m.List(ctx, ListInput{Status: "closed"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad status err = %v, want validation", err)
	}
}
