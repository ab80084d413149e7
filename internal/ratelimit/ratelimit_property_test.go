package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/HendryAvila/modvault/internal/clock"
	"pgregory.net/rapid"
)

// Within one window, exactly MaxAttempts calls are admitted no matter how
// many are attempted, and a blocked identifier stays blocked until Block
// has elapsed.
func TestCheckAndRecord_Property_AdmitsAtMostMax(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Policy{
			MaxAttempts: rapid.IntRange(1, 20).Draw(t, "max"),
			Window:      time.Duration(rapid.IntRange(10, 600).Draw(t, "window")) * time.Second,
			Block:       time.Duration(rapid.IntRange(1, 600).Draw(t, "block")) * time.Second,
		}
		calls := rapid.IntRange(1, 60).Draw(t, "calls")

		clk := clock.NewFake(start)
		l := New(newMemCounters(), clk)
		ctx := context.Background()

		allowed := 0
		for i := 0; i < calls; i++ {
			d, err := l.CheckAndRecord(ctx, "id", ActionAgentTools, p)
			if err != nil {
				t.Fatalf("CheckAndRecord: %v", err)
			}
			if d.Allowed {
				allowed++
			} else if d.RetryAfter <= 0 || d.RetryAfter > p.Block {
				t.Fatalf("retry after %v outside (0, %v]", d.RetryAfter, p.Block)
			}
		}
		want := min(calls, p.MaxAttempts)
		if allowed != want {
			t.Fatalf("allowed %d of %d calls, want %d", allowed, calls, want)
		}

		if calls > p.MaxAttempts {
			clk.Advance(p.Block - time.Nanosecond)
			if d, _ := l.CheckAndRecord(ctx, "id", ActionAgentTools, p); d.Allowed {
				t.Fatal("admitted before the block expired")
			}
			clk.Advance(time.Nanosecond)
			d, _ := l.CheckAndRecord(ctx, "id", ActionAgentTools, p)
			if !d.Allowed || d.Attempts != 1 {
				t.Fatalf("after block = %+v, want fresh window", d)
			}
		}
	})
}
