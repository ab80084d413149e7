// Package usage records tool invocations without slowing them down.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/store"
)

// Event types.
const (
	EventToolCall  = "tool_call"
	EventToolError = "tool_error"
)

const recordTimeout = 5 * time.Second

// Sink persists events. *store.Store satisfies it.
type Sink interface {
	RecordUsage(ctx context.Context, ev store.UsageEvent) error
	UsageStats(ctx context.Context, since time.Time, userID string) (*store.UsageStats, error)
}

// Tracker appends usage events in the background.
type Tracker struct {
	sink    Sink
	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTracker creates a Tracker.
func NewTracker(sink Sink, clk clock.Clock, logger *slog.Logger) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{sink: sink, clock: clk, logger: logger, timeout: recordTimeout}
}

// Record stores ev asynchronously. It never blocks on the sink and never
// fails; write errors are logged.
func (t *Tracker) Record(ctx context.Context, ev store.UsageEvent) {
	if t == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.clock.Now()
	}
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		if err := t.sink.RecordUsage(ctx, ev); err != nil {
			t.logger.Warn("usage event dropped", "tool", ev.ToolName, "err", err)
		}
	}()
}

// Wait blocks until pending events are written.
func (t *Tracker) Wait() {
	if t == nil {
		return
	}
	t.wg.Wait()
}

// Stats aggregates events from the last window for userID, or for everyone
// when userID is empty.
func (t *Tracker) Stats(ctx context.Context, window time.Duration, userID string) (*store.UsageStats, error) {
	if window <= 0 {
		return nil, apperr.Validationf("window must be positive")
	}
	st, err := t.sink.UsageStats(ctx, t.clock.Now().Add(-window), userID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load usage stats")
	}
	return st, nil
}
