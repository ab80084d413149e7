package modules

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/HendryAvila/modvault/internal/embed"
	"github.com/HendryAvila/modvault/internal/store"
)

// DefaultRefreshTimeout bounds one background embedding job.
const DefaultRefreshTimeout = 30 * time.Second

// Refresher regenerates module embeddings in the background. Jobs are
// detached from the request that started them: the caller's response never
// waits on the embedding provider, and a failed job leaves the previous
// vector in place.
type Refresher struct {
	store    *store.Store
	embedder embed.Embedder
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewRefresher creates a Refresher. A zero timeout uses
// DefaultRefreshTimeout.
func NewRefresher(s *store.Store, e embed.Embedder, logger *slog.Logger, timeout time.Duration) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Refresher{store: s, embedder: e, logger: logger, timeout: timeout}
}

// Refresh embeds text and stores it as module id's vector, asynchronously.
// A job whose text has been superseded by a later update stores nothing.
func (r *Refresher) Refresh(ctx context.Context, id, text string) {
	if r == nil || r.embedder == nil || text == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	source := store.ContentDigest(text)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		vec, err := r.embedder.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, embed.ErrDisabled) {
				return
			}
			r.logger.Warn("embedding refresh failed", "module_id", id, "err", err)
			return
		}
		stored, err := r.store.SetEmbedding(ctx, id, source, vec)
		if err != nil {
			r.logger.Warn("storing embedding failed", "module_id", id, "err", err)
			return
		}
		if !stored {
			r.logger.Debug("embedding superseded", "module_id", id)
			return
		}
		r.logger.Debug("embedding refreshed", "module_id", id, "dimension", len(vec))
	}()
}

// Wait blocks until every started job has finished.
func (r *Refresher) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
