package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ─── Rate-limit counters ─────────────────────────────────────────────────────

// Counter is the persisted attempt record for one (identifier, action).
type Counter struct {
	Identifier    string
	Action        string
	Attempts      int
	LastAttemptAt time.Time
	BlockedUntil  *time.Time
}

// GetCounter returns the counter row, or nil when none exists yet.
func (s *Store) GetCounter(ctx context.Context, identifier, action string) (*Counter, error) {
	c := Counter{Identifier: identifier, Action: action}
	var (
		last    string
		blocked sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attempts, last_attempt_at, blocked_until
		 FROM rate_limit_counters WHERE identifier = ? AND action = ?`,
		identifier, action,
	).Scan(&c.Attempts, &last, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rate counter: %w", err)
	}
	c.LastAttemptAt = parseTime(last)
	c.BlockedUntil = parseNullableTime(blocked)
	return &c, nil
}

// PutCounter upserts c.
func (s *Store) PutCounter(ctx context.Context, c *Counter) error {
	_, err := s.execHook(ctx, s.db,
		`INSERT INTO rate_limit_counters (identifier, action, attempts, last_attempt_at, blocked_until)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(identifier, action) DO UPDATE SET
		     attempts = excluded.attempts,
		     last_attempt_at = excluded.last_attempt_at,
		     blocked_until = excluded.blocked_until`,
		c.Identifier, c.Action, c.Attempts, formatTime(c.LastAttemptAt), formatNullableTime(c.BlockedUntil),
	)
	if err != nil {
		return fmt.Errorf("writing rate counter: %w", err)
	}
	return nil
}
