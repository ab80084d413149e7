package store

import (
	"context"
	"fmt"
	"time"
)

// ─── Usage events ────────────────────────────────────────────────────────────

// UsageEvent is one append-only tool invocation record.
type UsageEvent struct {
	EventType   string    `json:"event_type"`
	ToolName    string    `json:"tool_name"`
	ModuleID    string    `json:"module_id,omitempty"`
	QueryText   string    `json:"query_text,omitempty"`
	ResultCount int       `json:"result_count"`
	UserID      string    `json:"user_id"`
	KeyID       string    `json:"key_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToolUsage aggregates events for one tool.
type ToolUsage struct {
	ToolName string `json:"tool_name"`
	Calls    int    `json:"calls"`
	Errors   int    `json:"errors"`
}

// UsageStats summarizes usage since a point in time.
type UsageStats struct {
	Since       time.Time   `json:"since"`
	TotalEvents int         `json:"total_events"`
	Tools       []ToolUsage `json:"tools"`
	TopModules  []string    `json:"top_modules"`
}

// RecordUsage appends ev. A zero CreatedAt is stamped with the store clock.
func (s *Store) RecordUsage(ctx context.Context, ev UsageEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.execHook(ctx, s.db,
		`INSERT INTO usage_events (event_type, tool_name, module_id, query_text, result_count, user_id, key_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventType, ev.ToolName, nullableString(ev.ModuleID), nullableString(ev.QueryText),
		ev.ResultCount, ev.UserID, ev.KeyID, formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// UsageStats aggregates events newer than since, optionally for one user.
func (s *Store) UsageStats(ctx context.Context, since time.Time, userID string) (*UsageStats, error) {
	out := &UsageStats{Since: since, Tools: []ToolUsage{}, TopModules: []string{}}

	where := ` WHERE created_at >= ?`
	args := []any{formatTime(since)}
	if userID != "" {
		where += ` AND user_id = ?`
		args = append(args, userID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, COUNT(*), SUM(CASE WHEN event_type = 'tool_error' THEN 1 ELSE 0 END)
		 FROM usage_events`+where+`
		 GROUP BY tool_name ORDER BY COUNT(*) DESC, tool_name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}
	for rows.Next() {
		var tu ToolUsage
		if err := rows.Scan(&tu.ToolName, &tu.Calls, &tu.Errors); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out.TotalEvents += tu.Calls
		out.Tools = append(out.Tools, tu)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	mrows, err := s.db.QueryContext(ctx,
		`SELECT module_id FROM usage_events`+where+` AND module_id IS NOT NULL
		 GROUP BY module_id ORDER BY COUNT(*) DESC, module_id ASC LIMIT 10`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating module usage: %w", err)
	}
	defer func() { _ = mrows.Close() }()
	for mrows.Next() {
		var id string
		if err := mrows.Scan(&id); err != nil {
			return nil, err
		}
		out.TopModules = append(out.TopModules, id)
	}
	return out, mrows.Err()
}
