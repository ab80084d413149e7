package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/HendryAvila/modvault/internal/embed"
	"github.com/HendryAvila/modvault/internal/vault"
)

// ─── Hybrid search (FTS5 + vectors) ──────────────────────────────────────────

const (
	// rrfK dampens the weight of top ranks in reciprocal rank fusion.
	rrfK = 60

	// minSimilarity drops vector candidates that are merely noise.
	minSimilarity = 0.25

	maxSearchLimit = 50
)

// SearchFilter narrows HybridSearch. Deprecated modules never match.
type SearchFilter struct {
	Viewer     string
	Domain     vault.Domain
	ModuleType vault.ModuleType
	Limit      int
}

// SearchHit is one ranked module. Score is the fused relevance in (0, 1].
type SearchHit struct {
	Module     vault.Module `json:"module"`
	Score      float64      `json:"score"`
	TextRank   int          `json:"text_rank,omitempty"`
	Similarity float64      `json:"similarity,omitempty"`
}

type candidate struct {
	id    string
	rank  int
	score float64
}

// HybridSearch ranks modules against text (FTS5 bm25) and vector (cosine
// similarity) and fuses both rankings with reciprocal rank fusion. A nil
// vector searches by text alone; an empty text searches by vector alone.
func (s *Store) HybridSearch(ctx context.Context, text string, vector []float32, f SearchFilter) ([]SearchHit, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	pool := max(limit*4, 50)

	ftsQuery := sanitizeFTS(text)
	channels := 0

	var textHits []candidate
	if ftsQuery != "" {
		channels++
		var err error
		textHits, err = s.textCandidates(ctx, ftsQuery, f, pool)
		if err != nil {
			return nil, err
		}
	}

	var vecHits []candidate
	if len(vector) > 0 {
		channels++
		var err error
		vecHits, err = s.vectorCandidates(ctx, vector, f, pool)
		if err != nil {
			return nil, err
		}
	}
	if channels == 0 {
		return nil, nil
	}

	type fused struct {
		id         string
		raw        float64
		textRank   int
		similarity float64
	}
	byID := make(map[string]*fused)
	get := func(id string) *fused {
		if e, ok := byID[id]; ok {
			return e
		}
		e := &fused{id: id}
		byID[id] = e
		return e
	}
	for _, c := range textHits {
		e := get(c.id)
		e.raw += 1.0 / float64(rrfK+c.rank)
		e.textRank = c.rank
	}
	for _, c := range vecHits {
		e := get(c.id)
		e.raw += 1.0 / float64(rrfK+c.rank)
		e.similarity = c.score
	}

	ranked := make([]*fused, 0, len(byID))
	for _, e := range byID {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].raw != ranked[j].raw {
			return ranked[i].raw > ranked[j].raw
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]string, len(ranked))
	for i, e := range ranked {
		ids[i] = e.id
	}
	mods, err := s.ModulesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading search hits: %w", err)
	}

	best := float64(channels) / float64(rrfK+1)
	hits := make([]SearchHit, 0, len(ranked))
	for _, e := range ranked {
		m, ok := mods[e.id]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			Module:     *m,
			Score:      e.raw / best,
			TextRank:   e.textRank,
			Similarity: e.similarity,
		})
	}
	return hits, nil
}

func (s *Store) textCandidates(ctx context.Context, ftsQuery string, f SearchFilter, pool int) ([]candidate, error) {
	query := `
		SELECT m.id
		FROM modules_fts fts
		JOIN modules m ON m.rowid = fts.rowid
		WHERE modules_fts MATCH ?
		  AND m.validation_status != 'deprecated'
		  AND ` + visibleClause("m")
	args := []any{ftsQuery, f.Viewer}
	query, args = appendSearchFilter(query, args, f)
	query += " ORDER BY fts.rank LIMIT ?"
	args = append(args, pool)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []candidate
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, candidate{id: id, rank: len(out) + 1})
	}
	return out, rows.Err()
}

func (s *Store) vectorCandidates(ctx context.Context, vector []float32, f SearchFilter, pool int) ([]candidate, error) {
	query := `
		SELECT m.id, m.embedding
		FROM modules m
		WHERE m.embedding IS NOT NULL
		  AND m.validation_status != 'deprecated'
		  AND ` + visibleClause("m")
	args := []any{f.Viewer}
	query, args = appendSearchFilter(query, args, f)
	query += " ORDER BY m.updated_at DESC LIMIT ?"
	args = append(args, s.cfg.MaxScan)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []candidate
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		sim := embed.Cosine(vector, embed.DecodeVector(blob))
		if sim < minSimilarity {
			continue
		}
		out = append(out, candidate{id: id, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	if len(out) > pool {
		out = out[:pool]
	}
	for i := range out {
		out[i].rank = i + 1
	}
	return out, nil
}

func appendSearchFilter(query string, args []any, f SearchFilter) (string, []any) {
	if f.Domain != "" {
		query += " AND m.domain = ?"
		args = append(args, string(f.Domain))
	}
	if f.ModuleType != "" {
		query += " AND m.module_type = ?"
		args = append(args, string(f.ModuleType))
	}
	return query, args
}
