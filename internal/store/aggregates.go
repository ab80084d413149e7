package store

import (
	"context"
	"fmt"

	"github.com/HendryAvila/modvault/internal/vault"
)

// ─── Aggregates ──────────────────────────────────────────────────────────────

// DomainAggregate counts the modules of one domain visible to a viewer.
type DomainAggregate struct {
	Domain     vault.Domain `json:"domain"`
	Modules    int          `json:"modules"`
	Validated  int          `json:"validated"`
	Drafts     int          `json:"drafts"`
	Deprecated int          `json:"deprecated"`
	Embedded   int          `json:"embedded"`
}

// VaultStats holds vault-wide totals.
type VaultStats struct {
	Domains      []DomainAggregate `json:"domains"`
	TotalModules int               `json:"total_modules"`
	Dependencies int               `json:"dependencies"`
	OpenGaps     int               `json:"open_gaps"`
	ResolvedGaps int               `json:"resolved_gaps"`
	PromotedGaps int               `json:"promoted_gaps"`
}

// DomainAggregates counts visible modules per domain. Every domain is
// listed, including empty ones, in display order.
func (s *Store) DomainAggregates(ctx context.Context, viewer string) ([]DomainAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.domain,
		        COUNT(*),
		        SUM(CASE WHEN m.validation_status = 'validated'  THEN 1 ELSE 0 END),
		        SUM(CASE WHEN m.validation_status = 'draft'      THEN 1 ELSE 0 END),
		        SUM(CASE WHEN m.validation_status = 'deprecated' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN m.embedding IS NOT NULL            THEN 1 ELSE 0 END)
		 FROM modules m
		 WHERE `+visibleClause("m")+`
		 GROUP BY m.domain`, viewer)
	if err != nil {
		return nil, fmt.Errorf("aggregating domains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byDomain := make(map[vault.Domain]DomainAggregate)
	for rows.Next() {
		var (
			a      DomainAggregate
			domain string
		)
		if err := rows.Scan(&domain, &a.Modules, &a.Validated, &a.Drafts, &a.Deprecated, &a.Embedded); err != nil {
			return nil, err
		}
		a.Domain = vault.Domain(domain)
		byDomain[a.Domain] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DomainAggregate, 0, len(vault.Domains))
	for _, d := range vault.Domains {
		a := byDomain[d]
		a.Domain = d
		out = append(out, a)
	}
	return out, nil
}

// Stats returns vault-wide totals as seen by viewer.
func (s *Store) Stats(ctx context.Context, viewer string) (*VaultStats, error) {
	domains, err := s.DomainAggregates(ctx, viewer)
	if err != nil {
		return nil, err
	}
	st := &VaultStats{Domains: domains}
	for _, d := range domains {
		st.TotalModules += d.Modules
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM module_dependencies`).Scan(&st.Dependencies); err != nil {
		return nil, fmt.Errorf("counting dependencies: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN status IN ('open', 'investigating') THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = 'resolved' THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = 'promoted_to_module' THEN 1 ELSE 0 END), 0)
		 FROM knowledge_gaps`,
	).Scan(&st.OpenGaps, &st.ResolvedGaps, &st.PromotedGaps)
	if err != nil {
		return nil, fmt.Errorf("counting gaps: %w", err)
	}
	return st, nil
}
