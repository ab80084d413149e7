package vault

import (
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
)

// GapStatus tracks a knowledge gap through its lifecycle:
//
//	open → investigating → resolved
//	  ↘─────────────↘──────→ promoted_to_module (terminal)
type GapStatus string

const (
	GapOpen          GapStatus = "open"
	GapInvestigating GapStatus = "investigating"
	GapResolved      GapStatus = "resolved"
	GapPromoted      GapStatus = "promoted_to_module"
)

var validGapStatuses = map[GapStatus]bool{
	GapOpen:          true,
	GapInvestigating: true,
	GapResolved:      true,
	GapPromoted:      true,
}

// ValidateGapStatus returns a validation error if s is not recognized.
func ValidateGapStatus(s GapStatus) error {
	if !validGapStatuses[s] {
		return apperr.Validationf("invalid gap status %q: must be one of: %s", s, allowed(validGapStatuses))
	}
	return nil
}

// Active reports whether the gap still accepts duplicate reports.
func (s GapStatus) Active() bool {
	return s == GapOpen || s == GapInvestigating
}

var gapTransitions = map[GapStatus]map[GapStatus]bool{
	GapOpen:          {GapInvestigating: true, GapResolved: true, GapPromoted: true},
	GapInvestigating: {GapResolved: true, GapPromoted: true},
	GapResolved:      {GapResolved: true, GapPromoted: true},
	GapPromoted:      {},
}

// CanTransitionGap returns a validation error if a gap in status from may
// not move to status to. Re-resolving a resolved gap is allowed so a
// better fix can replace the old one; a promoted gap never changes.
func CanTransitionGap(from, to GapStatus) error {
	if from == GapPromoted {
		return apperr.Validationf("gap already promoted to a module; it can no longer change")
	}
	if !gapTransitions[from][to] {
		return apperr.Validationf("gap cannot move from %s to %s", from, to)
	}
	return nil
}

// KnowledgeGap records an error nobody in the vault could answer yet.
type KnowledgeGap struct {
	ID               string     `json:"id"`
	ErrorMessage     string     `json:"error_message"`
	Context          string     `json:"context,omitempty"`
	Domain           Domain     `json:"domain,omitempty"`
	Tags             []string   `json:"tags"`
	HitCount         int        `json:"hit_count"`
	Status           GapStatus  `json:"status"`
	Resolution       string     `json:"resolution,omitempty"`
	ResolutionCode   string     `json:"resolution_code,omitempty"`
	PromotedModuleID string     `json:"promoted_module_id,omitempty"`
	ReportedBy       string     `json:"reported_by"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
