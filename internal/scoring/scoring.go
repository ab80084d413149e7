// Package scoring measures how complete a module's documentation is.
//
// The score is a weighted checklist over the fields an agent relies on to
// apply a module correctly: why it exists, how to use it, what it fixes.
// It depends only on which fields are filled, never on their content, so
// filling a missing field can only raise the score.
package scoring

import (
	"sort"
	"strings"

	"github.com/HendryAvila/modvault/internal/vault"
)

// HealthThreshold is the score below which a module is reported as needing
// attention.
const HealthThreshold = 60

// Check is one weighted checklist item.
type Check struct {
	Field       string `json:"field"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
	Present     bool   `json:"present"`
}

type rule struct {
	field       string
	description string
	weight      int
	present     func(m *vault.Module) bool
}

// Weights sum to 100.
var checklist = []rule{
	{"why_it_matters", "Why does this module exist? What goes wrong without it?", 20,
		func(m *vault.Module) bool { return filled(m.WhyItMatters) }},
	{"usage_hint", "When and how should an agent apply it?", 15,
		func(m *vault.Module) bool { return filled(m.UsageHint) }},
	{"code_example", "A short example of the module in use", 15,
		func(m *vault.Module) bool { return filled(m.CodeExample) }},
	{"solves_problems", "Problem statements this module answers", 15,
		func(m *vault.Module) bool { return anyFilled(m.SolvesProblems) }},
	{"common_errors", "Error messages this module fixes, with cause and fix", 15,
		func(m *vault.Module) bool {
			for _, ce := range m.CommonErrors {
				if filled(ce.Error) {
					return true
				}
			}
			return false
		}},
	{"tags", "Search tags", 10,
		func(m *vault.Module) bool { return anyFilled(m.Tags) }},
	{"description", "One-paragraph summary", 5,
		func(m *vault.Module) bool { return filled(m.Description) }},
	{"test_code", "Tests proving the module works", 5,
		func(m *vault.Module) bool { return filled(m.TestCode) }},
}

// Report is the completeness analysis of one module.
type Report struct {
	ModuleID      string   `json:"module_id,omitempty"`
	Title         string   `json:"title,omitempty"`
	Score         int      `json:"score"`
	MissingFields []string `json:"missing_fields"`
	Checks        []Check  `json:"checks,omitempty"`
}

// Healthy reports whether the score meets HealthThreshold.
func (r Report) Healthy() bool {
	return r.Score >= HealthThreshold
}

// Score evaluates m against the checklist.
func Score(m *vault.Module) Report {
	r := Report{
		ModuleID:      m.ID,
		Title:         m.Title,
		MissingFields: []string{},
		Checks:        make([]Check, 0, len(checklist)),
	}
	for _, c := range checklist {
		ok := c.present(m)
		r.Checks = append(r.Checks, Check{
			Field:       c.field,
			Description: c.description,
			Weight:      c.weight,
			Present:     ok,
		})
		if ok {
			r.Score += c.weight
		} else {
			r.MissingFields = append(r.MissingFields, c.field)
		}
	}
	return r
}

// Audit scores up to limit modules (all when limit <= 0) and returns the
// reports weakest first, ties broken by title. Per-check detail is omitted.
func Audit(mods []vault.Module, limit int) []Report {
	if limit > 0 && len(mods) > limit {
		mods = mods[:limit]
	}
	out := make([]Report, 0, len(mods))
	for i := range mods {
		r := Score(&mods[i])
		r.Checks = nil
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// Summary aggregates an audit.
type Summary struct {
	Audited      int     `json:"audited"`
	AverageScore float64 `json:"average_score"`
	BelowHealth  int     `json:"below_health_threshold"`
	// MostMissing counts how often each field is missing, most common first.
	MostMissing []FieldCount `json:"most_missing"`
}

// FieldCount pairs a checklist field with a count.
type FieldCount struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// Summarize aggregates reports.
func Summarize(reports []Report) Summary {
	s := Summary{Audited: len(reports), MostMissing: []FieldCount{}}
	if len(reports) == 0 {
		return s
	}
	counts := make(map[string]int)
	total := 0
	for _, r := range reports {
		total += r.Score
		if !r.Healthy() {
			s.BelowHealth++
		}
		for _, f := range r.MissingFields {
			counts[f]++
		}
	}
	s.AverageScore = float64(total) / float64(len(reports))
	for _, c := range checklist {
		if n := counts[c.field]; n > 0 {
			s.MostMissing = append(s.MostMissing, FieldCount{Field: c.field, Count: n})
		}
	}
	sort.SliceStable(s.MostMissing, func(i, j int) bool {
		return s.MostMissing[i].Count > s.MostMissing[j].Count
	})
	return s
}

func filled(s string) bool {
	return strings.TrimSpace(s) != ""
}

func anyFilled(items []string) bool {
	for _, s := range items {
		if filled(s) {
			return true
		}
	}
	return false
}
