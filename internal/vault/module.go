package vault

import (
	"strings"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
)

// DefaultVersion is assigned to modules created without a version.
const DefaultVersion = "0.1.0"

// CommonError documents one failure mode a module addresses.
type CommonError struct {
	Error string `json:"error" yaml:"error"`
	Cause string `json:"cause,omitempty" yaml:"cause,omitempty"`
	Fix   string `json:"fix,omitempty" yaml:"fix,omitempty"`
}

// Module is a reusable unit of knowledge: code plus the context an agent
// needs to apply it correctly.
type Module struct {
	ID                  string           `json:"id"`
	Slug                string           `json:"slug"`
	Title               string           `json:"title"`
	Description         string           `json:"description,omitempty"`
	Domain              Domain           `json:"domain"`
	ModuleType          ModuleType       `json:"module_type"`
	Language            string           `json:"language,omitempty"`
	Code                string           `json:"code,omitempty"`
	CodeExample         string           `json:"code_example,omitempty"`
	Context             string           `json:"context,omitempty"`
	Tags                []string         `json:"tags"`
	WhyItMatters        string           `json:"why_it_matters,omitempty"`
	UsageHint           string           `json:"usage_hint,omitempty"`
	CommonErrors        []CommonError    `json:"common_errors"`
	SolvesProblems      []string         `json:"solves_problems"`
	Prerequisites       []string         `json:"prerequisites"`
	TestCode            string           `json:"test_code,omitempty"`
	Difficulty          Difficulty       `json:"difficulty"`
	EstimatedEffort     string           `json:"estimated_effort,omitempty"`
	Version             string           `json:"version"`
	ModuleGroup         string           `json:"module_group,omitempty"`
	ImplementationOrder int              `json:"implementation_order,omitempty"`
	ValidationStatus    ValidationStatus `json:"validation_status"`
	Visibility          Visibility       `json:"visibility"`
	RelatedModules      []string         `json:"related_modules"`
	Embedding           []float32        `json:"-"`
	OwnerID             string           `json:"owner_id"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// VisibleTo reports whether viewer may read m.
func (m *Module) VisibleTo(viewer string) bool {
	return m.Visibility != VisibilityPrivate || m.OwnerID == viewer
}

// EmbeddingText is the text an embedding is computed from.
func (m *Module) EmbeddingText() string {
	all := []string{m.Title, m.Description, m.WhyItMatters, m.UsageHint}
	all = append(all, m.Tags...)
	all = append(all, m.SolvesProblems...)
	all = append(all, m.Code)
	parts := make([]string, 0, len(all))
	for _, p := range all {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// Field is an optional patch value. Set distinguishes "leave untouched"
// from "set to the zero value".
type Field[T any] struct {
	Set   bool
	Value T
}

// Some returns a set Field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

func (f Field[T]) apply(dst *T) bool {
	if f.Set {
		*dst = f.Value
	}
	return f.Set
}

// Patch is a partial module update. Only the fields below may change
// through an update; identity, ownership and timestamps are fixed.
type Patch struct {
	Title               Field[string]
	Description         Field[string]
	Domain              Field[Domain]
	ModuleType          Field[ModuleType]
	Language            Field[string]
	Code                Field[string]
	CodeExample         Field[string]
	Context             Field[string]
	Tags                Field[[]string]
	WhyItMatters        Field[string]
	UsageHint           Field[string]
	CommonErrors        Field[[]CommonError]
	SolvesProblems      Field[[]string]
	Prerequisites       Field[[]string]
	TestCode            Field[string]
	Difficulty          Field[Difficulty]
	EstimatedEffort     Field[string]
	Version             Field[string]
	ModuleGroup         Field[string]
	ImplementationOrder Field[int]
	ValidationStatus    Field[ValidationStatus]
	Visibility          Field[Visibility]
	RelatedModules      Field[[]string]
}

// Validate checks every set enum field.
func (p *Patch) Validate() error {
	if p.Title.Set && strings.TrimSpace(p.Title.Value) == "" {
		return apperr.Validationf("title cannot be empty")
	}
	if p.Domain.Set {
		if err := ValidateDomain(p.Domain.Value); err != nil {
			return err
		}
	}
	if p.ModuleType.Set {
		if err := ValidateModuleType(p.ModuleType.Value); err != nil {
			return err
		}
	}
	if p.Difficulty.Set {
		if err := ValidateDifficulty(p.Difficulty.Value); err != nil {
			return err
		}
	}
	if p.ValidationStatus.Set {
		if err := ValidateStatus(p.ValidationStatus.Value); err != nil {
			return err
		}
	}
	if p.Visibility.Set {
		if err := ValidateVisibility(p.Visibility.Value); err != nil {
			return err
		}
	}
	return nil
}

// Apply writes every set field onto m and reports which fields changed
// and whether any of them feed the embedding.
func (p *Patch) Apply(m *Module) (touched []string, reembed bool) {
	mark := func(name string, set bool, embeds bool) {
		if !set {
			return
		}
		touched = append(touched, name)
		if embeds {
			reembed = true
		}
	}
	mark("title", p.Title.apply(&m.Title), true)
	mark("description", p.Description.apply(&m.Description), true)
	mark("domain", p.Domain.apply(&m.Domain), false)
	mark("module_type", p.ModuleType.apply(&m.ModuleType), false)
	mark("language", p.Language.apply(&m.Language), false)
	mark("code", p.Code.apply(&m.Code), true)
	mark("code_example", p.CodeExample.apply(&m.CodeExample), false)
	mark("context", p.Context.apply(&m.Context), false)
	mark("tags", p.Tags.apply(&m.Tags), true)
	mark("why_it_matters", p.WhyItMatters.apply(&m.WhyItMatters), true)
	mark("usage_hint", p.UsageHint.apply(&m.UsageHint), true)
	mark("common_errors", p.CommonErrors.apply(&m.CommonErrors), false)
	mark("solves_problems", p.SolvesProblems.apply(&m.SolvesProblems), true)
	mark("prerequisites", p.Prerequisites.apply(&m.Prerequisites), false)
	mark("test_code", p.TestCode.apply(&m.TestCode), false)
	mark("difficulty", p.Difficulty.apply(&m.Difficulty), false)
	mark("estimated_effort", p.EstimatedEffort.apply(&m.EstimatedEffort), false)
	mark("version", p.Version.apply(&m.Version), false)
	mark("module_group", p.ModuleGroup.apply(&m.ModuleGroup), false)
	mark("implementation_order", p.ImplementationOrder.apply(&m.ImplementationOrder), false)
	mark("validation_status", p.ValidationStatus.apply(&m.ValidationStatus), false)
	mark("visibility", p.Visibility.apply(&m.Visibility), false)
	mark("related_modules", p.RelatedModules.apply(&m.RelatedModules), false)
	return touched, reembed
}

// Dependency is a directed edge: ModuleID depends on DependsOnID.
type Dependency struct {
	ModuleID       string         `json:"module_id"`
	DependsOnID    string         `json:"depends_on_id"`
	DependencyType DependencyType `json:"dependency_type"`
	CreatedAt      time.Time      `json:"created_at"`
}
