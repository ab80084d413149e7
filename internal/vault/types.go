// Package vault holds the domain model of the module knowledge graph:
// modules, dependency edges, knowledge gaps and the enums that constrain
// them.
//
// Enums follow one shape: a string type, its constants, a validity set and
// a Validate function returning a validation error listing allowed values.
package vault

import (
	"sort"
	"strings"

	"github.com/HendryAvila/modvault/internal/apperr"
)

func allowed[T ~string](set map[T]bool) string {
	vals := make([]string, 0, len(set))
	for v := range set {
		vals = append(vals, string(v))
	}
	sort.Strings(vals)
	return strings.Join(vals, ", ")
}

// --- Domain ---

// Domain is the top-level knowledge area a module belongs to.
type Domain string

const (
	DomainSecurity     Domain = "security"
	DomainBackend      Domain = "backend"
	DomainFrontend     Domain = "frontend"
	DomainArchitecture Domain = "architecture"
	DomainDevOps       Domain = "devops"
	DomainPlaybook     Domain = "playbook"
)

var validDomains = map[Domain]bool{
	DomainSecurity:     true,
	DomainBackend:      true,
	DomainFrontend:     true,
	DomainArchitecture: true,
	DomainDevOps:       true,
	DomainPlaybook:     true,
}

// Domains lists every domain in display order.
var Domains = []Domain{DomainSecurity, DomainBackend, DomainFrontend, DomainArchitecture, DomainDevOps, DomainPlaybook}

// ValidateDomain returns a validation error if d is not recognized.
func ValidateDomain(d Domain) error {
	if !validDomains[d] {
		return apperr.Validationf("invalid domain %q: must be one of: %s", d, allowed(validDomains))
	}
	return nil
}

// --- Module type ---

// ModuleType describes what shape of knowledge a module carries.
type ModuleType string

const (
	TypeSnippet         ModuleType = "snippet"
	TypeFullModule      ModuleType = "full_module"
	TypeSchemaMigration ModuleType = "schema_migration"
	TypeArchitectureDoc ModuleType = "architecture_doc"
	TypePlaybookPhase   ModuleType = "playbook_phase"
	TypePatternGuide    ModuleType = "pattern_guide"
)

var validModuleTypes = map[ModuleType]bool{
	TypeSnippet:         true,
	TypeFullModule:      true,
	TypeSchemaMigration: true,
	TypeArchitectureDoc: true,
	TypePlaybookPhase:   true,
	TypePatternGuide:    true,
}

// ValidateModuleType returns a validation error if t is not recognized.
func ValidateModuleType(t ModuleType) error {
	if !validModuleTypes[t] {
		return apperr.Validationf("invalid module_type %q: must be one of: %s", t, allowed(validModuleTypes))
	}
	return nil
}

// --- Difficulty ---

// Difficulty is the expected skill level to apply a module.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

var validDifficulties = map[Difficulty]bool{
	DifficultyBeginner:     true,
	DifficultyIntermediate: true,
	DifficultyAdvanced:     true,
}

// ValidateDifficulty returns a validation error if d is not recognized.
func ValidateDifficulty(d Difficulty) error {
	if !validDifficulties[d] {
		return apperr.Validationf("invalid difficulty %q: must be one of: %s", d, allowed(validDifficulties))
	}
	return nil
}

// --- Validation status ---

// ValidationStatus tracks editorial state. Deprecated doubles as the soft
// delete marker.
type ValidationStatus string

const (
	StatusDraft      ValidationStatus = "draft"
	StatusValidated  ValidationStatus = "validated"
	StatusDeprecated ValidationStatus = "deprecated"
)

var validStatuses = map[ValidationStatus]bool{
	StatusDraft:      true,
	StatusValidated:  true,
	StatusDeprecated: true,
}

// ValidateStatus returns a validation error if s is not recognized.
func ValidateStatus(s ValidationStatus) error {
	if !validStatuses[s] {
		return apperr.Validationf("invalid validation_status %q: must be one of: %s", s, allowed(validStatuses))
	}
	return nil
}

// --- Visibility ---

// Visibility controls who may read a module. Private modules are visible
// to their owner only.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityGlobal  Visibility = "global"
)

var validVisibilities = map[Visibility]bool{
	VisibilityPrivate: true,
	VisibilityShared:  true,
	VisibilityGlobal:  true,
}

// ValidateVisibility returns a validation error if v is not recognized.
func ValidateVisibility(v Visibility) error {
	if !validVisibilities[v] {
		return apperr.Validationf("invalid visibility %q: must be one of: %s", v, allowed(validVisibilities))
	}
	return nil
}

// --- Dependency type ---

// DependencyType distinguishes hard prerequisites from suggestions.
type DependencyType string

const (
	DependencyRequired    DependencyType = "required"
	DependencyRecommended DependencyType = "recommended"
)

var validDependencyTypes = map[DependencyType]bool{
	DependencyRequired:    true,
	DependencyRecommended: true,
}

// ValidateDependencyType returns a validation error if t is not recognized.
func ValidateDependencyType(t DependencyType) error {
	if !validDependencyTypes[t] {
		return apperr.Validationf("invalid dependency_type %q: must be one of: %s", t, allowed(validDependencyTypes))
	}
	return nil
}
