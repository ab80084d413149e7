package tools

import "github.com/HendryAvila/modvault/internal/vault"

// Detail levels for get_module. Summary drops every code field, standard
// drops test code, full returns the module as stored.
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// DetailLevelValues returns the enum values for tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level, defaulting to standard.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// withDetail returns a copy of m trimmed to level.
func withDetail(m *vault.Module, level string) *vault.Module {
	c := *m
	switch level {
	case DetailSummary:
		c.Code = ""
		c.CodeExample = ""
		c.TestCode = ""
		c.Context = ""
	case DetailStandard:
		c.TestCode = ""
	}
	return &c
}

// EstimateTokens approximates the token count of text with the chars/4
// heuristic. Non-empty text is at least one token.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	if n < 4 {
		return 1
	}
	return n / 4
}

// moduleTokens estimates what m costs to put in context.
func moduleTokens(m *vault.Module) int {
	return EstimateTokens(m.EmbeddingText()) +
		EstimateTokens(m.Code) +
		EstimateTokens(m.CodeExample) +
		EstimateTokens(m.TestCode)
}
