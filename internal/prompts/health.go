package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// HealthPrompt handles the vault-health prompt.
// It asks the agent to review the vault and propose the next fixes.
type HealthPrompt struct{}

// NewHealthPrompt creates a HealthPrompt.
func NewHealthPrompt() *HealthPrompt {
	return &HealthPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *HealthPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("vault-health",
		mcp.WithPromptDescription(
			"Review the vault: open gaps, weakly documented modules, "+
				"and what to improve first.",
		),
	)
}

// Handle processes the vault-health prompt request.
func (p *HealthPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Vault health review",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `vault_stats`, then `diagnose` with no error_message for a health check.\n\n" +
						"Then:\n" +
						"1. Summarize module counts per domain and the foundation modules\n" +
						"2. List the most reported open gaps\n" +
						"3. Run `audit_vault` and name the fields most often missing\n" +
						"4. Suggest the three changes that would help agents most",
				),
			},
		},
	}, nil
}
