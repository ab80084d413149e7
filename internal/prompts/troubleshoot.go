// Package prompts implements the MCP prompts modvault offers.
//
// Prompts are user-triggered workflows (like slash commands) that walk the
// agent through a sequence of tool calls. Tools are what the agent calls;
// prompts are what the user picks.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// TroubleshootPrompt handles the troubleshoot prompt: diagnose an error,
// apply the best match, and feed the outcome back into the vault.
type TroubleshootPrompt struct{}

// NewTroubleshootPrompt creates a TroubleshootPrompt.
func NewTroubleshootPrompt() *TroubleshootPrompt {
	return &TroubleshootPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *TroubleshootPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("troubleshoot",
		mcp.WithPromptDescription(
			"Fix an error using the vault. Runs diagnose, applies the best match, "+
				"and reports or resolves a knowledge gap so the next agent gets the answer.",
		),
		mcp.WithArgument("error_message",
			mcp.ArgumentDescription("The error text, verbatim"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("domain",
			mcp.ArgumentDescription("Optional domain to narrow the search: "+domainList()),
		),
	)
}

func domainList() string {
	names := make([]string, len(vault.Domains))
	for i, d := range vault.Domains {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}

// Handle processes the troubleshoot prompt request.
func (p *TroubleshootPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	errText := strings.TrimSpace(req.Params.Arguments["error_message"])
	if errText == "" {
		return nil, fmt.Errorf("error_message is required")
	}

	call := fmt.Sprintf("error_message=%q", errText)
	if d := strings.TrimSpace(req.Params.Arguments["domain"]); d != "" {
		call += fmt.Sprintf(", domain=%q", d)
	}

	return &mcp.GetPromptResult{
		Description: "Troubleshoot: " + excerpt(errText, 60),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I hit this error:\n\n```\n%s\n```\n\n"+
						"Please:\n"+
						"1. Run `diagnose` with %s\n"+
						"2. If a match comes back, fetch it with `get_module` and apply its fix. "+
						"Fetch its required dependencies first if the hint says so\n"+
						"3. If a past resolution matches, apply that resolution\n"+
						"4. If nothing matches, call `report_gap` with the error and what I was doing\n"+
						"5. Once the error is fixed and it came from a gap, call `resolve_gap` with promote=true "+
						"so the fix becomes a module",
					errText, call,
				)),
			},
		},
	}, nil
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
