package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func TestTroubleshootPrompt(t *testing.T) {
	p := NewTroubleshootPrompt()
	if p.Definition().Name != "troubleshoot" {
		t.Errorf("name = %q, want troubleshoot", p.Definition().Name)
	}

	res, err := p.Handle(context.Background(), promptReq(map[string]string{
		"error_message": "ECONNREFUSED 127.0.0.1:5432",
		"domain":        "backend",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := res.Messages[0].Content.(mcp.TextContent).Text
	for _, want := range []string{"ECONNREFUSED 127.0.0.1:5432", "`diagnose`", `domain="backend"`, "report_gap", "promote=true"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt text missing %q", want)
		}
	}
}

func TestTroubleshootPrompt_RequiresError(t *testing.T) {
	_, err := NewTroubleshootPrompt().Handle(context.Background(), promptReq(map[string]string{"error_message": "  "}))
	if err == nil {
		t.Error("expected an error for a blank error_message")
	}
}

func TestTroubleshootPrompt_LongErrorDescription(t *testing.T) {
	long := strings.Repeat("x", 100)
	res, err := NewTroubleshootPrompt().Handle(context.Background(), promptReq(map[string]string{"error_message": long}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasSuffix(res.Description, "…") {
		t.Errorf("description = %q, want truncated", res.Description)
	}
}

func TestHealthPrompt(t *testing.T) {
	res, err := NewHealthPrompt().Handle(context.Background(), promptReq(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := res.Messages[0].Content.(mcp.TextContent).Text
	if !strings.Contains(text, "vault_stats") {
		t.Errorf("prompt text missing vault_stats: %s", text)
	}
}
