package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HendryAvila/modvault/internal/auth"
	"github.com/mark3labs/mcp-go/mcp"
)

// viewer is the authenticated owner reading the resource.
func viewer(ctx context.Context) string {
	ac, _ := auth.FromContext(ctx)
	return ac.OwnerID
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
