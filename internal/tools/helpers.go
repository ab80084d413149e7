// Package tools implements the agent tool catalogue.
//
// Each tool is a struct holding its dependencies, with Definition()
// returning the mcp.Tool schema and Handle() doing the work. Handlers
// return data plus a hint for the agent's next step; the dispatcher wraps
// them in the {ok, data, hint} envelope, so a handler never formats errors
// itself.
package tools

import (
	"context"
	"strings"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/auth"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/mark3labs/mcp-go/mcp"
)

// caller returns the authenticated owner of the request.
func caller(ctx context.Context) string {
	ac, _ := auth.FromContext(ctx)
	return ac.OwnerID
}

// has reports whether key was sent, even as a zero value.
func has(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultVal
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringsArg extracts an array of strings. Non-string items are an error.
func stringsArg(req mcp.CallToolRequest, key string) ([]string, error) {
	switch v := req.GetArguments()[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.Validationf("%s must be an array of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		// Tolerate a comma-separated list.
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, apperr.Validationf("%s must be an array of strings", key)
}

// commonErrorsArg extracts an array of {error, cause, fix} objects.
func commonErrorsArg(req mcp.CallToolRequest, key string) ([]vault.CommonError, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, apperr.Validationf("%s must be an array of objects", key)
	}
	out := make([]vault.CommonError, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.Validationf("%s[%d] must be an object", key, i)
		}
		ce := vault.CommonError{
			Error: str(obj["error"]),
			Cause: str(obj["cause"]),
			Fix:   str(obj["fix"]),
		}
		if strings.TrimSpace(ce.Error) == "" {
			return nil, apperr.Validationf("%s[%d].error is required", key, i)
		}
		out = append(out, ce)
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// commonErrorsSchema is the item schema of common_errors arrays.
var commonErrorsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"error": map[string]any{"type": "string", "description": "Error message text as it appears"},
		"cause": map[string]any{"type": "string", "description": "Why it happens"},
		"fix":   map[string]any{"type": "string", "description": "How to fix it"},
	},
	"required": []string{"error"},
}

func domainEnum() []string {
	out := make([]string, len(vault.Domains))
	for i, d := range vault.Domains {
		out[i] = string(d)
	}
	return out
}
