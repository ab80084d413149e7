package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolHandler returns an MCP handler that dispatches tool name and
// returns the Response as JSON text.
func (d *Dispatcher) ToolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		resp := d.Dispatch(ctx, name, args)
		body, err := json.Marshal(resp)
		if err != nil {
			d.logger.Error("encoding tool response", "tool", name, "err", err)
			return mcp.NewToolResultError(`{"ok":false,"error":{"code":"internal_error","message":"internal error"}}`), nil
		}
		res := mcp.NewToolResultText(string(body))
		res.IsError = !resp.OK
		return res, nil
	}
}

// RegisterMCP adds every registered tool to s.
func (d *Dispatcher) RegisterMCP(s *server.MCPServer) {
	for _, desc := range d.registry.Descriptors() {
		s.AddTool(desc.Tool, d.ToolHandler(desc.Tool.Name))
	}
}
