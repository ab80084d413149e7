package server

import (
	"context"
	"io"

	"github.com/HendryAvila/modvault/internal/auth"
	"github.com/mark3labs/mcp-go/server"
)

// ServeStdio speaks MCP over in/out until ctx is done or in closes. Every
// call is made as auth.local_owner.
func (a *App) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	owner := auth.AuthContext{OwnerID: a.cfg.Auth.LocalOwner, KeyID: "stdio"}

	stdio := server.NewStdioServer(a.mcp)
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return auth.WithContext(ctx, owner)
	})
	a.logger.Info("serving", "transport", "stdio", "owner", owner.OwnerID)
	return stdio.Listen(ctx, in, out)
}
