// modvault: a shared knowledge vault of code modules for AI agents.
//
// Agents store reusable modules with the context needed to apply them,
// link them into dependency trees, and diagnose errors against what other
// agents already solved.
//
// Usage:
//
//	modvault serve                     # HTTP (MCP + JSON API) on :8420
//	modvault serve --transport stdio   # MCP over stdio, single user
//	modvault version
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HendryAvila/modvault/internal/config"
	"github.com/HendryAvila/modvault/internal/logging"
	"github.com/HendryAvila/modvault/internal/server"
	"github.com/spf13/cobra"
)

// Set by ldflags at build time.
var (
	commit = "none"
	date   = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "modvault",
		Short: "Module knowledge vault for AI agents",
		Long: `modvault stores reusable code modules together with the context an agent
needs to apply them: why they matter, common errors and their fixes, and
what they depend on. Agents call it over MCP to diagnose errors, export
dependency trees in implementation order, and record knowledge gaps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modvault %s\ncommit: %s\nbuilt:  %s\n", server.Version, commit, date)
		},
	}
}

type serveOptions struct {
	configPath string
	transport  string
	addr       string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vault server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file or directory holding modvault.yaml")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "http or stdio (overrides server.transport)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	if cfg.Server.Transport == config.TransportStdio {
		return app.ServeStdio(ctx, os.Stdin, os.Stdout)
	}

	key, err := app.Bootstrap(ctx)
	if err != nil {
		return err
	}
	if key != "" {
		// Printed once; only the digest is stored.
		fmt.Fprintf(os.Stderr, "\n  Bootstrap API key for %s (save it now, it will not be shown again):\n\n    %s\n\n",
			cfg.Auth.BootstrapOwner, key)
	}
	return app.ListenAndServe(ctx)
}
