// Package server wires all components and exposes them over MCP and HTTP.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on them.
// No business logic lives here, only wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/modvault/internal/auth"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/config"
	"github.com/HendryAvila/modvault/internal/diagnose"
	"github.com/HendryAvila/modvault/internal/dispatch"
	"github.com/HendryAvila/modvault/internal/embed"
	"github.com/HendryAvila/modvault/internal/gaps"
	"github.com/HendryAvila/modvault/internal/graph"
	"github.com/HendryAvila/modvault/internal/modules"
	"github.com/HendryAvila/modvault/internal/prompts"
	"github.com/HendryAvila/modvault/internal/ratelimit"
	"github.com/HendryAvila/modvault/internal/resources"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/tools"
	"github.com/HendryAvila/modvault/internal/usage"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds every long-lived component of a running service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	store      *store.Store
	keys       *auth.Keyring // nil over stdio
	limiter    *ratelimit.Limiter
	gateway    *auth.Gateway
	gaps       *gaps.Manager
	refresher  *modules.Refresher
	tracker    *usage.Tracker
	dispatcher *dispatch.Dispatcher
	mcp        *server.MCPServer
}

// New creates the App described by cfg. clk may be nil. Call Close on
// shutdown.
func New(cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}

	// --- Storage ---

	s, err := store.New(store.Config{
		DataDir: cfg.Storage.DataDir,
		MaxScan: cfg.Storage.MaxScan,
		Clock:   clk,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, clock: clk, store: s}

	// --- Auth ---

	if cfg.Auth.Pepper != "" {
		a.keys, err = auth.NewKeyring(s, cfg.Auth.Pepper, clk, logger.With("component", "auth"))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	a.limiter = ratelimit.New(s, clk)
	if a.keys != nil {
		a.gateway = auth.NewGateway(a.keys, a.limiter, logger.With("component", "gateway"))
	}

	// --- Domain services ---

	var embedder embed.Embedder
	if cfg.Embedding.Endpoint != "" {
		embedder = embed.New(embed.Config{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			APIKey:    cfg.Embedding.APIKey,
			Timeout:   cfg.Embedding.Timeout,
			Logger:    logger.With("component", "embed"),
		})
	}
	a.refresher = modules.NewRefresher(s, embedder, logger.With("component", "refresher"), 0)
	mods := modules.NewService(s, embedder, a.refresher, clk, logger.With("component", "modules"))
	g := graph.NewService(s, logger.With("component", "graph"))
	a.gaps = gaps.NewManager(s, mods, a.refresher, clk, logger.With("component", "gaps"))
	engine := diagnose.New(s, mods, cfg.Diagnose, logger.With("component", "diagnose"))
	a.tracker = usage.NewTracker(s, clk, logger.With("component", "usage"))

	// --- Tool catalogue ---

	reg := dispatch.NewRegistry()
	err = tools.Register(reg, tools.Deps{
		Store:    s,
		Modules:  mods,
		Graph:    g,
		Diagnose: engine,
		Gaps:     a.gaps,
		Usage:    a.tracker,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	a.dispatcher = dispatch.New(reg, s, a.tracker, logger.With("component", "dispatch"))

	// --- MCP server ---

	a.mcp = server.NewMCPServer(
		"modvault",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	a.dispatcher.RegisterMCP(a.mcp)

	troubleshoot := prompts.NewTroubleshootPrompt()
	a.mcp.AddPrompt(troubleshoot.Definition(), troubleshoot.Handle)
	health := prompts.NewHealthPrompt()
	a.mcp.AddPrompt(health.Definition(), health.Handle)

	rh := resources.NewHandler(s, mods)
	a.mcp.AddResource(rh.StatsResource(), rh.HandleStats)
	a.mcp.AddResourceTemplate(rh.ModuleTemplate(), rh.HandleModule)

	return a, nil
}

// Dispatcher returns the tool dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// MCP returns the MCP server.
func (a *App) MCP() *server.MCPServer { return a.mcp }

// Bootstrap issues a key for auth.bootstrap_owner when that owner has
// none. The raw key is returned once; an empty string means nothing was
// issued.
func (a *App) Bootstrap(ctx context.Context) (string, error) {
	owner := a.cfg.Auth.BootstrapOwner
	if owner == "" || a.keys == nil {
		return "", nil
	}
	raw, created, err := a.keys.EnsureKey(ctx, owner, "bootstrap")
	if err != nil {
		return "", fmt.Errorf("bootstrap key: %w", err)
	}
	if !created {
		return "", nil
	}
	a.logger.Info("bootstrap key issued", "owner", owner)
	return raw, nil
}

// Close drains background work and closes the store.
func (a *App) Close() error {
	a.refresher.Wait()
	a.tracker.Wait()
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

func serverInstructions() string {
	return `You have access to modvault, a shared vault of reusable code modules and
the fixes other agents found for real errors.

## WHEN YOU HIT AN ERROR

Call diagnose FIRST with the error text, verbatim. Results are ranked:
documented common errors, then modules solving the problem, then past gap
resolutions, then semantic search. Fetch the top module with get_module.

If nothing matches, call report_gap. When you find the fix, call
resolve_gap with promote=true so the next agent finds it.

## BEFORE YOU IMPLEMENT A MODULE

Call export_tree on it and implement the prerequisites first, deepest
first. Hints in every response tell you what to do next; follow them.

## WHEN YOU WRITE A MODULE

Fill why_it_matters, usage_hint, common_errors and solves_problems.
validate_module tells you what is still missing.`
}
