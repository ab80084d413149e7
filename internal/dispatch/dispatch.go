// Package dispatch routes agent tool calls through a registry of typed
// descriptors.
//
// Every call goes through the same path: authentication check, required
// parameter check, slug-to-id resolution, the handler under panic
// recovery, error translation, logging and an asynchronous usage record.
// Handlers only see validated arguments and return data plus a hint; the
// {ok, data, hint} envelope is built here.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/auth"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/usage"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// excerptRunes bounds the query text written to logs.
const excerptRunes = 80

// maxRecordedQuery bounds the query text stored on usage events.
const maxRecordedQuery = 500

// Result is what a handler returns on success.
type Result struct {
	Data any
	Hint string
	// Count is the number of items returned, recorded on the usage event.
	Count int
}

// Handler executes one tool. req carries arguments after slug resolution.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (Result, error)

// Descriptor binds a tool schema to its handler.
type Descriptor struct {
	Tool    mcp.Tool
	Handler Handler
	// IDParams name arguments holding a module id. Values that are not ids
	// are resolved as slugs before the handler runs.
	IDParams []string
	// QueryParam names the argument logged and recorded as query text.
	QueryParam string
}

// ─── Registry ────────────────────────────────────────────────────────────────

// Registry maps tool names to descriptors.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d Descriptor) error {
	name := d.Tool.Name
	if name == "" {
		return fmt.Errorf("dispatch: tool has no name")
	}
	if d.Handler == nil {
		return fmt.Errorf("dispatch: tool %q has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("dispatch: tool %q registered twice", name)
	}
	r.tools[name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Descriptors returns every descriptor ordered by tool name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// ─── Dispatcher ──────────────────────────────────────────────────────────────

// SlugResolver maps a slug to a module id. *store.Store satisfies it.
type SlugResolver interface {
	ResolveSlug(ctx context.Context, slug string) (string, error)
}

// Recorder stores usage events without blocking. *usage.Tracker satisfies
// it.
type Recorder interface {
	Record(ctx context.Context, ev store.UsageEvent)
}

// ErrorBody is the error half of a Response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope every tool call returns.
type Response struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Hint  string     `json:"hint,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`

	// Err is the failure behind Error, for transports that map it to a
	// status code.
	Err error `json:"-"`
}

// Dispatcher executes tool calls.
type Dispatcher struct {
	registry *Registry
	slugs    SlugResolver
	usage    Recorder
	logger   *slog.Logger
}

// New creates a Dispatcher. usage may be nil.
func New(reg *Registry, slugs SlugResolver, usage Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: reg, slugs: slugs, usage: usage, logger: logger}
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs tool name with args for the caller attached to ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) Response {
	desc, ok := d.registry.Lookup(name)
	if !ok {
		return failure(apperr.Validationf("unknown tool %q", name))
	}
	ac, ok := auth.FromContext(ctx)
	if !ok {
		return failure(apperr.Unauthorizedf("authentication required"))
	}

	res, err := d.run(ctx, desc, args)

	query := excerpt(stringArg(args, desc.QueryParam), maxRecordedQuery)
	ev := store.UsageEvent{
		EventType:   usage.EventToolCall,
		ToolName:    name,
		QueryText:   query,
		ResultCount: res.Count,
		UserID:      ac.OwnerID,
		KeyID:       ac.KeyID,
	}
	if len(desc.IDParams) > 0 {
		if id := stringArg(args, desc.IDParams[0]); isID(id) {
			ev.ModuleID = id
		}
	}

	if err != nil {
		ev.EventType = usage.EventToolError
		ev.ResultCount = 0
		d.logFailure(name, ac.OwnerID, query, err)
		d.record(ctx, ev)
		return failure(err)
	}
	d.logger.Debug("tool call", "tool", name, "owner", ac.OwnerID, "results", res.Count)
	d.record(ctx, ev)
	return Response{OK: true, Data: res.Data, Hint: res.Hint}
}

// run validates args and calls the handler. args is rewritten in place with
// resolved ids.
func (d *Dispatcher) run(ctx context.Context, desc Descriptor, args map[string]any) (res Result, err error) {
	for _, p := range desc.Tool.InputSchema.Required {
		if missing(args[p]) {
			return Result{}, apperr.Validationf("missing required parameter %q", p)
		}
	}
	for _, p := range desc.IDParams {
		v, ok := args[p].(string)
		if !ok || v == "" || isID(v) {
			continue
		}
		id, err := d.slugs.ResolveSlug(ctx, v)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return Result{}, apperr.NotFoundf("module %q not found", v)
			}
			return Result{}, apperr.Internal(err, "failed to resolve module")
		}
		args[p] = id
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", desc.Tool.Name, "panic", r, "stack", string(debug.Stack()))
			res, err = Result{}, apperr.Internal(fmt.Errorf("panic: %v", r), "")
		}
	}()

	req := mcp.CallToolRequest{}
	req.Params.Name = desc.Tool.Name
	req.Params.Arguments = args
	return desc.Handler(ctx, req)
}

func (d *Dispatcher) record(ctx context.Context, ev store.UsageEvent) {
	if d.usage == nil {
		return
	}
	d.usage.Record(ctx, ev)
}

func (d *Dispatcher) logFailure(tool, owner, query string, err error) {
	attrs := []any{
		"tool", tool,
		"owner", owner,
		"code", apperr.KindOf(err).Code(),
		"query", excerpt(query, excerptRunes),
		"err", err,
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		d.logger.Error("tool call failed", attrs...)
		return
	}
	d.logger.Info("tool call rejected", attrs...)
}

func failure(err error) Response {
	return Response{
		OK: false,
		Error: &ErrorBody{
			Code:    apperr.KindOf(err).Code(),
			Message: apperr.PublicMessage(err),
		},
		Err: err,
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func isID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func missing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func stringArg(args map[string]any, key string) string {
	if key == "" {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

// excerpt truncates s to n runes.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
