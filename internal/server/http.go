package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/auth"
	"github.com/HendryAvila/modvault/internal/gaps"
	"github.com/HendryAvila/modvault/internal/ratelimit"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
)

// maxBodyBytes bounds request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20

// Router returns the HTTP surface. It requires a keyring, so it is only
// available when auth.pepper is set.
func (a *App) Router() (http.Handler, error) {
	if a.gateway == nil {
		return nil, errors.New("http transport requires auth.pepper")
	}
	rl := a.cfg.RateLimit
	trusted, err := ratelimit.ParsePrefixes(a.cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	logger := a.logger.With("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(ratelimit.TrustedProxies(trusted))
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	})

	// Agent surface
	r.Group(func(r chi.Router) {
		r.Use(a.gateway.Middleware(ratelimit.ActionAgentTools, rl.AgentTools))
		r.Handle("/mcp", server.NewStreamableHTTPServer(a.mcp))
		r.Get("/v1/tools", a.handleListTools)
		r.Post("/v1/tools/{name}", a.handleCallTool)
	})

	// Credentials
	r.Route("/v1/keys", func(r chi.Router) {
		r.Use(a.gateway.Middleware(ratelimit.ActionCredentials, rl.Credentials))
		r.Get("/", a.handleListKeys)
		r.Post("/", a.handleIssueKey)
		r.Delete("/{id}", a.handleRevokeKey)
	})

	r.With(ratelimit.IPMiddleware(a.limiter, ratelimit.ActionPublicIngest, rl.PublicIngest, auth.WriteError, logger)).
		Post("/v1/public/gaps", a.handlePublicGap)

	return r, nil
}

// ─── Tools ───────────────────────────────────────────────────────────────────

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

func (a *App) handleListTools(w http.ResponseWriter, _ *http.Request) {
	descs := a.dispatcher.Registry().Descriptors()
	out := make([]toolInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, toolInfo{Name: d.Tool.Name, Description: d.Tool.Description, InputSchema: d.Tool.InputSchema})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (a *App) handleCallTool(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if err := decodeBody(r, &args); err != nil {
		auth.WriteError(w, err)
		return
	}
	resp := a.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "name"), args)
	status := http.StatusOK
	if !resp.OK {
		status = apperr.KindOf(resp.Err).HTTPStatus()
	}
	writeJSON(w, status, resp)
}

// ─── Keys ────────────────────────────────────────────────────────────────────

type issueKeyRequest struct {
	Name     string `json:"name"`
	TTLHours int    `json:"ttl_hours"`
}

type issueKeyResponse struct {
	Key    string        `json:"key"`
	Record *store.APIKey `json:"record"`
}

func (a *App) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := decodeBody(r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	if req.TTLHours < 0 {
		auth.WriteError(w, apperr.Validationf("ttl_hours must not be negative"))
		return
	}
	ac, _ := auth.FromContext(r.Context())
	raw, rec, err := a.keys.Issue(r.Context(), ac.OwnerID, req.Name, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueKeyResponse{Key: raw, Record: rec})
}

func (a *App) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	keys, err := a.keys.List(r.Context(), ac.OwnerID)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (a *App) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if err := a.keys.Revoke(r.Context(), ac.OwnerID, chi.URLParam(r, "id")); err != nil {
		auth.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Public ingestion ────────────────────────────────────────────────────────

type publicGapRequest struct {
	ErrorMessage string   `json:"error_message"`
	Context      string   `json:"context"`
	Domain       string   `json:"domain"`
	Tags         []string `json:"tags"`
}

// handlePublicGap accepts gap reports without a key. The route is limited
// per client IP.
func (a *App) handlePublicGap(w http.ResponseWriter, r *http.Request) {
	var req publicGapRequest
	if err := decodeBody(r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	rep, err := a.gaps.Report(r.Context(), "public:"+ratelimit.ClientIP(r), gaps.ReportInput{
		ErrorText: req.ErrorMessage,
		Context:   req.Context,
		Domain:    vault.Domain(req.Domain),
		Tags:      req.Tags,
	})
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if rep.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, rep)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLog logs one line per request.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// ListenAndServe serves the HTTP surface on cfg.Server.Addr until ctx is done.
func (a *App) ListenAndServe(ctx context.Context) error {
	h, err := a.Router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr, "transport", "http")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
