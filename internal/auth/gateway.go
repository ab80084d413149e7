package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/ratelimit"
	"github.com/HendryAvila/modvault/internal/store"
)

// Credential headers, checked in this order.
const (
	HeaderKey    = "X-Modvault-Key"
	HeaderAPIKey = "X-API-Key"
)

// ─── Auth context ────────────────────────────────────────────────────────────

// AuthContext identifies the caller of an authenticated request.
type AuthContext struct {
	OwnerID string
	KeyID   string
}

type ctxKey struct{}

// WithContext attaches ac to ctx.
func WithContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext returns the AuthContext attached to ctx.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(AuthContext)
	return ac, ok && ac.OwnerID != ""
}

// ─── Gateway ─────────────────────────────────────────────────────────────────

// Validator resolves a raw key to its record. *Keyring satisfies it.
type Validator interface {
	Validate(ctx context.Context, raw string) (*store.APIKey, error)
}

// Gateway authenticates agent calls and applies the per-owner rate limit.
type Gateway struct {
	keys    Validator
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(keys Validator, limiter *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{keys: keys, limiter: limiter, logger: logger}
}

// ExtractKey returns the credential carried by r, or "".
func ExtractKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderKey)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); v != "" {
		return v
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Authenticate validates raw and counts the call against (owner, action).
func (g *Gateway) Authenticate(ctx context.Context, raw, action string, p ratelimit.Policy) (AuthContext, error) {
	if raw == "" {
		return AuthContext{}, apperr.Unauthorizedf("missing API key")
	}
	rec, err := g.keys.Validate(ctx, raw)
	if err != nil {
		return AuthContext{}, err
	}

	d, err := g.limiter.CheckAndRecord(ctx, rec.OwnerID, action, p)
	if err != nil {
		return AuthContext{}, err
	}
	if !d.Allowed {
		g.logger.Warn("rate limited", "owner", rec.OwnerID, "action", action, "retry_after", d.RetryAfter)
		return AuthContext{}, d.Err()
	}
	return AuthContext{OwnerID: rec.OwnerID, KeyID: rec.ID}, nil
}

// Middleware guards next with key authentication under policy p.
func (g *Gateway) Middleware(action string, p ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := g.Authenticate(r.Context(), ExtractKey(r), action, p)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindInternal {
					g.logger.Error("gateway failure", "path", r.URL.Path, "err", err)
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

// ─── Error responses ─────────────────────────────────────────────────────────

// ErrorBody is the JSON shape of every failed HTTP response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the classified code and a caller-safe message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError renders err as {"error":{"code","message"}} with the status of
// its kind, plus Retry-After for rate-limited errors.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	ratelimit.SetRetryAfter(w, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Code:    kind.Code(),
		Message: apperr.PublicMessage(err),
	}})
}
