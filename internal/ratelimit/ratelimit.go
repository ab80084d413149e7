// Package ratelimit implements windowed abuse control keyed by
// (identifier, action). Counters are persisted rows, so limits hold across
// restarts and across processes sharing one database.
//
// The read-then-write update is not atomic. Concurrent bursts from one
// identifier may admit a few calls past the threshold before the block
// lands; this is abuse mitigation, not a strict quota.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/go-chi/chi/v5/middleware"
)

// Action names the surface a policy guards.
const (
	ActionAgentTools   = "agent_tools"
	ActionPublicIngest = "public_ingest"
	ActionCredentials  = "credentials"
)

// Policy bounds attempts within a window. Exceeding it blocks the
// identifier for Block.
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	Block       time.Duration `mapstructure:"block"`
}

// Validate rejects non-positive fields.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 || p.Window <= 0 || p.Block <= 0 {
		return fmt.Errorf("policy fields must be positive: %+v", p)
	}
	return nil
}

// Default policies per surface.
var (
	AgentTools   = Policy{MaxAttempts: 120, Window: time.Minute, Block: 2 * time.Minute}
	PublicIngest = Policy{MaxAttempts: 60, Window: time.Minute, Block: 5 * time.Minute}
	Credentials  = Policy{MaxAttempts: 10, Window: 5 * time.Minute, Block: time.Hour}
)

// CounterStore persists counters. *store.Store satisfies it.
type CounterStore interface {
	GetCounter(ctx context.Context, identifier, action string) (*store.Counter, error)
	PutCounter(ctx context.Context, c *store.Counter) error
}

// Decision is the outcome of one CheckAndRecord.
type Decision struct {
	Allowed    bool
	Attempts   int
	RetryAfter time.Duration
}

// Err returns a RateLimited error for a blocked decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.RateLimited(d.RetryAfter)
}

// Limiter applies policies against persisted counters.
type Limiter struct {
	store CounterStore
	clock clock.Clock
}

// New creates a Limiter. A nil clock uses the wall clock.
func New(s CounterStore, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real()
	}
	return &Limiter{store: s, clock: c}
}

// CheckAndRecord counts one attempt by identifier against action and
// reports whether it may proceed.
func (l *Limiter) CheckAndRecord(ctx context.Context, identifier, action string, p Policy) (Decision, error) {
	now := l.clock.Now()

	c, err := l.store.GetCounter(ctx, identifier, action)
	if err != nil {
		return Decision{}, apperr.Internal(err, "rate limiter unavailable")
	}

	if c == nil {
		c = &store.Counter{Identifier: identifier, Action: action, Attempts: 1, LastAttemptAt: now}
		return l.allow(ctx, c)
	}

	if c.BlockedUntil != nil && c.BlockedUntil.After(now) {
		return Decision{Allowed: false, Attempts: c.Attempts, RetryAfter: c.BlockedUntil.Sub(now)}, nil
	}

	blockExpired := c.BlockedUntil != nil
	if blockExpired || now.Sub(c.LastAttemptAt) >= p.Window {
		c.Attempts = 1
		c.BlockedUntil = nil
		c.LastAttemptAt = now
		return l.allow(ctx, c)
	}

	if c.Attempts >= p.MaxAttempts {
		until := now.Add(p.Block)
		c.BlockedUntil = &until
		c.LastAttemptAt = now
		if err := l.store.PutCounter(ctx, c); err != nil {
			return Decision{}, apperr.Internal(err, "rate limiter unavailable")
		}
		return Decision{Allowed: false, Attempts: c.Attempts, RetryAfter: p.Block}, nil
	}

	c.Attempts++
	c.LastAttemptAt = now
	return l.allow(ctx, c)
}

func (l *Limiter) allow(ctx context.Context, c *store.Counter) (Decision, error) {
	if err := l.store.PutCounter(ctx, c); err != nil {
		return Decision{}, apperr.Internal(err, "rate limiter unavailable")
	}
	return Decision{Allowed: true, Attempts: c.Attempts}, nil
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// ErrorWriter renders a classified error as an HTTP response.
type ErrorWriter func(w http.ResponseWriter, err error)

// IPMiddleware limits unauthenticated requests by client address.
func IPMiddleware(l *Limiter, action string, p Policy, writeErr ErrorWriter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			d, err := l.CheckAndRecord(r.Context(), "ip:"+ip, action, p)
			if err != nil {
				logger.Error("rate limiter failed", "action", action, "err", err)
				writeErr(w, err)
				return
			}
			if !d.Allowed {
				logger.Warn("rate limited", "action", action, "ip", ip, "retry_after", d.RetryAfter)
				writeErr(w, d.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host of RemoteAddr. Forwarded headers are honoured
// only through TrustedProxies, which rewrites RemoteAddr upstream.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrustedProxies applies chi's RealIP rewrite only to requests whose direct
// peer falls inside one of trusted. With no prefixes, forwarded headers are
// ignored.
func TrustedProxies(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		rewrite := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peerTrusted(r.RemoteAddr, trusted) {
				rewrite.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerTrusted(remote string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDR blocks. A bare address is taken as a single
// host prefix.
func ParsePrefixes(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// SetRetryAfter writes the Retry-After header for err when it carries one.
func SetRetryAfter(w http.ResponseWriter, err error) {
	if d := apperr.RetryAfterOf(err); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apperr.RetryAfterSeconds(d)))
	}
}
