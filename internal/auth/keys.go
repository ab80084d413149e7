// Package auth validates agent API keys and guards HTTP surfaces with the
// key gateway: credential extraction, key validation, and per-owner rate
// limiting.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/clock"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// Key shape: mvk<8 base36>_<40 base62>. The part before '_' is the public
// prefix used for lookup; only a keyed digest of the whole key is stored.
const (
	keyTag       = "mvk"
	prefixRandom = 8
	secretLength = 40

	base36 = "0123456789abcdefghijklmnopqrstuvwxyz"
	base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var hkdfInfoKeyDigest = []byte("modvault.apikey.digest.v1")

var errMalformedKey = errors.New("malformed api key")

// Keyring issues, validates and revokes API keys.
type Keyring struct {
	store  *store.Store
	key    [32]byte
	clock  clock.Clock
	logger *slog.Logger
	rand   io.Reader
}

// NewKeyring derives the digest key from pepper, which must be non-empty.
func NewKeyring(s *store.Store, pepper string, clk clock.Clock, logger *slog.Logger) (*Keyring, error) {
	if pepper == "" {
		return nil, errors.New("auth: pepper is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keyring{store: s, clock: clk, logger: logger, rand: rand.Reader}
	reader := hkdf.New(sha256.New, []byte(pepper), nil, hkdfInfoKeyDigest)
	if _, err := io.ReadFull(reader, k.key[:]); err != nil {
		return nil, fmt.Errorf("auth: deriving digest key: %w", err)
	}
	return k, nil
}

func (k *Keyring) digest(raw string) []byte {
	h, err := blake3.NewKeyed(k.key[:])
	if err != nil {
		panic("auth: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write([]byte(raw))
	return h.Sum(nil)
}

// Issue creates a key for owner and returns its plaintext. The plaintext is
// not recoverable afterwards. A zero ttl never expires.
func (k *Keyring) Issue(ctx context.Context, owner, name string, ttl time.Duration) (string, *store.APIKey, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", nil, apperr.Validationf("owner is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	if ttl < 0 {
		return "", nil, apperr.Validationf("ttl must not be negative")
	}

	now := k.clock.Now()
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		prefixPart, err := randomString(k.rand, base36, prefixRandom)
		if err != nil {
			return "", nil, apperr.Internal(err, "failed to generate key")
		}
		secretPart, err := randomString(k.rand, base62, secretLength)
		if err != nil {
			return "", nil, apperr.Internal(err, "failed to generate key")
		}
		prefix := keyTag + prefixPart
		plaintext := prefix + "_" + secretPart

		rec := &store.APIKey{
			ID:        uuid.NewString(),
			Name:      name,
			OwnerID:   owner,
			Prefix:    prefix,
			CreatedAt: now,
		}
		if ttl > 0 {
			exp := now.Add(ttl)
			rec.ExpiresAt = &exp
		}

		err = k.store.CreateAPIKey(ctx, rec, uuid.NewString(), k.digest(plaintext))
		if err == nil {
			k.logger.Info("api key issued", "owner", owner, "key_id", rec.ID, "prefix", prefix)
			return plaintext, rec, nil
		}
		if !apperr.Is(err, apperr.KindValidation) {
			return "", nil, apperr.Internal(err, "failed to store key")
		}
		lastErr = err
	}
	return "", nil, apperr.Internal(lastErr, "failed to allocate a unique key prefix")
}

// Validate resolves raw to its key record. Unknown, malformed, revoked and
// expired keys are all Unauthorized.
func (k *Keyring) Validate(ctx context.Context, raw string) (*store.APIKey, error) {
	prefix, err := parsePrefix(raw)
	if err != nil {
		return nil, apperr.Unauthorizedf("invalid API key")
	}

	rec, err := k.store.APIKeyByPrefix(ctx, prefix)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorizedf("invalid API key")
		}
		return nil, apperr.Internal(err, "failed to validate key")
	}
	stored, err := k.store.KeySecret(ctx, rec.SecretRef)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorizedf("invalid API key")
		}
		return nil, apperr.Internal(err, "failed to validate key")
	}
	if subtle.ConstantTimeCompare(k.digest(raw), stored) != 1 {
		return nil, apperr.Unauthorizedf("invalid API key")
	}
	if rec.RevokedAt != nil {
		return nil, apperr.Unauthorizedf("API key has been revoked")
	}
	if rec.ExpiresAt != nil && !k.clock.Now().Before(*rec.ExpiresAt) {
		return nil, apperr.Unauthorizedf("API key has expired")
	}

	if err := k.store.TouchAPIKey(ctx, rec.ID); err != nil {
		k.logger.Warn("failed to record key use", "key_id", rec.ID, "err", err)
	}
	return rec, nil
}

// Revoke revokes one of owner's keys.
func (k *Keyring) Revoke(ctx context.Context, owner, keyID string) error {
	if err := k.store.RevokeAPIKey(ctx, owner, keyID); err != nil {
		return err
	}
	k.logger.Info("api key revoked", "owner", owner, "key_id", keyID)
	return nil
}

// List returns owner's key metadata.
func (k *Keyring) List(ctx context.Context, owner string) ([]store.APIKey, error) {
	keys, err := k.store.ListAPIKeys(ctx, owner)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list keys")
	}
	if keys == nil {
		keys = []store.APIKey{}
	}
	return keys, nil
}

// EnsureKey issues a key named name for owner when owner has no active key.
// It returns the plaintext and true only when a key was issued.
func (k *Keyring) EnsureKey(ctx context.Context, owner, name string) (string, bool, error) {
	n, err := k.store.CountActiveKeys(ctx, owner)
	if err != nil {
		return "", false, fmt.Errorf("counting keys: %w", err)
	}
	if n > 0 {
		return "", false, nil
	}
	plaintext, _, err := k.Issue(ctx, owner, name, 0)
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}

func parsePrefix(raw string) (string, error) {
	prefix, secret, ok := strings.Cut(raw, "_")
	if !ok || len(prefix) != len(keyTag)+prefixRandom || !strings.HasPrefix(prefix, keyTag) || len(secret) != secretLength {
		return "", errMalformedKey
	}
	return prefix, nil
}

// randomString draws n symbols uniformly from alphabet, rejecting bytes
// that would bias the distribution.
func randomString(r io.Reader, alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
