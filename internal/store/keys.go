package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HendryAvila/modvault/internal/apperr"
)

// ─── API keys ────────────────────────────────────────────────────────────────

// APIKey is the stored metadata of an issued key. The key material itself
// is never stored; SecretRef points at its digest in key_secrets.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	OwnerID    string     `json:"owner_id"`
	Prefix     string     `json:"prefix"`
	SecretRef  string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

const keyColumns = `id, name, owner_id, prefix, secret_ref, created_at, last_used_at, revoked_at, expires_at`

func scanKey(row scanner) (*APIKey, error) {
	var (
		k                          APIKey
		createdAt                  string
		lastUsed, revoked, expires sql.NullString
	)
	if err := row.Scan(&k.ID, &k.Name, &k.OwnerID, &k.Prefix, &k.SecretRef,
		&createdAt, &lastUsed, &revoked, &expires); err != nil {
		return nil, err
	}
	k.CreatedAt = parseTime(createdAt)
	k.LastUsedAt = parseNullableTime(lastUsed)
	k.RevokedAt = parseNullableTime(revoked)
	k.ExpiresAt = parseNullableTime(expires)
	return &k, nil
}

// CreateAPIKey stores digest in the secret table and k referencing it, in
// one transaction. k.SecretRef is set to secretID.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey, secretID string, digest []byte) error {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := s.execHook(ctx, tx,
		`INSERT INTO key_secrets (id, digest, created_at) VALUES (?, ?, ?)`,
		secretID, digest, formatTime(k.CreatedAt),
	); err != nil {
		return fmt.Errorf("storing key secret: %w", err)
	}

	k.SecretRef = secretID
	if _, err := s.execHook(ctx, tx,
		`INSERT INTO api_keys (id, name, owner_id, prefix, secret_ref, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.OwnerID, k.Prefix, k.SecretRef, formatTime(k.CreatedAt), formatNullableTime(k.ExpiresAt),
	); err != nil {
		if isUniqueViolation(err) {
			return apperr.Validationf("key prefix collision, retry")
		}
		return fmt.Errorf("storing api key: %w", err)
	}

	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// APIKeyByPrefix looks up a key by its public prefix.
func (s *Store) APIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE prefix = ?`, prefix)
	k, err := scanKey(row)
	if err != nil {
		return nil, notFound(err, "api key", prefix)
	}
	return k, nil
}

// KeySecret returns the digest stored under ref.
func (s *Store) KeySecret(ctx context.Context, ref string) ([]byte, error) {
	var digest []byte
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM key_secrets WHERE id = ?`, ref).Scan(&digest)
	if err != nil {
		return nil, notFound(err, "key secret", ref)
	}
	return digest, nil
}

// TouchAPIKey records a successful use.
func (s *Store) TouchAPIKey(ctx context.Context, id string) error {
	_, err := s.execHook(ctx, s.db, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(s.now()), id)
	return err
}

// RevokeAPIKey revokes the owner's key. Revoking twice is a no-op; another
// owner's key is NotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, ownerID, id string) error {
	res, err := s.execHook(ctx, s.db,
		`UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ? AND owner_id = ?`,
		formatTime(s.now()), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("api key %q not found", id)
	}
	return nil
}

// ListAPIKeys returns the owner's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, ownerID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// CountActiveKeys counts the owner's unrevoked, unexpired keys.
func (s *Store) CountActiveKeys(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_keys
		 WHERE owner_id = ? AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)`,
		ownerID, formatTime(s.now()),
	).Scan(&n)
	return n, err
}
