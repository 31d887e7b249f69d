package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
)

const apiKeyColumns = `id, user_id, COALESCE(name,'') AS name, key_hash, created_at`

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return errors.New("id required")
	case key.UserID == "":
		return errors.New("user_id required")
	case key.KeyHash == "":
		return errors.New("key_hash required")
	case key.CreatedAt == "":
		return errors.New("created_at required")
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`INSERT INTO api_keys(id, user_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`),
		key.ID, key.UserID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return errors.WithStack(err)
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := sqlx.GetContext(ctx, r.DB, &key, r.DB.Rebind(`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, errors.WithStack(err)
	}
	return key, nil
}

// ListAPIKeys returns API keys, optionally filtered by user.
func (r Repo) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`
	keys := []domain.APIKey{}
	if err := sqlx.SelectContext(ctx, r.DB, &keys, r.DB.Rebind(query), args...); err != nil {
		return nil, errors.WithStack(err)
	}
	return keys, nil
}

func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`DELETE FROM api_keys WHERE id=?`), id)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
