package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
)

type tokenRepo struct {
	pool *pgxpool.Pool
}

const tokenCols = `id, oauth_account_id, encrypted_access_token, encrypted_refresh_token,
	token_type, scope, expires_at, refresh_attempts, next_refresh_at, refresh_failed, updated_at`

func (r *tokenRepo) Upsert(ctx context.Context, t *repository.OAuthToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_token (id, oauth_account_id, encrypted_access_token, encrypted_refresh_token,
			token_type, scope, expires_at, refresh_attempts, next_refresh_at, refresh_failed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (oauth_account_id) DO UPDATE SET
			encrypted_access_token  = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			token_type              = EXCLUDED.token_type,
			scope                   = EXCLUDED.scope,
			expires_at              = EXCLUDED.expires_at,
			refresh_attempts        = EXCLUDED.refresh_attempts,
			next_refresh_at         = EXCLUDED.next_refresh_at,
			refresh_failed          = EXCLUDED.refresh_failed,
			updated_at              = EXCLUDED.updated_at`,
		t.ID, t.OAuthAccountID, t.EncryptedAccessToken, t.EncryptedRefreshToken,
		t.TokenType, t.Scope, t.ExpiresAt, t.RefreshAttempts, t.NextRefreshAt, t.RefreshFailed, t.UpdatedAt,
	)
	return mapConflict(err)
}

func (r *tokenRepo) GetByAccount(ctx context.Context, accountID string) (*repository.OAuthToken, error) {
	var t repository.OAuthToken
	err := r.pool.QueryRow(ctx, `
		SELECT `+tokenCols+` FROM oauth_token WHERE oauth_account_id = $1`, accountID).Scan(
		&t.ID, &t.OAuthAccountID, &t.EncryptedAccessToken, &t.EncryptedRefreshToken,
		&t.TokenType, &t.Scope, &t.ExpiresAt, &t.RefreshAttempts, &t.NextRefreshAt, &t.RefreshFailed, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LeaseExpiring reclama hasta limit tokens que vencen dentro de lookahead.
// SKIP LOCKED evita que dos instancias reclamen la misma fila; el lease se
// materializa adelantando next_refresh_at, así una instancia caída no bloquea
// el token para siempre.
func (r *tokenRepo) LeaseExpiring(ctx context.Context, lookahead, lease time.Duration, maxAttempts, limit int) ([]repository.OAuthToken, error) {
	now := time.Now().UTC()
	cutoff := now.Add(lookahead)
	leaseUntil := now.Add(lease)

	rows, err := r.pool.Query(ctx, `
		WITH candidates AS (
			SELECT id FROM oauth_token
			WHERE encrypted_refresh_token <> ''
			  AND refresh_failed = false
			  AND refresh_attempts < $1
			  AND expires_at IS NOT NULL AND expires_at <= $2
			  AND (next_refresh_at IS NULL OR next_refresh_at <= $3)
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE oauth_token t SET next_refresh_at = $5
		FROM candidates c WHERE t.id = c.id
		RETURNING t.id, t.oauth_account_id, t.encrypted_access_token, t.encrypted_refresh_token,
			t.token_type, t.scope, t.expires_at, t.refresh_attempts, t.next_refresh_at, t.refresh_failed, t.updated_at`,
		maxAttempts, cutoff, now, limit, leaseUntil,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.OAuthToken
	for rows.Next() {
		var t repository.OAuthToken
		if err := rows.Scan(
			&t.ID, &t.OAuthAccountID, &t.EncryptedAccessToken, &t.EncryptedRefreshToken,
			&t.TokenType, &t.Scope, &t.ExpiresAt, &t.RefreshAttempts, &t.NextRefreshAt, &t.RefreshFailed, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *tokenRepo) MarkRefreshFailure(ctx context.Context, id string, attempts int, nextRetry time.Time, failed bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_token
		SET refresh_attempts = $2, next_refresh_at = $3, refresh_failed = $4, updated_at = now()
		WHERE id = $1`, id, attempts, nextRetry, failed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
