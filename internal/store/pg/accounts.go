package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
)

type accountRepo struct {
	pool *pgxpool.Pool
}

const accountCols = `id, user_id, provider, provider_user_id, provider_email, linked_at, last_used_at`

func (r *accountRepo) Create(ctx context.Context, a *repository.OAuthAccount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_account (id, user_id, provider, provider_user_id, provider_email, linked_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		a.ID, a.UserID, a.Provider, a.ProviderUserID, a.ProviderEmail, a.LinkedAt,
	)
	return mapConflict(err)
}

func (r *accountRepo) GetByProvider(ctx context.Context, provider, providerUserID string) (*repository.OAuthAccount, error) {
	return r.get(ctx, `
		SELECT `+accountCols+` FROM oauth_account
		WHERE provider = $1 AND provider_user_id = $2`, provider, providerUserID)
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*repository.OAuthAccount, error) {
	return r.get(ctx, `SELECT `+accountCols+` FROM oauth_account WHERE id = $1`, id)
}

func (r *accountRepo) get(ctx context.Context, query string, args ...any) (*repository.OAuthAccount, error) {
	var a repository.OAuthAccount
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.UserID, &a.Provider, &a.ProviderUserID, &a.ProviderEmail, &a.LinkedAt, &a.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepo) ListByUser(ctx context.Context, userID string) ([]repository.OAuthAccount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountCols+` FROM oauth_account
		WHERE user_id = $1 ORDER BY linked_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.OAuthAccount
	for rows.Next() {
		var a repository.OAuthAccount
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Provider, &a.ProviderUserID, &a.ProviderEmail, &a.LinkedAt, &a.LastUsedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *accountRepo) DeleteUnlessLast(ctx context.Context, userID, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock de la fila del usuario: serializa unlinks concurrentes del mismo
	// usuario. Sin el lock, dos unlinks pueden contar 2 métodos cada uno y
	// borrar ambos.
	var hasPassword bool
	err = tx.QueryRow(ctx,
		`SELECT password_hash <> '' FROM app_user WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&hasPassword)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}

	var linked int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM oauth_account WHERE user_id = $1`, userID,
	).Scan(&linked); err != nil {
		return err
	}
	methods := linked
	if hasPassword {
		methods++
	}
	if methods <= 1 {
		return repository.ErrLastAuthMethod
	}

	// oauth_token cascadea por FK
	tag, err := tx.Exec(ctx,
		`DELETE FROM oauth_account WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *accountRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE oauth_account SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
