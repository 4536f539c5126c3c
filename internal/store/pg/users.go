package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
)

type userRepo struct {
	pool *pgxpool.Pool
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO app_user (id, email, email_verified, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID, u.Email, u.EmailVerified, u.Name, u.PasswordHash, u.CreatedAt,
	)
	return mapConflict(err)
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return r.get(ctx, `
		SELECT id, email, email_verified, name, password_hash, created_at, updated_at
		FROM app_user WHERE id = $1`, id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	return r.get(ctx, `
		SELECT id, email, email_verified, name, password_hash, created_at, updated_at
		FROM app_user WHERE lower(email) = lower($1)`, email)
}

func (r *userRepo) get(ctx context.Context, query, arg string) (*repository.User, error) {
	var u repository.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.EmailVerified, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) AuthMethodCount(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT (CASE WHEN u.password_hash <> '' THEN 1 ELSE 0 END)
		     + (SELECT count(*) FROM oauth_account a WHERE a.user_id = u.id)
		FROM app_user u WHERE u.id = $1`
	var n int
	err := r.pool.QueryRow(ctx, query, userID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
