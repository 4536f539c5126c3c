// Package pg implementa repository.Store sobre PostgreSQL con pgx.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
)

type Store struct {
	pool *pgxpool.Pool
}

// Options ajusta el pool; cero = defaults de pgx.
type Options struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
}

// New abre el pool y verifica conectividad.
func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool expone el pool subyacente (migraciones).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Users() repository.UserRepository       { return &userRepo{pool: s.pool} }
func (s *Store) Accounts() repository.AccountRepository { return &accountRepo{pool: s.pool} }
func (s *Store) Tokens() repository.TokenRepository     { return &tokenRepo{pool: s.pool} }

// CreateUserWithAccount inserta usuario + vinculación en una transacción.
// Cualquier unique violation (email o identidad) sale como ErrConflict para
// que el linker re-ejecute el lookup.
func (s *Store) CreateUserWithAccount(ctx context.Context, u *repository.User, a *repository.OAuthAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO app_user (id, email, email_verified, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID, u.Email, u.EmailVerified, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return mapConflict(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO oauth_account (id, user_id, provider, provider_user_id, provider_email, linked_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		a.ID, a.UserID, a.Provider, a.ProviderUserID, a.ProviderEmail, a.LinkedAt,
	)
	if err != nil {
		return mapConflict(err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close()                         { s.pool.Close() }

// mapConflict traduce unique violations a ErrConflict.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return repository.ErrConflict
	}
	return err
}

var _ repository.Store = (*Store)(nil)
