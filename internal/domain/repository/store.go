package repository

import "context"

// Store agrupa los repositorios sobre un mismo backend.
type Store interface {
	Users() UserRepository
	Accounts() AccountRepository
	Tokens() TokenRepository

	// CreateUserWithAccount crea usuario + vinculación en una sola operación
	// atómica (primer login social). Retorna ErrConflict si el email o la
	// identidad del provider ya existen — el caller reintenta el lookup.
	CreateUserWithAccount(ctx context.Context, u *User, a *OAuthAccount) error

	Ping(ctx context.Context) error
	Close()
}
