package repository

import (
	"context"
	"time"
)

// User es la cuenta local. El blog la referencia; este servicio la posee solo
// en lo que respecta a autenticación.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	// PasswordHash vacío significa "sin password" (usuario solo-social).
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reporta si el usuario tiene login por password.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// UserRepository define operaciones sobre usuarios locales.
type UserRepository interface {
	// Create inserta un usuario. Retorna ErrConflict si el email ya existe.
	Create(ctx context.Context, u *User) error

	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// AuthMethodCount cuenta los métodos de autenticación utilizables:
	// password (si tiene) + identidades sociales vinculadas.
	AuthMethodCount(ctx context.Context, userID string) (int, error)
}
