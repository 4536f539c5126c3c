package repository

import (
	"context"
	"time"
)

// OAuthAccount vincula una identidad de un provider a un usuario local.
// Invariante: (provider, provider_user_id) es único globalmente.
type OAuthAccount struct {
	ID             string
	UserID         string
	Provider       string // "google", "github", "microsoft", "facebook"
	ProviderUserID string
	ProviderEmail  string
	LinkedAt       time.Time
	LastUsedAt     time.Time
}

// AccountRepository define operaciones sobre identidades vinculadas.
type AccountRepository interface {
	// Create inserta una vinculación. Retorna ErrConflict si la identidad
	// (provider, provider_user_id) ya está vinculada a algún usuario.
	Create(ctx context.Context, a *OAuthAccount) error

	// GetByProvider busca por identidad del provider. ErrNotFound si no existe.
	GetByProvider(ctx context.Context, provider, providerUserID string) (*OAuthAccount, error)

	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*OAuthAccount, error)

	// ListByUser lista las vinculaciones de un usuario, más antigua primero.
	ListByUser(ctx context.Context, userID string) ([]OAuthAccount, error)

	// DeleteUnlessLast elimina la vinculación y cascadea su token, solo si al
	// usuario le queda otro método de auth. El chequeo y el borrado son
	// atómicos: dos unlinks concurrentes no pueden dejar al usuario en cero.
	// ErrLastAuthMethod si era el último; ErrNotFound si la cuenta no existe
	// o no pertenece al usuario.
	DeleteUnlessLast(ctx context.Context, userID, id string) error

	// TouchLastUsed actualiza last_used_at tras un login exitoso.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
