package repository

import (
	"context"
	"time"
)

// OAuthToken guarda los tokens del provider, siempre cifrados. 1:1 con
// OAuthAccount: re-autorizar o refrescar sobreescribe la fila.
type OAuthToken struct {
	ID                    string
	OAuthAccountID        string
	EncryptedAccessToken  string
	EncryptedRefreshToken string // vacío si el provider no entregó refresh token
	TokenType             string
	Scope                 string
	ExpiresAt             *time.Time // nil si el provider no expira el token

	// Estado del refresher.
	RefreshAttempts int
	NextRefreshAt   *time.Time // backoff / lease; nil = elegible ya
	RefreshFailed   bool       // agotó reintentos; requiere reconectar

	UpdatedAt time.Time
}

// HasRefreshToken reporta si hay refresh token almacenado.
func (t *OAuthToken) HasRefreshToken() bool { return t.EncryptedRefreshToken != "" }

// TokenRepository define operaciones sobre tokens almacenados.
type TokenRepository interface {
	// Upsert crea o sobreescribe el token de una cuenta (key: oauth_account_id).
	Upsert(ctx context.Context, t *OAuthToken) error

	// GetByAccount retorna ErrNotFound si la cuenta no tiene token.
	GetByAccount(ctx context.Context, accountID string) (*OAuthToken, error)

	// LeaseExpiring reclama atómicamente hasta limit tokens candidatos a
	// refresh: expiran dentro de lookahead, tienen refresh token, no están
	// marcados refresh_failed, no superaron maxAttempts y no están leased por
	// otra instancia. Las filas reclamadas quedan con next_refresh_at =
	// now+lease, así dos sweeps concurrentes nunca comparten un token.
	LeaseExpiring(ctx context.Context, lookahead, lease time.Duration, maxAttempts, limit int) ([]OAuthToken, error)

	// MarkRefreshFailure registra un intento fallido: attempts, próximo retry
	// (backoff exponencial) y el flag terminal refresh_failed.
	MarkRefreshFailure(ctx context.Context, id string, attempts int, nextRetry time.Time, failed bool) error
}
