// Package state almacena las autorizaciones pendientes del flow OAuth.
//
// Cada registro se consume exactamente una vez: Take es atómico por token,
// así que de dos callbacks concurrentes con el mismo state solo uno avanza y
// el otro ve ErrNotFound. Un callback repetido (back-button replay) falla
// determinísticamente en la validación de state.
//
// Backends: memory (single instance) y redis (multi-instance; GETDEL evita
// split-brain entre réplicas).
package state

import (
	"context"
	"errors"
	"time"
)

// PendingAuthorization es el contexto efímero entre /login y /callback.
type PendingAuthorization struct {
	State          string    `json:"state"`
	Provider       string    `json:"provider"`
	CodeVerifier   string    `json:"code_verifier"`
	RedirectTarget string    `json:"redirect_target"`
	LinkingUserID  string    `json:"linking_user_id,omitempty"` // seteado en el flow "conectar cuenta"
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reporta si el registro ya venció.
func (p *PendingAuthorization) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PendingLink parquea un perfil a la espera de confirmación de ownership
// (caso "email ya registrado"). Los tokens viajan ya cifrados: este paquete
// nunca ve plaintext.
type PendingLink struct {
	Token          string     `json:"token"` // clave, single-use
	Provider       string     `json:"provider"`
	ProviderUserID string     `json:"provider_user_id"`
	Email          string     `json:"email"`
	UserID         string     `json:"user_id"` // usuario local con email coincidente
	RedirectTarget string     `json:"redirect_target"`
	EncAccessToken string     `json:"enc_access_token"`
	EncRefreshTok  string     `json:"enc_refresh_token,omitempty"`
	TokenType      string     `json:"token_type"`
	Scope          string     `json:"scope"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

var (
	// ErrNotFound: state inexistente, vencido o ya consumido. Es un resultado
	// esperado del flow (replay, expiry), no un error interno.
	ErrNotFound = errors.New("state: not found")

	// ErrStateExists: colisión en Put. Elegimos rechazar en vez de
	// sobreescribir: con 256 bits de entropía una colisión real es
	// despreciable, y sobreescribir encubriría un bug del caller.
	ErrStateExists = errors.New("state: already exists")
)

// Store define el ciclo de vida take-once de los registros pendientes.
type Store interface {
	// Put registra una autorización pendiente keyed por State.
	Put(ctx context.Context, p *PendingAuthorization) error

	// Take recupera-y-borra atómicamente. Exactamente un caller concurrente
	// puede tener éxito por token; el resto observa ErrNotFound.
	Take(ctx context.Context, state string) (*PendingAuthorization, error)

	// PutLink / TakeLink: misma semántica para confirmaciones de linking.
	PutLink(ctx context.Context, l *PendingLink) error
	TakeLink(ctx context.Context, token string) (*PendingLink, error)
}
