package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/http/middlewares"
	"github.com/dropDatabas3/socialauth/internal/observability/logger"
)

type connectionDTO struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	ProviderEmail string     `json:"provider_email,omitempty"`
	LinkedAt      time.Time  `json:"linked_at"`
	LastUsedAt    time.Time  `json:"last_used_at"`
	RefreshFailed bool       `json:"refresh_failed"`
	TokenExpires  *time.Time `json:"token_expires_at,omitempty"`
}

// handleConnections lista las identidades vinculadas del usuario en sesión,
// con el estado del token de cada una (para que el frontend pueda sugerir
// reconectar cuando refresh_failed).
func (a *API) handleConnections(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetUserID(r.Context())

	accts, err := a.linker.Accounts(r.Context(), userID)
	if err != nil {
		logger.From(r.Context()).Error("list connections", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	out := make([]connectionDTO, 0, len(accts))
	for _, acct := range accts {
		dto := connectionDTO{
			ID:            acct.ID,
			Provider:      acct.Provider,
			ProviderEmail: acct.ProviderEmail,
			LinkedAt:      acct.LinkedAt,
			LastUsedAt:    acct.LastUsedAt,
		}
		if tok, err := a.store.Tokens().GetByAccount(r.Context(), acct.ID); err == nil {
			dto.RefreshFailed = tok.RefreshFailed
			dto.TokenExpires = tok.ExpiresAt
		}
		out = append(out, dto)
	}

	// Con un solo método de auth el disconnect va a ser rechazado; se avisa
	// para que el frontend deshabilite el botón.
	methods, err := a.store.Users().AuthMethodCount(r.Context(), userID)
	if err != nil {
		logger.From(r.Context()).Warn("auth method count", logger.Err(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections":    out,
		"can_disconnect": methods > 1,
	})
}

// handleDisconnect desvincula una identidad. Rechaza si es el último método
// de autenticación del usuario.
func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetUserID(r.Context())
	accountID := chi.URLParam(r, "id")

	err := a.linker.Unlink(r.Context(), userID, accountID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, repository.ErrLastAuthMethod):
		writeError(w, http.StatusConflict, "last_auth_method",
			"no podés desvincular tu último método de acceso")
	case repository.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "")
	default:
		logger.From(r.Context()).Error("disconnect", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

// handleLogout borra la cookie de sesión.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.sessions.Clear())
	w.WriteHeader(http.StatusNoContent)
}

// handleMe devuelve el usuario en sesión.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.GetUserID(r.Context())
	u, err := a.store.Users().GetByID(r.Context(), userID)
	if err != nil {
		// Sesión válida pero usuario borrado: tratar como no autenticado.
		writeError(w, http.StatusUnauthorized, "authentication_required", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             u.ID,
		"email":          u.Email,
		"email_verified": u.EmailVerified,
		"name":           u.Name,
		"has_password":   u.HasPassword(),
	})
}
