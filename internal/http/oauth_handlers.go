// Package http expone el flujo OAuth y la gestión de conexiones sobre chi.
package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/socialauth/internal/auth/flow"
	"github.com/dropDatabas3/socialauth/internal/auth/linker"
	"github.com/dropDatabas3/socialauth/internal/http/middlewares"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/observability/logger"
)

// handleLogin arranca el authorization-code flow y redirige al provider.
// ?link=true vincula la identidad al usuario en sesión en vez de loguear.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	linkingUserID := ""
	if r.URL.Query().Get("link") == "true" {
		linkingUserID = middlewares.GetUserID(r.Context())
		if linkingUserID == "" {
			writeError(w, http.StatusUnauthorized, "authentication_required",
				"conectar una cuenta requiere sesión activa")
			return
		}
	}

	authURL, err := a.flow.Begin(r.Context(), providerName, r.URL.Query().Get("redirect"), linkingUserID)
	if err != nil {
		a.writeFlowError(w, r, err)
		return
	}

	countLoginStart(providerName)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback procesa el retorno del provider.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// El provider puede volver con error (usuario canceló el consent).
	if errCode := q.Get("error"); errCode != "" {
		logger.From(r.Context()).Info("provider returned error",
			logger.Provider(providerName), logger.String("error", errCode))
		countCallback(providerName, "error")
		a.redirectFailure(w, r, "authorization_denied")
		return
	}

	comp, err := a.flow.Complete(r.Context(), providerName, q.Get("state"), q.Get("code"))
	if err != nil {
		countCallback(providerName, "error")
		a.redirectFlowFailure(w, r, err)
		return
	}
	countCallback(providerName, string(comp.Outcome))

	if comp.Outcome == linker.OutcomeNeedsConfirmation {
		// Sin sesión: el ownership todavía no está probado. El token viaja en
		// la URL de confirmación; es single-use y de vida corta.
		http.Redirect(w, r, comp.RedirectTarget+"?token="+url.QueryEscape(comp.ConfirmToken), http.StatusFound)
		return
	}

	ck, err := a.sessions.Issue(comp.UserID)
	if err != nil {
		logger.From(r.Context()).Error("session issue failed", logger.Err(err))
		a.redirectFailure(w, r, "server_error")
		return
	}
	http.SetCookie(w, ck)
	http.Redirect(w, r, comp.RedirectTarget, http.StatusFound)
}

// redirectFlowFailure clasifica un error del callback y manda al usuario de
// vuelta al login con un indicador genérico. El detalle queda en los logs,
// nunca en la URL.
func (a *API) redirectFlowFailure(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context())

	var unknown *provider.UnknownProviderError
	var respErr *provider.ResponseError
	var httpErr *provider.HTTPError
	code := "server_error"
	switch {
	case errors.As(err, &unknown):
		code = "unknown_provider"
		log.Warn("callback for unknown provider", logger.Err(err))
	case errors.Is(err, flow.ErrInvalidState):
		// Mismo indicador para state desconocido, vencido o replay.
		code = "authentication_failed"
		log.Warn("state validation failed", logger.Err(err))
	case errors.Is(err, linker.ErrIdentityTaken):
		code = "identity_taken"
		log.Info("identity already linked elsewhere", logger.Err(err))
	case provider.IsTransient(err), errors.As(err, &respErr), errors.As(err, &httpErr):
		// Falla del lado del provider: respuesta inválida, 4xx o caído.
		code = "provider_error"
		log.Warn("provider failure during callback", logger.Err(err))
	default:
		log.Error("oauth callback error", logger.Err(err))
	}
	a.redirectFailure(w, r, code)
}

func isProviderError(err error) bool {
	var respErr *provider.ResponseError
	var httpErr *provider.HTTPError
	return errors.As(err, &respErr) || errors.As(err, &httpErr)
}

func (a *API) redirectFailure(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, a.loginPath+"?error="+url.QueryEscape(code), http.StatusFound)
}

// handleConfirmLink completa una vinculación parqueada con prueba de password.
func (a *API) handleConfirmLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token y password son requeridos")
		return
	}

	comp, err := a.flow.ConfirmLink(r.Context(), req.Token, req.Password)
	if err != nil {
		a.writeFlowError(w, r, err)
		return
	}

	ck, err := a.sessions.Issue(comp.UserID)
	if err != nil {
		logger.From(r.Context()).Error("session issue failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	http.SetCookie(w, ck)
	writeJSON(w, http.StatusOK, map[string]string{
		"outcome":  string(comp.Outcome),
		"redirect": comp.RedirectTarget,
	})
}

// handleProviders lista los providers habilitados.
func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": a.providers.Names()})
}

// writeFlowError traduce errores del flow a respuestas HTTP sin filtrar
// detalle interno.
func (a *API) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context())

	var unknown *provider.UnknownProviderError
	switch {
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, "unknown_provider", unknown.Error())
	case errors.Is(err, flow.ErrInvalidRedirect):
		writeError(w, http.StatusBadRequest, "invalid_redirect", "redirect no permitido")
	case errors.Is(err, flow.ErrInvalidState):
		// Mismo mensaje para state desconocido, vencido o replay.
		log.Warn("state validation failed", logger.Err(err))
		writeError(w, http.StatusBadRequest, "authentication_failed", "no se pudo completar la autenticación")
	case errors.Is(err, flow.ErrConfirmExpired):
		writeError(w, http.StatusGone, "confirmation_expired", "la confirmación venció, reintentá desde el login")
	case errors.Is(err, linker.ErrConfirmationFailed):
		writeError(w, http.StatusForbidden, "confirmation_failed", "password incorrecta")
	case errors.Is(err, linker.ErrConfirmationUnavailable):
		writeError(w, http.StatusConflict, "confirmation_unavailable",
			"la cuenta no tiene password; ingresá con el método original")
	case errors.Is(err, linker.ErrIdentityTaken):
		writeError(w, http.StatusConflict, "identity_taken", "la identidad ya está vinculada a otra cuenta")
	case provider.IsTransient(err):
		log.Warn("provider unavailable", logger.Err(err))
		writeError(w, http.StatusBadGateway, "provider_unavailable", "el proveedor no respondió")
	case isProviderError(err):
		// El provider contestó pero mal (payload inválido, 4xx): no es una
		// falla nuestra.
		log.Warn("provider error", logger.Err(err))
		writeError(w, http.StatusBadGateway, "provider_error", "el proveedor devolvió un error")
	default:
		log.Error("oauth flow error", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
