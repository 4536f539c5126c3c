package middlewares

import (
	"net/http"

	"github.com/dropDatabas3/socialauth/internal/session"
)

// WithSession resuelve la cookie de sesión y deja el user id en el contexto.
// No rechaza: los handlers que requieren sesión usan RequireSession.
func WithSession(mgr *session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := mgr.Verify(r); err == nil {
				r = r.WithContext(setUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession corta con 401 si no hay sesión válida.
func RequireSession() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
