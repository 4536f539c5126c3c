package middlewares

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Middleware decora un http.Handler; el router los encadena con chi.
type Middleware func(http.Handler) http.Handler

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyUserID
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, rid)
}

// GetRequestID devuelve el request id inyectado por WithRequestID, o "".
func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKeyRequestID).(string)
	return rid
}

func setUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// GetUserID devuelve el usuario autenticado vía cookie de sesión, o "".
func GetUserID(ctx context.Context) string {
	uid, _ := ctx.Value(ctxKeyUserID).(string)
	return uid
}

// ClientIP resuelve la IP del cliente respetando X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
