package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext guarda un logger scoped en el contexto. El middleware de logging
// lo usa para que todo lo logueado durante un request lleve request_id.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, l)
}

// From recupera el logger scoped del contexto, o el global si no hay ninguno.
// Seguro llamarlo desde cualquier capa sin saber si hubo middleware.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}
