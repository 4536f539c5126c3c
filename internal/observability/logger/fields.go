package logger

import (
	"time"

	"go.uber.org/zap"
)

// Helpers de campos para mantener nombres consistentes en todo el servicio.
// Siempre usar estos en vez de zap.String sueltos para los campos estándar.

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

// Duration es la duración total del request.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Negocio

// Provider identifica el proveedor OAuth (google, github, ...).
func Provider(v string) zap.Field { return zap.String("provider", v) }

// UserID es el ID del usuario local, AccountID el de la cuenta vinculada.
func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func AccountID(v string) zap.Field { return zap.String("oauth_account_id", v) }

// Outcome es el resultado de una resolución de linking.
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// Genéricos

func Err(err error) zap.Field         { return zap.Error(err) }
func String(key, v string) zap.Field  { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }
