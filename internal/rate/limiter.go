// Package rate limita requests por clave (IP) en los endpoints de auth.
// Dos backends: redis fixed-window para despliegues multi-instancia y un
// token bucket en memoria para single instance / tests.
package rate

import (
	"context"
	"strings"
	"time"
)

// Result describe el veredicto de Allow para una clave.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration // 0 cuando Allowed
}

// Limiter decide si una clave puede ejecutar un request más.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// sanitizeKey normaliza la clave para uso como key de redis.
func sanitizeKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), " ", "_")
}
