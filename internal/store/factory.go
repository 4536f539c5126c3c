// Package store abre el repository.Store según el driver configurado.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/socialauth/internal/config"
	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/store/memory"
	"github.com/dropDatabas3/socialauth/internal/store/pg"
)

// Open instancia el Store de acuerdo a cfg.Storage.Driver.
func Open(ctx context.Context, cfg config.Storage) (repository.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return memory.New(), nil
	case "postgres", "pg", "postgresql":
		opts := pg.Options{MaxConns: cfg.Postgres.MaxConns}
		if raw := cfg.Postgres.ConnMaxLifetime; raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("storage.postgres.conn_max_lifetime: %w", err)
			}
			opts.ConnMaxLifetime = d
		}
		return pg.New(ctx, cfg.DSN, opts)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
