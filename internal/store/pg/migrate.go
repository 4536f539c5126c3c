package pg

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrator aplica las migraciones SQL embebidas en el binario.
// Nombre de archivo: {version}_{nombre}.sql (ej: 0001_init.sql).
type Migrator struct {
	fsys embed.FS
	dir  string
}

func NewMigrator(fsys embed.FS, dir string) *Migrator {
	return &Migrator{fsys: fsys, dir: dir}
}

// MigrationResult resume una corrida: versiones aplicadas y salteadas.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Duration time.Duration
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrationFile = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Run aplica las migraciones pendientes en orden de versión. Cada migración
// corre en su propia transacción junto con su registro en _migrations, así
// una falla a mitad de camino no deja el schema y el registro desfasados.
func (m *Migrator) Run(ctx context.Context, pool *pgxpool.Pool) (*MigrationResult, error) {
	start := time.Now()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	done, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	pending, err := m.load()
	if err != nil {
		return nil, err
	}

	res := &MigrationResult{}
	for _, mig := range pending {
		if done[mig.version] {
			res.Skipped = append(res.Skipped, mig.version)
			continue
		}
		if err := applyOne(ctx, pool, mig); err != nil {
			return nil, fmt.Errorf("applying %d_%s: %w", mig.version, mig.name, err)
		}
		res.Applied = append(res.Applied, mig.version)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// load lee el FS embebido y devuelve las migraciones ordenadas por versión.
// Archivos que no matchean el patrón se ignoran (README, .keep, etc).
func (m *Migrator) load() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(m.fsys, m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		parts := migrationFile.FindStringSubmatch(filepath.Base(path))
		if parts == nil {
			return nil
		}
		v, _ := strconv.Atoi(parts[1])
		body, err := m.fsys.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		out = append(out, migration{version: v, name: parts[2], sql: string(body)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, mig migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, name) VALUES ($1, $2)`, mig.version, mig.name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
