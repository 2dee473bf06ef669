package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// migrationLockID serialises concurrent migrators across instances.
const migrationLockID int64 = 0x686f6d6562697465

// Migration is a forward-only schema change identified by a monotonically increasing version.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationLogger receives one call per applied migration.
type MigrationLogger func(ctx context.Context, event string, fields map[string]any)

// Migrate applies pending migrations in version order, each in its own transaction, and
// records them in schema_migrations. It returns the versions that were applied.
func Migrate(ctx context.Context, db *DB, migrations []Migration, logger MigrationLogger) ([]int, error) {
	if db == nil || db.pool == nil {
		return nil, errors.New("postgres: migrate requires a database")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ordered := slices.Clone(migrations)
	slices.SortFunc(ordered, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Version == ordered[i-1].Version {
			return nil, fmt.Errorf("postgres: duplicate migration version %d", ordered[i].Version)
		}
	}

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, WrapError("migrate.acquire", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return nil, WrapError("migrate.lock", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, WrapError("migrate.bootstrap", err)
	}

	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, WrapError("migrate.list", err)
	}
	applied := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, WrapError("migrate.list", err)
		}
		applied[v] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, WrapError("migrate.list", err)
	}

	var ran []int
	for _, m := range ordered {
		if _, done := applied[m.Version]; done {
			continue
		}
		if strings.TrimSpace(m.SQL) == "" {
			return ran, fmt.Errorf("postgres: migration %d has no statements", m.Version)
		}
		start := time.Now()
		tx, err := conn.Begin(ctx)
		if err != nil {
			return ran, WrapError("migrate.begin", err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return ran, WrapError(fmt.Sprintf("migrate.%d_%s", m.Version, m.Name), err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return ran, WrapError("migrate.record", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return ran, WrapError("migrate.commit", err)
		}
		ran = append(ran, m.Version)
		logger(ctx, "postgres.migration.applied", map[string]any{
			"version":  m.Version,
			"name":     m.Name,
			"duration": time.Since(start).String(),
		})
	}
	return ran, nil
}
