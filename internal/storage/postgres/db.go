// Package postgres is the PostgreSQL event and theme store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DB struct {
	Pool  *pgxpool.Pool
	clock clock.Clock
}

func Connect(ctx context.Context, dsn string, clk clock.Clock) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &DB{Pool: pool, clock: clk}, nil
}

func (db *DB) Close() error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	return nil
}

func (db *DB) Ready(ctx context.Context) error {
	var one int
	return db.Pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Migrate applies the embedded migrations in file-name order. Every
// statement is idempotent, so it runs on each start.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		logging.For("store").Info().Str("migration", name).Msg("migration applied")
	}
	return nil
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
