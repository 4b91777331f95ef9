// Package sqlite is the embedded event and theme store. Writes are
// serialized by SQLite itself; readers run concurrently under WAL.
package sqlite

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/logging"
)

type Config struct {
	// Path is the database file. Its directory must exist.
	Path     string
	PoolSize int
	// Clock stamps events without a timestamp and HITL responses.
	Clock clock.Clock
}

type Store struct {
	pool  *sqlitex.Pool
	clock clock.Clock
	log   *zerolog.Logger
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	pool, err := openPool(cfg.Path, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, clock: cfg.Clock, log: logging.For("store")}

	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite store: apply schema: %w", err)
	}
	s.log.Info().Str("path", cfg.Path).Msg("sqlite store opened")
	return s, nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: close: %w", err)
	}
	return nil
}

// Ready checks that a connection can be taken and queried.
func (s *Store) Ready(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
	})
}
