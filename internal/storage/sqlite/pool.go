package sqlite

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pragmas run on every pooled connection. WAL gives concurrent readers
// alongside the single writer.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-8192",
	"PRAGMA temp_store=MEMORY",
}

func openPool(path string, size int) (*sqlitex.Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	return pool, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", p, err)
		}
	}
	return nil
}

// withConn borrows a connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// withTx runs fn inside an IMMEDIATE transaction, committing when fn
// returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer end(&err)
		return fn(conn)
	})
}
