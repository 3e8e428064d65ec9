package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/arloliu/go-astm/logger"
)

// pool is a fixed-size pool of SQLite connections with WAL pragmas applied
// to every connection.
//
// pool is safe for concurrent use. Individual connections are not; each
// goroutine must take its own connection and put it back when done.
type pool struct {
	inner  *sqlitex.Pool
	logger logger.Logger
	path   string
}

// openPool creates the pool. Connections are initialized lazily on first take.
func openPool(path string, size int, l logger.Logger, onConnect func(*sqlite.Conn) error) (*pool, error) {
	if path == "" {
		return nil, errors.New("sqlitestore: path is required")
	}

	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, onConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", path, err)
	}

	l.Info("sqlitestore: pool opened", "path", path, "poolSize", size)

	return &pool{inner: inner, logger: l, path: path}, nil
}

// take borrows a connection, blocking until one is available or ctx is done.
// Statements on the connection are interrupted when ctx is done.
func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}

	return conn, nil
}

// put returns a connection to the pool. Safe to call with nil.
func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// close closes all connections, blocking until borrowed ones are returned.
func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlitestore: pool close error", "path", p.path, "error", err)

		return fmt.Errorf("sqlitestore: closing %s: %w", p.path, err)
	}

	p.logger.Info("sqlitestore: pool closed", "path", p.path)

	return nil
}

// prepareConnection applies the standard pragmas and then onConnect. It runs
// once per connection on first use.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitestore: on connect: %w", err)
		}
	}

	return nil
}
