package db

import (
	"context"
	"database/sql"
	"fmt"

	"sqlci/internal/status"
)

// Session owns the single connection used by one phase of a deployment. The
// connection is opened on first use and released by Close, which is safe to
// call on every exit path.
type Session struct {
	dialect Dialect
	dsn     string
	label   string
	status  *status.Publisher

	db   *sql.DB
	conn *sql.Conn
}

// NewSession prepares a session; no connection is made until it is needed.
// label names the phase in status messages ("deploy", "reset").
func NewSession(d Dialect, dsn, label string, pub *status.Publisher) *Session {
	if pub == nil {
		pub = status.NewPublisher()
	}
	return &Session{dialect: d, dsn: dsn, label: label, status: pub}
}

// Dialect returns the session's dialect.
func (s *Session) Dialect() Dialect { return s.dialect }

// Opened reports whether a connection is currently held.
func (s *Session) Opened() bool { return s.conn != nil }

// Conn returns the session connection, opening it if necessary.
func (s *Session) Conn(ctx context.Context) (*sql.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	s.status.Info("Opening %s connection to %s using connection string: %s ...", s.label, s.dialect.Provider(), s.dsn)

	handle, err := Open(s.dialect, s.dsn)
	if err != nil {
		return nil, err
	}
	conn, err := handle.Conn(ctx)
	if err != nil {
		handle.Close() // nolint:errcheck
		return nil, fmt.Errorf("connect to %s: %w", s.dialect.Provider(), err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()   // nolint:errcheck
		handle.Close() // nolint:errcheck
		return nil, fmt.Errorf("ping %s: %w", s.dialect.Provider(), err)
	}
	s.db = handle
	s.conn = conn
	return conn, nil
}

// ExecContext runs a statement on the session connection.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the session connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

// RunScript splits text into batches and executes them in order, stopping at
// the first failure. Each batch commits on its own; nothing is rolled back.
func (s *Session) RunScript(ctx context.Context, name, text string) error {
	conn, err := s.Conn(ctx)
	if err != nil {
		return err
	}
	for i, batch := range SplitBatches(text) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("script %s stopped before batch %d: %w", name, i+1, err)
		}
		if _, err := conn.ExecContext(ctx, batch); err != nil {
			return newExecutionError(name, i+1, batch, err)
		}
	}
	return nil
}

// Close releases the connection if one is open. It is idempotent.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	s.status.Info("Closing %s connection ...", s.label)
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	s.conn = nil
	s.db = nil
	if connErr != nil {
		return fmt.Errorf("close %s connection: %w", s.label, connErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close %s connection: %w", s.label, dbErr)
	}
	return nil
}
