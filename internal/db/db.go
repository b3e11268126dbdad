package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Provider names a supported database engine.
type Provider string

const (
	Postgres Provider = "postgres"
	MySQL    Provider = "mysql"
	SQLite   Provider = "sqlite"
)

// Dialect holds the provider-specific pieces the tool needs for its own
// bookkeeping statements. User scripts are always sent to the driver as-is.
type Dialect interface {
	Provider() Provider
	DriverName() string
	// NormalizeDSN validates a connection string and applies the options the
	// runner relies on.
	NormalizeDSN(dsn string) (string, error)
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// TableExistsQuery returns a query taking the table name as its only
	// argument and yielding a row when the table exists.
	TableExistsQuery() string
	// CreateHistoryTable returns DDL for the script history table.
	CreateHistoryTable(table string) string
}

var dialects = map[Provider]Dialect{
	Postgres: postgresDialect{},
	MySQL:    mysqlDialect{},
	SQLite:   sqliteDialect{},
}

// ParseProvider maps a configured provider name (and common aliases) to a
// Provider. An empty name selects Postgres.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql", "pg", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported provider %s", name)
	}
}

// DialectFor returns the dialect of a provider.
func DialectFor(p Provider) (Dialect, error) {
	d, ok := dialects[p]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %s", p)
	}
	return d, nil
}

// Open builds a handle limited to a single connection; callers pin it with
// (*sql.DB).Conn for the lifetime of a phase.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	normalized, err := d.NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), normalized)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Provider(), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
