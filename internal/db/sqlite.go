package db

import (
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type sqliteDialect struct{}

func (sqliteDialect) Provider() Provider { return SQLite }

func (sqliteDialect) DriverName() string { return "sqlite3" }

func (sqliteDialect) NormalizeDSN(dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", errors.New("sqlite connection string must name a database file")
	}
	return dsn, nil
}

func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) TableExistsQuery() string {
	return `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (d sqliteDialect) CreateHistoryTable(table string) string {
	return fmt.Sprintf(`
CREATE TABLE %s (
	"id" TEXT NOT NULL PRIMARY KEY,
	"script" TEXT NOT NULL,
	"release" TEXT NOT NULL,
	"applied_on_utc" TIMESTAMP NOT NULL
)`, d.QuoteIdent(table))
}
