package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresDialect struct{}

func (postgresDialect) Provider() Provider { return Postgres }

func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) NormalizeDSN(dsn string) (string, error) {
	// Parse early so a bad connection string fails before any script runs.
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("invalid postgres connection string: %w", err)
	}
	return dsn, nil
}

func (postgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) TableExistsQuery() string {
	return `SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`
}

func (d postgresDialect) CreateHistoryTable(table string) string {
	return fmt.Sprintf(`
CREATE TABLE %s (
	"id" varchar(50) NOT NULL PRIMARY KEY,
	"script" varchar(255) NOT NULL,
	"release" varchar(50) NOT NULL,
	"applied_on_utc" timestamptz NOT NULL
)`, d.QuoteIdent(table))
}
