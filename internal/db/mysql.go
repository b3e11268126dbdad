package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

func (mysqlDialect) Provider() Provider { return MySQL }

func (mysqlDialect) DriverName() string { return "mysql" }

// NormalizeDSN turns on the options scripts and the history table need:
// several statements per batch, and DATETIME columns scanned as UTC times.
func (mysqlDialect) NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.MultiStatements = true
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) TableExistsQuery() string {
	return `SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
}

func (d mysqlDialect) CreateHistoryTable(table string) string {
	return fmt.Sprintf(`
CREATE TABLE %s (
	id varchar(50) NOT NULL PRIMARY KEY,
	script varchar(255) NOT NULL,
	%s varchar(50) NOT NULL,
	applied_on_utc datetime(6) NOT NULL
) ENGINE=InnoDB`, d.QuoteIdent(table), d.QuoteIdent("release"))
}
