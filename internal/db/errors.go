package db

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ExecutionError reports a failed batch. Batch is 1-based; Code carries the
// driver's error code (SQLSTATE for Postgres, error number for MySQL,
// extended result code for SQLite) when one is available.
type ExecutionError struct {
	Script    string
	Batch     int
	Statement string
	Code      string
	Err       error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "script %s failed in batch %d", e.Script, e.Batch)
	if e.Statement != "" {
		fmt.Fprintf(&b, " (%s)", e.Statement)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func newExecutionError(script string, batch int, statement string, err error) *ExecutionError {
	return &ExecutionError{
		Script:    script,
		Batch:     batch,
		Statement: summarize(statement),
		Code:      driverCode(err),
		Err:       err,
	}
}

func driverCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return strconv.Itoa(int(liteErr.ExtendedCode))
	}
	return ""
}

// summarize returns the first line of a statement, shortened for messages.
func summarize(statement string) string {
	const max = 60
	line, _, _ := strings.Cut(strings.TrimSpace(statement), "\n")
	line = strings.TrimSpace(line)
	if len(line) > max {
		line = line[:max] + "..."
	}
	return line
}
