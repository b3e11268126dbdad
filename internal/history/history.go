// Package history owns the table that records which scripts have been
// applied to a database. Rows are only ever appended.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"sqlci/internal/db"
	"sqlci/internal/scripts"
)

// Record is one applied script.
type Record struct {
	ID           string    `json:"id"`
	Script       string    `json:"script"`
	Release      string    `json:"release"`
	AppliedOnUTC time.Time `json:"applied_on_utc"`
}

// Store reads and writes the history table through a deployment session.
type Store struct {
	session *db.Session
	dialect db.Dialect
}

// New returns a store bound to session.
func New(session *db.Session) *Store {
	return &Store{session: session, dialect: session.Dialect()}
}

// TableExists reports whether the history table is present.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := s.session.QueryContext(ctx, s.dialect.TableExistsQuery(), table)
	if err != nil {
		return false, fmt.Errorf("check history table %s: %w", table, err)
	}
	defer rows.Close()
	exists := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("check history table %s: %w", table, err)
	}
	return exists, nil
}

// EnsureTable creates the history table when it is missing and reports
// whether it existed beforehand.
func (s *Store) EnsureTable(ctx context.Context, table string) (existed bool, err error) {
	existed, err = s.TableExists(ctx, table)
	if err != nil || existed {
		return existed, err
	}
	if _, err := s.session.ExecContext(ctx, s.dialect.CreateHistoryTable(table)); err != nil {
		return false, fmt.Errorf("create history table %s: %w", table, err)
	}
	return false, nil
}

// AppliedScripts returns the file names of applied scripts in numeric id
// order, matching Records.
func (s *Store) AppliedScripts(ctx context.Context, table string) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT %s, %s FROM %s`,
		s.dialect.QuoteIdent("id"),
		s.dialect.QuoteIdent("script"),
		s.dialect.QuoteIdent(table),
	)
	rows, err := s.session.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query applied scripts: %w", err)
	}
	defer rows.Close()

	var applied []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Script); err != nil {
			return nil, fmt.Errorf("scan applied script: %w", err)
		}
		applied = append(applied, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied scripts: %w", err)
	}

	sortBySequence(applied)
	out := make([]string, len(applied))
	for i, r := range applied {
		out[i] = r.Script
	}
	return out, nil
}

// RecordApplied appends one row. The id is the table's primary key, so a
// script can never be recorded twice.
func (s *Store) RecordApplied(ctx context.Context, table string, rec Record) error {
	if rec.ID == "" || rec.Script == "" {
		return errors.New("history record needs an id and a script name")
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s) VALUES (%s, %s, %s, %s)`,
		s.dialect.QuoteIdent(table),
		s.dialect.QuoteIdent("id"),
		s.dialect.QuoteIdent("script"),
		s.dialect.QuoteIdent("release"),
		s.dialect.QuoteIdent("applied_on_utc"),
		s.dialect.Placeholder(1),
		s.dialect.Placeholder(2),
		s.dialect.Placeholder(3),
		s.dialect.Placeholder(4),
	)
	if _, err := s.session.ExecContext(ctx, stmt, rec.ID, rec.Script, rec.Release, rec.AppliedOnUTC.UTC()); err != nil {
		return fmt.Errorf("record script %s: %w", rec.Script, err)
	}
	return nil
}

// Records returns every row ordered by numeric id.
func (s *Store) Records(ctx context.Context, table string) ([]Record, error) {
	stmt := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s`,
		s.dialect.QuoteIdent("id"),
		s.dialect.QuoteIdent("script"),
		s.dialect.QuoteIdent("release"),
		s.dialect.QuoteIdent("applied_on_utc"),
		s.dialect.QuoteIdent(table),
	)
	rows, err := s.session.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			appliedOn sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Script, &r.Release, &appliedOn); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if appliedOn.Valid {
			r.AppliedOnUTC = appliedOn.Time.UTC()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	sortBySequence(out)
	return out, nil
}

// sortBySequence orders records by numeric id. The id column is text, so SQL
// ORDER BY would put "10" before "2".
func sortBySequence(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := scripts.CompareSequence(records[i].ID, records[j].ID); c != 0 {
			return c < 0
		}
		return records[i].Script < records[j].Script
	})
}
