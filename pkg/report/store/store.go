// Package store keeps a history of leak reports in SQLite.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/report"
)

// ErrNotFound is returned by Get for unknown report ids.
var ErrNotFound = stderrors.New("store: report not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed report history. It implements report.Sink.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. Use ":memory:" for a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Write implements report.Sink.
func (s *Store) Write(rec report.Record) error {
	if err := s.Insert(context.Background(), rec); err != nil {
		return &errors.LeakError{Op: "store.Write", Kind: errors.KindStore, Err: err}
	}
	return nil
}

// Insert stores one record and its leaks in a single transaction.
func (s *Store) Insert(ctx context.Context, rec report.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (id, app, at, leak_count) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.App, rec.At.UTC().Format(timeLayout), len(rec.Leaks),
	); err != nil {
		return fmt.Errorf("insert report %s: %w", rec.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leaks (report_id, position, type, description, disappeared_at, age_ns, stack)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare leak insert: %w", err)
	}
	defer stmt.Close()

	for i, l := range rec.Leaks {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, i, l.Type, nullString(l.Description),
			l.DisappearedAt.UTC().Format(timeLayout), int64(l.Age), nullString(l.Stack),
		); err != nil {
			return fmt.Errorf("insert leak %d of %s: %w", i, rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	// App keeps only reports from this app.
	App string
	// Type keeps only reports containing a leak of this controller type.
	Type string
	// Since keeps only reports at or after this time.
	Since time.Time
	// Limit caps the number of reports. Zero means 100.
	Limit int
}

// List returns reports, newest first, with their leaks.
func (s *Store) List(ctx context.Context, f Filter) ([]report.Record, error) {
	query := `SELECT id, app, at FROM reports r WHERE 1=1`
	var args []any
	if f.App != "" {
		query += ` AND r.app = ?`
		args = append(args, f.App)
	}
	if f.Type != "" {
		query += ` AND EXISTS (SELECT 1 FROM leaks l WHERE l.report_id = r.id AND l.type = ?)`
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		query += ` AND r.at >= ?`
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY r.at DESC, r.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	var out []report.Record
	for rows.Next() {
		var rec report.Record
		var at string
		if err := rows.Scan(&rec.ID, &rec.App, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if rec.At, err = time.Parse(timeLayout, at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse time of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}

	for i := range out {
		if out[i].Leaks, err = s.leaks(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Get returns one report by id.
func (s *Store) Get(ctx context.Context, id string) (report.Record, error) {
	var rec report.Record
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, app, at FROM reports WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.App, &at)
	if stderrors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("query report %s: %w", id, err)
	}
	if rec.At, err = time.Parse(timeLayout, at); err != nil {
		return rec, fmt.Errorf("parse time of %s: %w", id, err)
	}
	if rec.Leaks, err = s.leaks(ctx, id); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Store) leaks(ctx context.Context, id string) ([]report.LeakRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, description, disappeared_at, age_ns, stack
		FROM leaks WHERE report_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query leaks of %s: %w", id, err)
	}
	defer rows.Close()

	var out []report.LeakRecord
	for rows.Next() {
		var l report.LeakRecord
		var description, stack sql.NullString
		var disappearedAt string
		var age int64
		if err := rows.Scan(&l.Type, &description, &disappearedAt, &age, &stack); err != nil {
			return nil, fmt.Errorf("scan leak of %s: %w", id, err)
		}
		if l.DisappearedAt, err = time.Parse(timeLayout, disappearedAt); err != nil {
			return nil, fmt.Errorf("parse leak time of %s: %w", id, err)
		}
		l.Age = time.Duration(age)
		l.Description = description.String
		l.Stack = stack.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// TypeCount is the number of reported leaks of one controller type.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CountByType aggregates leaks per controller type, most frequent first.
func (s *Store) CountByType(ctx context.Context) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) AS n FROM leaks GROUP BY type ORDER BY n DESC, type`)
	if err != nil {
		return nil, fmt.Errorf("count leaks: %w", err)
	}
	defer rows.Close()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Prune deletes reports older than before, with their leaks, and returns
// how many reports were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeLayout)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM leaks WHERE report_id IN (SELECT id FROM reports WHERE at < ?)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("prune leaks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
