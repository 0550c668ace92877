package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is recorded in the meta table.
const SchemaVersion = 1

// CreateSchema creates the report tables and indexes if they do not exist.
func CreateSchema(db *sql.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"reports table", `
			CREATE TABLE IF NOT EXISTS reports (
				id TEXT PRIMARY KEY,
				app TEXT NOT NULL DEFAULT '',
				at TEXT NOT NULL,
				leak_count INTEGER NOT NULL
			)`},
		{"leaks table", `
			CREATE TABLE IF NOT EXISTS leaks (
				report_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				type TEXT NOT NULL,
				description TEXT,
				disappeared_at TEXT NOT NULL,
				age_ns INTEGER NOT NULL,
				stack TEXT,
				PRIMARY KEY (report_id, position),
				FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
			)`},
		{"reports index", `CREATE INDEX IF NOT EXISTS idx_reports_at ON reports(at)`},
		{"leaks type index", `CREATE INDEX IF NOT EXISTS idx_leaks_type ON leaks(type)`},
		{"meta table", `
			CREATE TABLE IF NOT EXISTS meta (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.sql); err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprint(SchemaVersion),
	); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}
