package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"

	"github.com/go-drift/leakcheck/pkg/report/store"
)

func init() {
	RegisterCommand(&Command{
		Name:  "history",
		Short: "List stored leak reports",
		Long: `List leak reports from the report store, newest first.

The store is report.store in leakcheck.yaml unless --db is given.

Flags:
  --db PATH         SQLite database to read
  --app NAME        Only reports from this app
  --type TYPE       Only reports with a leak of this controller type
  --since WHEN      Duration back from now (1h) or an RFC 3339 time
  --limit N         Maximum number of reports (default 20)
  --json            Print JSON instead of text`,
		Usage: "leakcheck history [--db PATH] [--app NAME] [--type TYPE] [--since WHEN] [--limit N] [--json]",
		Run:   runHistory,
	})
	RegisterCommand(&Command{
		Name:  "prune",
		Short: "Delete old leak reports",
		Long: `Delete reports older than the given age from the report store.`,
		Usage: "leakcheck prune [--db PATH] --older-than DURATION",
		Run:   runPrune,
	})
}

type historyOptions struct {
	db     string
	filter store.Filter
	asJSON bool
}

func parseHistoryFlags(args []string, now time.Time) (historyOptions, error) {
	var opts historyOptions
	var since string
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.db, "db", "", "database path")
	fs.StringVar(&opts.filter.App, "app", "", "app name")
	fs.StringVar(&opts.filter.Type, "type", "", "controller type")
	fs.StringVar(&since, "since", "", "duration or RFC 3339 time")
	fs.IntVar(&opts.filter.Limit, "limit", 20, "maximum reports")
	fs.BoolVar(&opts.asJSON, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.filter.Limit < 0 {
		return opts, fmt.Errorf("--limit must not be negative")
	}
	if since != "" {
		t, err := parseSince(since, now)
		if err != nil {
			return opts, err
		}
		opts.filter.Since = t
	}
	return opts, nil
}

// parseSince accepts a duration counted back from now or an RFC 3339 time.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a duration or RFC 3339 time", s)
}

func runHistory(args []string) error {
	opts, err := parseHistoryFlags(args, time.Now())
	if err != nil {
		return err
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.openStore(opts.db)
	if err != nil {
		return err
	}
	recs, err := s.List(context.Background(), opts.filter)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if recs == nil {
			return enc.Encode([]any{})
		}
		return enc.Encode(recs)
	}
	renderRecords(stdout, recs)
	return nil
}

func runPrune(args []string) error {
	var db string
	var olderThan time.Duration
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&db, "db", "", "database path")
	fs.DurationVar(&olderThan, "older-than", 0, "minimum report age")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if olderThan <= 0 {
		return fmt.Errorf("--older-than is required and must be positive")
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.openStore(db)
	if err != nil {
		return err
	}
	n, err := s.Prune(context.Background(), time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Removed %d report(s) older than %s from %s\n", n, olderThan, s.Path())
	return nil
}
