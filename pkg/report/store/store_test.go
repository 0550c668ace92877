package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/report"
	"github.com/go-drift/leakcheck/pkg/report/store"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "leaks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id, app string, at time.Time, types ...string) report.Record {
	rec := report.Record{ID: id, App: app, At: at}
	for i, typ := range types {
		rec.Leaks = append(rec.Leaks, report.LeakRecord{
			Type:          typ,
			Description:   typ + "-desc",
			DisappearedAt: at.Add(-2 * time.Second),
			Age:           2*time.Second + time.Duration(i),
		})
	}
	return rec
}

func TestInsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := record("r1", "demo", t0.Add(500*time.Millisecond), "*app.Detail", "*app.Settings")
	rec.Leaks[1].Description = ""
	rec.Leaks[1].Stack = "main.main\n\tmain.go:10\n"

	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.App)
	assert.True(t, rec.At.Equal(got.At))
	require.Len(t, got.Leaks, 2)
	assert.Equal(t, "*app.Detail", got.Leaks[0].Type)
	assert.Equal(t, "*app.Detail-desc", got.Leaks[0].Description)
	assert.Empty(t, got.Leaks[1].Description)
	assert.Equal(t, rec.Leaks[1].Stack, got.Leaks[1].Stack)
	assert.Equal(t, rec.Leaks[1].Age, got.Leaks[1].Age)
	assert.True(t, rec.Leaks[0].DisappearedAt.Equal(got.Leaks[0].DisappearedAt))
}

func TestGetUnknown(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDuplicateIDRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, record("r1", "demo", t0, "*a")))

	err := s.Write(record("r1", "demo", t0, "*b"))

	var le *errors.LeakError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, errors.KindStore, le.Kind)

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"*a"}, got.Types(), "failed insert must not leave partial leaks")
}

func TestListFiltersAndOrders(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Write(record("old", "demo", t0, "*a")))
	require.NoError(t, s.Write(record("mid", "other", t0.Add(time.Minute), "*b")))
	require.NoError(t, s.Write(record("new", "demo", t0.Add(2*time.Minute), "*a", "*b")))
	// Sub-second timestamps must still sort after whole seconds.
	require.NoError(t, s.Write(record("newest", "demo", t0.Add(2*time.Minute+time.Millisecond), "*c")))

	ids := func(recs []report.Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "new", "mid", "old"}, ids(all))
	assert.Len(t, all[1].Leaks, 2)

	byApp, err := s.List(ctx, store.Filter{App: "demo", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "new"}, ids(byApp))

	byType, err := s.List(ctx, store.Filter{Type: "*b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, ids(byType))

	since, err := s.List(ctx, store.Filter{Since: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "new", "mid"}, ids(since))
}

func TestCountByTypeAndPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Write(record("r1", "demo", t0, "*a", "*b")))
	require.NoError(t, s.Write(record("r2", "demo", t0.Add(time.Hour), "*a")))

	counts, err := s.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.TypeCount{{Type: "*a", Count: 2}, {Type: "*b", Count: 1}}, counts)

	n, err := s.Prune(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err = s.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.TypeCount{{Type: "*a", Count: 1}}, counts)
}

func TestPruneIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaks.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Write(record("r1", "demo", t0, "*a", "*b")))

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TRIGGER keep_reports BEFORE DELETE ON reports
		BEGIN SELECT RAISE(ABORT, 'reports are read-only'); END`)
	require.NoError(t, err)

	_, err = s.Prune(ctx, t0.Add(time.Minute))
	require.ErrorContains(t, err, "prune reports")

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Leaks, 2, "failed prune must not remove leaks of kept reports")
}

func TestMemoryStore(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(record("m1", "", t0, "*a")))
	got, err := s.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", s.Path())
	assert.Len(t, got.Leaks, 1)
}

func TestStoreIsASink(t *testing.T) {
	var _ report.Sink = (*store.Store)(nil)
}
