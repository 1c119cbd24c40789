package database_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"tenderwatch/internal/database"
	"tenderwatch/internal/domain"

	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) (*database.Database, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.New(context.Background(), path, "", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db, path
}

func TestSeenLinksPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	db, path := openDB(t)

	seen, err := db.LoadSeenLinks(ctx)
	require.NoError(t, err)
	require.Empty(t, seen)

	now := time.Now()
	require.NoError(t, db.SaveSeen(ctx, []domain.SeenRecord{
		{Link: "https://a.example/1", Title: "one", Category: domain.CategoryVendor, SeenAt: now},
		{Link: "https://a.example/2", Title: "two", Category: domain.CategoryCompany, SeenAt: now},
		{Link: "  ", Title: "blank"},
	}))
	// Saving the same link again is a no-op.
	require.NoError(t, db.SaveSeen(ctx, []domain.SeenRecord{{Link: "https://a.example/1", SeenAt: now}}))
	require.NoError(t, db.Close())

	reopened, err := database.New(ctx, path, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer reopened.Close()

	seen, err = reopened.LoadSeenLinks(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SeenSet{"https://a.example/1": {}, "https://a.example/2": {}}, seen)
}

func TestPruneSeen(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t)

	now := time.Now()
	require.NoError(t, db.SaveSeen(ctx, []domain.SeenRecord{
		{Link: "old", SeenAt: now.Add(-100 * 24 * time.Hour)},
		{Link: "fresh", SeenAt: now.Add(-time.Hour)},
	}))

	removed, err := db.PruneSeen(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	n, err := db.CountSeen(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTouchSeenKeepsListedLinksFromPruning(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t)

	now := time.Now()
	old := now.Add(-100 * 24 * time.Hour)
	require.NoError(t, db.SaveSeen(ctx, []domain.SeenRecord{
		{Link: "listed", SeenAt: old},
		{Link: "gone", SeenAt: old},
	}))

	require.NoError(t, db.TouchSeen(ctx, []string{"listed", "unknown"}, now))

	removed, err := db.PruneSeen(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	seen, err := db.LoadSeenLinks(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SeenSet{"listed": {}}, seen)
}

func TestRecordAndLoadLastRun(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t)

	last, err := db.LastRun(ctx)
	require.NoError(t, err)
	require.Nil(t, last)

	started := time.Unix(1_700_000_000, 0)
	stats := domain.RunStats{
		Trigger:      domain.TriggerManual,
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
		TotalFetched: 10,
		TotalMatched: 2,
		Duplicates:   1,
		Delivered:    true,
		Sources: []domain.SourceStats{
			{Name: "ok", Entries: 10},
			{Name: "down", FetchFailed: true},
		},
	}

	require.NoError(t, db.RecordRun(ctx, stats, nil))
	require.NoError(t, db.RecordRun(ctx, domain.RunStats{
		Trigger:    domain.TriggerSchedule,
		StartedAt:  started.Add(time.Hour),
		FinishedAt: started.Add(time.Hour),
	}, errors.New("telegram is down")))

	last, err = db.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.TriggerSchedule, last.Trigger)
	require.False(t, last.Delivered)
	require.Equal(t, "telegram is down", last.Error)
	require.Empty(t, last.FailedSources)
	require.True(t, last.StartedAt.Equal(started.Add(time.Hour)))
}
