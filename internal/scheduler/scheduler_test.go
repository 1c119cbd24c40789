package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tenderwatch/internal/domain"
	"tenderwatch/internal/pipeline"

	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu       sync.Mutex
	triggers []domain.Trigger
	chunks   [][]string
	err      error
}

func (r *stubRunner) Run(ctx context.Context, trigger domain.Trigger, d pipeline.Deliverer) (*pipeline.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.triggers = append(r.triggers, trigger)
	if r.err != nil {
		return nil, r.err
	}

	if err := d.Deliver(ctx, []string{"digest"}); err != nil {
		return nil, err
	}

	return &pipeline.Report{Stats: domain.RunStats{Trigger: trigger, Delivered: true}}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunScheduledDeliversToOperator(t *testing.T) {
	runner := &stubRunner{}

	var delivered []string
	deliverer := pipeline.DelivererFunc(func(_ context.Context, chunks []string) error {
		delivered = append(delivered, chunks...)
		return nil
	})

	s := New(context.Background(), Options{}, runner, deliverer, discardLogger())
	s.runScheduled()

	require.Equal(t, []domain.Trigger{domain.TriggerSchedule}, runner.triggers)
	require.Equal(t, []string{"digest"}, delivered)
}

func TestRunScheduledSkipsWhenRunInProgress(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	runner := &stubRunner{err: pipeline.ErrRunInProgress}
	s := New(context.Background(), Options{}, runner, pipeline.DelivererFunc(
		func(context.Context, []string) error { return nil }), log)

	s.runScheduled()

	require.Contains(t, buf.String(), "skipped")
	require.NotContains(t, buf.String(), "level=ERROR")
}

func TestRunScheduledStopsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &stubRunner{}
	s := New(ctx, Options{Jitter: time.Hour}, runner, nil, discardLogger())
	s.runScheduled()

	require.Empty(t, runner.triggers)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := New(context.Background(), Options{Spec: "every day"}, &stubRunner{}, nil, discardLogger())
	require.Error(t, s.Start())
}

func TestNextUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	s := New(context.Background(), Options{Location: loc}, &stubRunner{}, nil, discardLogger())
	require.True(t, s.Next().IsZero())

	require.NoError(t, s.Start())
	defer s.Stop()

	next := s.Next().In(loc)
	require.Equal(t, 10, next.Hour())
	require.Equal(t, 0, next.Minute())
	require.True(t, next.After(time.Now()))
}

func TestCronLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{log: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Error(errors.New("panic"), "job failed", "entry", 1)

	require.Contains(t, buf.String(), "Cron: job failed")
	require.Contains(t, buf.String(), "error=panic")
}
