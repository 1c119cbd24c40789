package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"tenderwatch/internal/domain"
	"tenderwatch/internal/pipeline"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSpec       = "0 10 * * *"
	defaultRunTimeout = 10 * time.Minute
	stopTimeout       = 30 * time.Second
)

type Runner interface {
	Run(ctx context.Context, trigger domain.Trigger, d pipeline.Deliverer) (*pipeline.Report, error)
}

type Options struct {
	Spec     string
	Location *time.Location
	// Jitter delays every run by a random duration in [0, Jitter).
	Jitter     time.Duration
	RunTimeout time.Duration
}

type Scheduler struct {
	ctx       context.Context
	cron      *cron.Cron
	runner    Runner
	deliverer pipeline.Deliverer
	opts      Options
	log       *slog.Logger
}

// New schedules runs delivered through deliverer. Runs stop when ctx is done.
func New(
	ctx context.Context,
	opts Options,
	runner Runner,
	deliverer pipeline.Deliverer,
	log *slog.Logger,
) *Scheduler {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}

	cronLog := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	return &Scheduler{
		ctx:       ctx,
		cron:      c,
		runner:    runner,
		deliverer: deliverer,
		opts:      opts,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.Spec, s.runScheduled); err != nil {
		return fmt.Errorf("add cron func: %w", err)
	}

	s.cron.Start()

	return nil
}

// Stop waits for a running job for a bounded time.
func (s *Scheduler) Stop() {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(stopTimeout):
		s.log.Warn("Scheduled run is still in progress on stop",
			"timeout", stopTimeout)
	}
}

// Next returns the next scheduled run, or zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) runScheduled() {
	if s.opts.Jitter > 0 {
		delay := rand.N(s.opts.Jitter)

		s.log.InfoContext(s.ctx, "Scheduled run is delayed",
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			s.log.InfoContext(s.ctx, "Scheduler context is done",
				"error", s.ctx.Err())
			return
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RunTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	}

	report, err := s.runner.Run(ctx, domain.TriggerSchedule, s.deliverer)

	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.log.InfoContext(ctx, "Scheduled run is skipped because another run is in progress")
	case err != nil:
		s.log.ErrorContext(ctx, "Scheduled run failed",
			"error", err,
			"spec", s.opts.Spec)
	default:
		s.log.InfoContext(ctx, "Scheduled run is done",
			"totalMatched", report.Stats.TotalMatched,
			"delivered", report.Stats.Delivered)
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("Cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("Cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
