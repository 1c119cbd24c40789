// Package pipeline runs one pass of the tender digest: fetch, parse, filter, dedup, format,
// deliver and commit the seen links.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tenderwatch/internal/dedup"
	"tenderwatch/internal/digest"
	"tenderwatch/internal/domain"
	"tenderwatch/internal/feed"
	"tenderwatch/internal/filter"
)

var ErrRunInProgress = errors.New("a run is already in progress")

// Deliverer sends digest chunks in order.
type Deliverer interface {
	Deliver(ctx context.Context, chunks []string) error
}

type DelivererFunc func(ctx context.Context, chunks []string) error

func (f DelivererFunc) Deliver(ctx context.Context, chunks []string) error {
	return f(ctx, chunks)
}

type Store interface {
	LoadSeenLinks(ctx context.Context) (domain.SeenSet, error)
	SaveSeen(ctx context.Context, records []domain.SeenRecord) error
	TouchSeen(ctx context.Context, links []string, at time.Time) error
	PruneSeen(ctx context.Context, olderThan time.Time) (int64, error)
	RecordRun(ctx context.Context, stats domain.RunStats, runErr error) error
}

type Params struct {
	Sources   []domain.FeedSource
	Watchlist domain.Watchlist

	// MaxEntryAge skips entries older than this. Entries without a timestamp are kept.
	MaxEntryAge   time.Duration
	SeenRetention time.Duration
	// SendEmpty delivers the "no new items" digest when nothing matched.
	SendEmpty bool

	Fetcher   *feed.Fetcher
	Parser    *feed.Parser
	Matcher   *filter.Matcher
	Formatter *digest.Formatter
	Store     Store

	Now func() time.Time
	Log *slog.Logger
}

type Pipeline struct {
	params  Params
	now     func() time.Time
	log     *slog.Logger
	running sync.Mutex
}

// Report describes a finished run.
type Report struct {
	Stats   domain.RunStats
	Matched []domain.MatchedEntry
	Chunks  []string
}

func New(params Params) *Pipeline {
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		params: params,
		now:    now,
		log:    params.Log,
	}
}

func (p *Pipeline) Sources() []domain.FeedSource {
	return p.params.Sources
}

func (p *Pipeline) Watchlist() domain.Watchlist {
	return p.params.Watchlist
}

// Run executes one pass and delivers the digest through d. Only one run may be in flight;
// a concurrent call returns ErrRunInProgress. Seen links are stored only after every chunk
// was delivered, so a failed delivery is retried by the next run.
func (p *Pipeline) Run(ctx context.Context, trigger domain.Trigger, d Deliverer) (*Report, error) {
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	report := &Report{Stats: domain.RunStats{Trigger: trigger, StartedAt: p.now()}}

	runErr := p.run(ctx, report, d)

	report.Stats.FinishedAt = p.now()
	p.record(ctx, report.Stats, runErr)

	return report, runErr
}

func (p *Pipeline) run(ctx context.Context, report *Report, d Deliverer) error {
	seen, err := p.params.Store.LoadSeenLinks(ctx)
	if err != nil {
		return fmt.Errorf("load seen links: %w", err)
	}

	entries := p.collect(ctx, p.params.Sources, &report.Stats)

	matched := p.params.Matcher.MatchAll(entries)
	fresh, _ := dedup.FilterNew(matched, seen)
	p.touch(ctx, matched, seen)

	report.Matched = fresh
	report.Stats.TotalMatched = len(fresh)
	report.Stats.Duplicates = len(matched) - len(fresh)
	report.Chunks = p.params.Formatter.Format(fresh, p.summary(report.Stats))

	if len(fresh) == 0 && !p.params.SendEmpty {
		p.log.InfoContext(ctx, "No new items, skipping delivery",
			"trigger", report.Stats.Trigger,
			"totalFetched", report.Stats.TotalFetched)
		return nil
	}

	if err = d.Deliver(ctx, report.Chunks); err != nil {
		var deliveryErr *DeliveryError
		if !errors.As(err, &deliveryErr) {
			deliveryErr = &DeliveryError{Total: len(report.Chunks), Err: err}
		}
		return deliveryErr
	}
	report.Stats.Delivered = true

	return p.commit(ctx, fresh)
}

// touch refreshes seen links that sources still list. Retention counts from the last
// sighting, so a seen link is kept while any source lists it.
func (p *Pipeline) touch(ctx context.Context, matched []domain.MatchedEntry, seen domain.SeenSet) {
	var listed []string
	for _, m := range matched {
		if seen.Has(m.Link) {
			listed = append(listed, m.Link)
		}
	}

	if err := p.params.Store.TouchSeen(ctx, listed, p.now()); err != nil {
		p.log.WarnContext(ctx, "Failed to touch seen links",
			"error", err,
			"count", len(listed))
	}
}

func (p *Pipeline) commit(ctx context.Context, fresh []domain.MatchedEntry) error {
	if len(fresh) > 0 {
		seenAt := p.now()
		records := make([]domain.SeenRecord, 0, len(fresh))
		for _, m := range fresh {
			records = append(records, domain.SeenRecord{
				Link:     m.Link,
				Title:    m.Title,
				Category: m.Category,
				SeenAt:   seenAt,
			})
		}

		if err := p.params.Store.SaveSeen(ctx, records); err != nil {
			return fmt.Errorf("save seen links: %w", err)
		}
	}

	if p.params.SeenRetention <= 0 {
		return nil
	}

	removed, err := p.params.Store.PruneSeen(ctx, p.now().Add(-p.params.SeenRetention))
	if err != nil {
		p.log.WarnContext(ctx, "Failed to prune seen links",
			"error", err,
			"retention", p.params.SeenRetention)
		return nil
	}
	if removed > 0 {
		p.log.InfoContext(ctx, "Pruned seen links",
			"removed", removed)
	}

	return nil
}

// collect fetches and parses every source and applies the recency window. Failures are
// recorded in stats and never stop the other sources.
func (p *Pipeline) collect(
	ctx context.Context,
	sources []domain.FeedSource,
	stats *domain.RunStats,
) []domain.Entry {
	var entries []domain.Entry
	now := p.now()

	for _, result := range p.params.Fetcher.FetchAll(ctx, sources) {
		src := domain.SourceStats{Name: result.Source.Name}

		if result.Err != nil {
			src.FetchFailed = true
			src.Error = result.Err.Error()
			stats.Sources = append(stats.Sources, src)
			continue
		}

		parsed, err := p.params.Parser.Parse(ctx, result.Source, result.Body)
		if err != nil {
			p.log.WarnContext(ctx, "Failed to parse source",
				"error", err,
				"source", result.Source.Name)

			src.ParseFailed = true
			src.Error = err.Error()
			stats.Sources = append(stats.Sources, src)
			continue
		}

		src.Entries = len(parsed.Entries)
		stats.TotalFetched += len(parsed.Entries)
		stats.Dropped += parsed.Dropped
		stats.Sources = append(stats.Sources, src)

		for _, e := range parsed.Entries {
			if p.isStale(e, now) {
				stats.Stale++
				continue
			}
			entries = append(entries, e)
		}
	}

	return entries
}

func (p *Pipeline) isStale(e domain.Entry, now time.Time) bool {
	if p.params.MaxEntryAge <= 0 || e.Timestamp.IsZero() {
		return false
	}
	return now.Sub(e.Timestamp) > p.params.MaxEntryAge
}

func (p *Pipeline) summary(stats domain.RunStats) digest.Summary {
	return digest.Summary{
		RunAt:         stats.StartedAt,
		TotalFetched:  stats.TotalFetched,
		Companies:     len(p.params.Watchlist.Companies),
		Vendors:       len(p.params.Watchlist.Vendors),
		Keywords:      len(p.params.Watchlist.Keywords),
		FailedSources: stats.FailedSources(),
	}
}

func (p *Pipeline) record(ctx context.Context, stats domain.RunStats, runErr error) {
	fields := []any{
		"trigger", stats.Trigger,
		"totalFetched", stats.TotalFetched,
		"totalMatched", stats.TotalMatched,
		"duplicates", stats.Duplicates,
		"stale", stats.Stale,
		"dropped", stats.Dropped,
		"failedSources", stats.FailedSources(),
		"delivered", stats.Delivered,
		"duration", stats.FinishedAt.Sub(stats.StartedAt),
	}

	if runErr != nil {
		p.log.ErrorContext(ctx, "Run failed", append([]any{"error", runErr}, fields...)...)
	} else {
		p.log.InfoContext(ctx, "Run finished", fields...)
	}

	// Recorded even when ctx is already cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.params.Store.RecordRun(recordCtx, stats, runErr); err != nil {
		p.log.ErrorContext(ctx, "Failed to record run",
			"error", err,
			"trigger", stats.Trigger)
	}
}
