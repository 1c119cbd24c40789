package pipeline

import (
	"context"

	"tenderwatch/internal/domain"
)

// Preview is the result of a dry run over arbitrary sources.
type Preview struct {
	Stats   domain.RunStats
	Matched []domain.MatchedEntry
}

// Check fetches, parses and filters sources without consulting or updating the seen links
// and without delivering anything. It does not take the run guard.
func (p *Pipeline) Check(ctx context.Context, sources []domain.FeedSource) Preview {
	preview := Preview{Stats: domain.RunStats{Trigger: domain.TriggerManual, StartedAt: p.now()}}

	entries := p.collect(ctx, sources, &preview.Stats)
	preview.Matched = p.params.Matcher.MatchAll(entries)
	preview.Stats.TotalMatched = len(preview.Matched)
	preview.Stats.FinishedAt = p.now()

	return preview
}
