package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"tenderwatch/internal/database"
	"tenderwatch/internal/domain"
	"tenderwatch/internal/feed"
	"tenderwatch/internal/markdown"
	"tenderwatch/internal/pipeline"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	checkMaxMatchesShown = 10
	statusTimeLayout     = "02.01.2006 15:04 MST"
)

const welcomeText = `🤖 *Tender watch*

I check tender feeds every day and send you new tenders that mention your companies, vendors or keywords\.

– /companies shows the watchlist
– /sources shows the feeds
– /status shows the last run
– /run checks the feeds right now
– /check \<urls\> tries feeds without remembering anything
– /reset clears the assistant conversation

Any other text goes to the assistant\.`

func (b *Bot) handleStart(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.sendMessageWithKeyboard(ctx, chatID, welcomeText, b.menuKeyboard)
	b.logHandlerError(ctx, err, update, "start")
}

func (b *Bot) handleMenu(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.sendMenu(ctx, chatID)
	b.logHandlerError(ctx, err, update, "menu")
}

func (b *Bot) sendMenu(ctx context.Context, chatID int64) error {
	return b.sendMessageWithKeyboard(ctx, chatID, "❔ *Choose an option:*", b.menuKeyboard)
}

func (b *Bot) handleCompanies(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.sendCompanies(ctx, chatID)
	b.logHandlerError(ctx, err, update, "companies")
}

func (b *Bot) sendCompanies(ctx context.Context, chatID int64) error {
	return b.sendMessageWithKeyboard(ctx, chatID, companiesText(b.deps.Pipeline.Watchlist()), b.returnKeyboard)
}

func (b *Bot) handleSources(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.sendSources(ctx, chatID)
	b.logHandlerError(ctx, err, update, "sources")
}

func (b *Bot) sendSources(ctx context.Context, chatID int64) error {
	return b.sendMessageWithKeyboard(ctx, chatID, sourcesText(b.deps.Pipeline.Sources()), b.returnKeyboard)
}

func (b *Bot) handleStatus(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.sendStatus(ctx, chatID)
	b.logHandlerError(ctx, err, update, "status")
}

func (b *Bot) sendStatus(ctx context.Context, chatID int64) error {
	var errs []error

	last, err := b.deps.Store.LastRun(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("get last run: %w", err))
	}

	seen, err := b.deps.Store.CountSeen(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("count seen links: %w", err))
	}

	var next time.Time
	if b.deps.NextRun != nil {
		next = b.deps.NextRun()
	}

	text := statusText(last, seen, next, b.deps.Location)
	if err = b.sendMessageWithKeyboard(ctx, chatID, text, b.returnKeyboard); err != nil {
		errs = append(errs, fmt.Errorf("send message with keyboard: %w", err))
	}

	return errors.Join(errs...)
}

func (b *Bot) handleRun(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.runNow(ctx, chatID)
	b.logHandlerError(ctx, err, update, "run")
}

// runNow runs the pipeline on demand and delivers the digest to chatID.
func (b *Bot) runNow(ctx context.Context, chatID int64) error {
	if b.deps.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.deps.RunTimeout)
		defer cancel()
	}

	var report *pipeline.Report
	err := b.withSpinner(ctx, chatID, func() error {
		var runErr error
		report, runErr = b.deps.Pipeline.Run(ctx, domain.TriggerManual, b.Deliverer(chatID))
		return runErr
	})

	var deliveryErr *pipeline.DeliveryError

	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return b.sendMessageWithKeyboard(ctx, chatID, "⏳ A run is already in progress\\.", b.returnKeyboard)
	case errors.As(err, &deliveryErr):
		// The chat itself is likely unreachable.
		return err
	case err != nil:
		sendErr := b.sendMessageWithKeyboard(ctx, chatID,
			"❌ Run failed: "+markdown.EscapeV2(err.Error()), b.returnKeyboard)
		return errors.Join(err, sendErr)
	case report != nil && !report.Stats.Delivered:
		return b.sendMessageWithKeyboard(ctx, chatID, fmt.Sprintf(
			"🔹 No new items found \\(%d fetched\\)\\.", report.Stats.TotalFetched), b.returnKeyboard)
	default:
		return nil
	}
}

func (b *Bot) handleCheck(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)
	err := b.check(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/check")))
	b.logHandlerError(ctx, err, update, "check")
}

func (b *Bot) check(ctx context.Context, chatID int64, text string) error {
	urls, err := feed.FindSourceURLs(text)
	if err != nil {
		return fmt.Errorf("find source URLs: %w", err)
	}

	if len(urls) == 0 {
		return b.sendMessageWithKeyboard(ctx, chatID,
			"✖️ Send feed URLs after the command, e\\.g\\. `/check https://example.com/rss`", b.returnKeyboard)
	}

	sources := make([]domain.FeedSource, 0, len(urls))
	for _, u := range urls {
		sources = append(sources, domain.FeedSource{Name: sourceName(u), URL: u})
	}

	var preview pipeline.Preview
	_ = b.withSpinner(ctx, chatID, func() error {
		preview = b.deps.Pipeline.Check(ctx, sources)
		return nil
	})

	return b.sendMessageWithKeyboard(ctx, chatID, checkText(preview), b.returnKeyboard)
}

func (b *Bot) handleReset(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	_, chatID := updateSender(update)

	if b.deps.Assistant != nil {
		b.deps.Assistant.Reset(chatID)
	}

	err := b.sendMessageWithKeyboard(ctx, chatID, "🧹 Conversation is cleared\\.", nil)
	b.logHandlerError(ctx, err, update, "reset")
}

func companiesText(w domain.Watchlist) string {
	var s strings.Builder

	fmt.Fprintf(&s, "📋 *Companies \\(%d\\):*\n", len(w.Companies))
	for _, c := range w.Companies {
		s.WriteString("• ")
		s.WriteString(markdown.EscapeV2(c.DisplayName))
		if c.Identifier != "" {
			s.WriteString(" \\(ИНН ")
			s.WriteString(markdown.EscapeV2(c.Identifier))
			s.WriteString("\\)")
		}
		s.WriteString("\n")
	}

	fmt.Fprintf(&s, "\n🏷 *Vendors \\(%d\\):* %s\n", len(w.Vendors), markdown.EscapeV2(strings.Join(w.Vendors, ", ")))
	fmt.Fprintf(&s, "\n🔎 *Keywords \\(%d\\):* %s", len(w.Keywords), markdown.EscapeV2(strings.Join(w.Keywords, ", ")))

	return markdown.TrimEscaped(s.String(), telegramMessageMaxLength)
}

func sourcesText(sources []domain.FeedSource) string {
	if len(sources) == 0 {
		return "✖️ No sources are configured\\."
	}

	var s strings.Builder
	fmt.Fprintf(&s, "🌐 *Sources \\(%d\\):*\n\n", len(sources))
	for i, src := range sources {
		fmt.Fprintf(&s, "%d\\. %s\n", i+1, markdown.Link(src.Name, src.URL))
	}

	return markdown.TrimEscaped(s.String(), telegramMessageMaxLength)
}

func statusText(last *database.RunRecord, seen int, next time.Time, loc *time.Location) string {
	var s strings.Builder

	s.WriteString("📊 *Status*\n\n")

	if last == nil {
		s.WriteString("No runs yet\\.\n")
	} else {
		fmt.Fprintf(&s, "Last run: %s \\(%s\\)\n",
			markdown.EscapeV2(last.StartedAt.In(loc).Format(statusTimeLayout)),
			markdown.EscapeV2(string(last.Trigger)))
		fmt.Fprintf(&s, "Fetched: %d, new: %d, duplicates: %d\n",
			last.TotalFetched, last.TotalMatched, last.Duplicates)

		if last.Delivered {
			s.WriteString("Delivered: ✅\n")
		} else {
			s.WriteString("Delivered: ❌\n")
		}
		if len(last.FailedSources) > 0 {
			fmt.Fprintf(&s, "Unavailable sources: %s\n", markdown.EscapeV2(strings.Join(last.FailedSources, ", ")))
		}
		if last.Error != "" {
			fmt.Fprintf(&s, "Error: %s\n", markdown.EscapeV2(last.Error))
		}
	}

	fmt.Fprintf(&s, "Links remembered: %d\n", seen)

	if !next.IsZero() {
		fmt.Fprintf(&s, "Next run: %s\n", markdown.EscapeV2(next.In(loc).Format(statusTimeLayout)))
	}

	return markdown.TrimEscaped(s.String(), telegramMessageMaxLength)
}

func checkText(preview pipeline.Preview) string {
	var s strings.Builder

	s.WriteString("🔍 *Check result*\n\n")

	for _, src := range preview.Stats.Sources {
		switch {
		case src.FetchFailed:
			fmt.Fprintf(&s, "❌ %s: fetch failed\n", markdown.EscapeV2(src.Name))
		case src.ParseFailed:
			fmt.Fprintf(&s, "❌ %s: not a feed\n", markdown.EscapeV2(src.Name))
		default:
			fmt.Fprintf(&s, "✅ %s: %d entries\n", markdown.EscapeV2(src.Name), src.Entries)
		}
	}

	fmt.Fprintf(&s, "\nMatched: *%d* of %d", len(preview.Matched), preview.Stats.TotalFetched)
	if preview.Stats.Stale > 0 {
		fmt.Fprintf(&s, " \\(%d too old\\)", preview.Stats.Stale)
	}
	s.WriteString("\n")

	for i, m := range preview.Matched {
		if i == checkMaxMatchesShown {
			fmt.Fprintf(&s, "… and %d more\n", len(preview.Matched)-checkMaxMatchesShown)
			break
		}
		title := m.Title
		if title == "" {
			title = m.Link
		}
		fmt.Fprintf(&s, "– %s \\(%s\\)\n", markdown.Link(title, m.Link), markdown.EscapeV2(m.Term))
	}

	return markdown.TrimEscaped(s.String(), telegramMessageMaxLength)
}

func sourceName(rawURL string) string {
	if ok, slug := feed.IsTelegramChannelURL(rawURL); ok {
		return "@" + slug
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
