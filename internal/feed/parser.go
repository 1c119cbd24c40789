package feed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tenderwatch/internal/domain"

	"github.com/mmcdole/gofeed"
)

const telegramTitleMaxChars = 200

// ParsedFeed is a decoded document. Dropped counts items skipped for lacking a link.
type ParsedFeed struct {
	Title   string
	Entries []domain.Entry
	Dropped int
}

type Parser struct {
	libParser *gofeed.Parser
	log       *slog.Logger
}

func NewParser(log *slog.Logger) *Parser {
	return &Parser{
		libParser: gofeed.NewParser(),
		log:       log,
	}
}

// Parse decodes body as RSS, Atom or JSON Feed, or as a Telegram channel page when the
// source URL points at one. A malformed document yields an empty result and a *ParseError.
func (p *Parser) Parse(
	ctx context.Context,
	source domain.FeedSource,
	body []byte,
) (ParsedFeed, error) {
	if ok, _ := IsTelegramChannelURL(source.URL); ok {
		return p.parseTelegramChannel(ctx, source, body)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return ParsedFeed{}, &ParseError{Source: source.Name, Err: errors.New("document is empty")}
	}

	parsed, err := p.parseDocument(body)
	if err != nil {
		return ParsedFeed{}, &ParseError{Source: source.Name, Err: err}
	}

	result := ParsedFeed{Title: strings.TrimSpace(parsed.Title)}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		entry, ok := normalizeItem(source.Name, item)
		if !ok {
			p.log.WarnContext(ctx, "Skipping feed item with empty link",
				"source", source.Name,
				"itemTitle", strings.TrimSpace(item.Title))

			result.Dropped++
			continue
		}

		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

// parseDocument shields the pipeline from panics inside third-party decoders.
func (p *Parser) parseDocument(body []byte) (parsed *gofeed.Feed, err error) {
	defer func() {
		if r := recover(); r != nil {
			parsed = nil
			err = errors.New("decoder panicked")
		}
	}()

	return p.libParser.Parse(bytes.NewReader(body))
}

func normalizeItem(sourceName string, item *gofeed.Item) (domain.Entry, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		for _, l := range item.Links {
			if l = strings.TrimSpace(l); l != "" {
				link = l
				break
			}
		}
	}
	if link == "" {
		return domain.Entry{}, false
	}

	summary := strings.TrimSpace(item.Description)
	if summary == "" {
		summary = strings.TrimSpace(item.Content)
	}

	var timestamp time.Time
	if item.PublishedParsed != nil {
		timestamp = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		timestamp = *item.UpdatedParsed
	}

	return domain.Entry{
		SourceName:  sourceName,
		Title:       strings.TrimSpace(item.Title),
		Link:        link,
		Summary:     summary,
		PublishedAt: rawTime(item.Published),
		UpdatedAt:   rawTime(item.Updated),
		Timestamp:   timestamp,
	}, true
}

func (p *Parser) parseTelegramChannel(
	ctx context.Context,
	source domain.FeedSource,
	body []byte,
) (ParsedFeed, error) {
	posts, title, err := parseChannelPage(body)
	if err != nil && len(posts) == 0 {
		return ParsedFeed{}, &ParseError{Source: source.Name, Err: err}
	}
	if err != nil {
		p.log.WarnContext(ctx, "Some Telegram channel posts were not parsed",
			"error", err,
			"source", source.Name,
			"parsedCount", len(posts))
	}

	result := ParsedFeed{Title: title}

	for _, post := range posts {
		if post.link == "" {
			result.Dropped++
			continue
		}

		published := domain.UnknownTime
		if !post.published.IsZero() {
			published = post.published.Format(time.RFC3339)
		}

		result.Entries = append(result.Entries, domain.Entry{
			SourceName:  source.Name,
			Title:       telegramPostTitle(post),
			Link:        post.link,
			Summary:     post.summary(),
			PublishedAt: published,
			UpdatedAt:   domain.UnknownTime,
			Timestamp:   post.published,
		})
	}

	return result, nil
}

// telegramPostTitle is the first line of the post followed by the customer line when the
// post has one further down. Posts without text are titled by their link.
func telegramPostTitle(post channelPost) string {
	var firstLine string
	for line := range strings.Lines(post.text) {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			firstLine = line
			break
		}
	}
	if firstLine == "" {
		return post.link
	}

	title := firstLine
	if post.customer != "" && post.customer != firstLine {
		title += " | " + post.customer
	}

	runes := []rune(title)
	if len(runes) <= telegramTitleMaxChars {
		return title
	}

	return strings.TrimSpace(string(runes[:telegramTitleMaxChars])) + "..."
}

func rawTime(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return domain.UnknownTime
	}
	return value
}
