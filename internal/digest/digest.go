// Package digest renders matched tenders as Telegram MarkdownV2 messages.
//
// The report is split into chunks of at most Options.ChunkSize characters. Every chunk
// starts with a header, and an entry is kept whole unless it alone exceeds the budget. Such
// an entry is written as plain escaped text, split across chunks without breaking a link.
package digest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tenderwatch/internal/domain"
	"tenderwatch/internal/markdown"
)

type GroupBy string

const (
	GroupByCompany  GroupBy = "company"
	GroupByPlatform GroupBy = "platform"

	DefaultChunkSize = 3500
	MinChunkSize     = 500

	titleMaxChars          = 300
	failedSourcesMaxShown  = 10
	failedSourceMaxChars   = 60
	headerMaxChunkFraction = 3
	timestampLayout       = "02.01.2006 15:04 MST"
)

type Options struct {
	GroupBy   GroupBy
	ChunkSize int
	Location  *time.Location
}

// Summary carries the run context printed in the header.
type Summary struct {
	RunAt         time.Time
	TotalFetched  int
	Companies     int
	Vendors       int
	Keywords      int
	FailedSources []string
}

type Formatter struct {
	opts Options
}

func New(opts Options) *Formatter {
	if opts.GroupBy != GroupByPlatform {
		opts.GroupBy = GroupByCompany
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	opts.ChunkSize = max(opts.ChunkSize, MinChunkSize)
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Formatter{opts: opts}
}

type group struct {
	header  string
	entries []domain.MatchedEntry
}

// Format returns at least one chunk. With no matches the only chunk says so and carries the
// fetch counters.
func (f *Formatter) Format(matched []domain.MatchedEntry, s Summary) []string {
	header := f.header(s, len(matched))

	if len(matched) == 0 {
		var b strings.Builder
		b.WriteString(header)
		b.WriteString("🔹 No new items found\\.\n")
		fmt.Fprintf(&b, "`total_fetched=%d, total_matched=0`", s.TotalFetched)

		return []string{b.String()}
	}

	c := newChunker(f.opts.ChunkSize, header, "📰 *New tenders \\(continued\\)*\n\n")

	for _, g := range f.groups(matched) {
		for i, entry := range g.entries {
			text, plain := f.renderEntry(entry)
			c.add(piece{group: g.header, first: i == 0, text: text, plain: plain})
		}
	}

	return c.finish()
}

func (f *Formatter) header(s Summary, matchedCount int) string {
	var b strings.Builder

	runAt := s.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	fmt.Fprintf(&b, "📰 *New tenders* \\| %s\n",
		markdown.EscapeV2(runAt.In(f.opts.Location).Format(timestampLayout)))
	fmt.Fprintf(&b, "👀 Watchlist: %d companies, %d vendors, %d keywords\n",
		s.Companies, s.Vendors, s.Keywords)

	if matchedCount > 0 {
		fmt.Fprintf(&b, "✅ Found *%d* new of %d fetched\n", matchedCount, s.TotalFetched)
	}

	if len(s.FailedSources) > 0 {
		budget := f.opts.ChunkSize/headerMaxChunkFraction - utf8.RuneCountInString(b.String())
		b.WriteString(failedSourcesLine(s.FailedSources, budget))
	}

	b.WriteString("\n")

	return b.String()
}

// failedSourcesLine lists as many names as fit into budget runes and counts the rest.
func failedSourcesLine(names []string, budget int) string {
	const prefix = "⚠️ Unavailable sources: "

	var shown []string
	used := utf8.RuneCountInString(prefix) + len(" and 999 more\n")

	for _, name := range names[:min(len(names), failedSourcesMaxShown)] {
		name = markdown.EscapeV2(shorten(name, failedSourceMaxChars))
		n := utf8.RuneCountInString(name) + len(", ")
		if used+n > budget {
			break
		}
		used += n
		shown = append(shown, name)
	}

	if len(shown) == 0 {
		return fmt.Sprintf("%s%d\n", prefix, len(names))
	}

	line := prefix + strings.Join(shown, ", ")
	if rest := len(names) - len(shown); rest > 0 {
		line += fmt.Sprintf(" and %d more", rest)
	}
	return line + "\n"
}

// groups keeps the order in which group keys first appear.
func (f *Formatter) groups(matched []domain.MatchedEntry) []*group {
	var ordered []*group
	byKey := make(map[string]*group)

	for _, entry := range matched {
		key, title := f.groupKey(entry)

		g, ok := byKey[key]
		if !ok {
			g = &group{header: fmt.Sprintf("📌 *%s*\n", title)}
			byKey[key] = g
			ordered = append(ordered, g)
		}

		g.entries = append(g.entries, entry)
	}

	return ordered
}

func (f *Formatter) groupKey(entry domain.MatchedEntry) (string, string) {
	if f.opts.GroupBy == GroupByPlatform {
		return "source:" + entry.SourceName, markdown.EscapeV2(entry.SourceName)
	}

	switch {
	case entry.Category == domain.CategoryCompany && entry.Company != nil:
		return "company:" + entry.Company.DisplayName + "|" + entry.Company.Identifier,
			markdown.EscapeV2(companyLabel(*entry.Company))
	case entry.Category == domain.CategoryVendor:
		return "vendor", "Vendor matches"
	default:
		return "keyword", "Keyword matches"
	}
}

// renderEntry returns the entry as a MarkdownV2 link and as plain escaped text.
func (f *Formatter) renderEntry(entry domain.MatchedEntry) (string, string) {
	title := shorten(strings.Join(strings.Fields(entry.Title), " "), titleMaxChars)
	if title == "" {
		title = entry.Link
	}

	meta := []string{"🌐 " + markdown.EscapeV2(entry.SourceName)}

	switch entry.Category {
	case domain.CategoryCompany:
		if entry.Company != nil {
			if f.opts.GroupBy == GroupByCompany {
				if entry.Company.Identifier != "" {
					meta = append(meta, "ИНН "+markdown.EscapeV2(entry.Company.Identifier))
				}
			} else {
				meta = append(meta, "🏢 "+markdown.EscapeV2(companyLabel(*entry.Company)))
			}
		}
	case domain.CategoryVendor:
		meta = append(meta, "🏷 "+markdown.EscapeV2(entry.Term))
	case domain.CategoryKeyword:
		meta = append(meta, "🔎 "+markdown.EscapeV2(entry.Term))
	}

	metaLine := strings.Join(meta, " · ")

	return fmt.Sprintf("– %s\n   %s\n\n", markdown.Link(title, entry.Link), metaLine),
		fmt.Sprintf("– %s\n   %s\n   %s\n\n", markdown.EscapeV2(title), markdown.EscapeV2(entry.Link), metaLine)
}

func companyLabel(c domain.WatchEntry) string {
	switch {
	case c.DisplayName != "" && c.Identifier != "":
		return fmt.Sprintf("%s (ИНН %s)", c.DisplayName, c.Identifier)
	case c.DisplayName != "":
		return c.DisplayName
	default:
		return "ИНН " + c.Identifier
	}
}

func shorten(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxChars])) + "…"
}
