package digest_test

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"tenderwatch/internal/digest"
	"tenderwatch/internal/domain"

	"github.com/stretchr/testify/require"
)

var (
	runAt = time.Date(2025, 3, 14, 7, 0, 0, 0, time.UTC)
	akron = &domain.WatchEntry{DisplayName: "АО АКРОН ХОЛДИНГ", Identifier: "6324023665"}
)

func entry(source, title, link string) domain.Entry {
	return domain.Entry{SourceName: source, Title: title, Link: link}
}

func summary(fetched int) digest.Summary {
	return digest.Summary{RunAt: runAt, TotalFetched: fetched, Companies: 3, Vendors: 16, Keywords: 13}
}

func TestFormatEmptyDigest(t *testing.T) {
	f := digest.New(digest.Options{})

	chunks := f.Format(nil, summary(12))

	require.Len(t, chunks, 1)
	require.Contains(t, chunks[0], "No new items found")
	require.Contains(t, chunks[0], "total_fetched=12, total_matched=0")
	require.Contains(t, chunks[0], "3 companies, 16 vendors, 13 keywords")
}

func TestFormatGroupsByCompanyInFirstAppearanceOrder(t *testing.T) {
	f := digest.New(digest.Options{Location: time.UTC})

	matched := []domain.MatchedEntry{
		{Entry: entry("rostender", "Закупка Cisco", "https://a.example/1"), Category: domain.CategoryVendor, Term: "Cisco"},
		{Entry: entry("tenderguru", "Тендер АО АКРОН ХОЛДИНГ", "https://b.example/2"), Category: domain.CategoryCompany, Company: akron, Term: akron.DisplayName},
		{Entry: entry("rostender", "Поставка серверов", "https://a.example/3"), Category: domain.CategoryKeyword, Term: "серверов"},
		{Entry: entry("rostender", "Закупка Huawei", "https://a.example/4"), Category: domain.CategoryVendor, Term: "Huawei"},
	}

	chunks := f.Format(matched, summary(40))
	require.Len(t, chunks, 1)

	text := chunks[0]
	vendors := strings.Index(text, "Vendor matches")
	company := strings.Index(text, "АО АКРОН ХОЛДИНГ \\(ИНН 6324023665\\)")
	keywords := strings.Index(text, "Keyword matches")

	require.True(t, vendors >= 0 && company >= 0 && keywords >= 0, text)
	require.Less(t, vendors, company)
	require.Less(t, company, keywords)

	require.Less(t, strings.Index(text, "(https://a.example/1)"), strings.Index(text, "(https://a.example/4)"))
	require.Less(t, strings.Index(text, "(https://a.example/4)"), company, "vendor entries stay together")

	require.Contains(t, text, "ИНН 6324023665")
	require.Contains(t, text, "🏷 Cisco")
	require.Contains(t, text, "Found *4* new of 40 fetched")
	require.Contains(t, text, "14\\.03\\.2025 07:00 UTC")
}

func TestFormatGroupsByPlatform(t *testing.T) {
	f := digest.New(digest.Options{GroupBy: digest.GroupByPlatform})

	matched := []domain.MatchedEntry{
		{Entry: entry("tenderguru", "Тендер", "https://b.example/1"), Category: domain.CategoryCompany, Company: akron},
		{Entry: entry("rostender", "Cisco", "https://a.example/2"), Category: domain.CategoryVendor, Term: "Cisco"},
		{Entry: entry("tenderguru", "Huawei", "https://b.example/3"), Category: domain.CategoryVendor, Term: "Huawei"},
	}

	text := f.Format(matched, summary(3))[0]

	require.Less(t, strings.Index(text, "📌 *tenderguru*"), strings.Index(text, "📌 *rostender*"))
	require.Equal(t, 1, strings.Count(text, "📌 *tenderguru*"))
	require.Contains(t, text, "🏢 АО АКРОН ХОЛДИНГ")
}

func TestFormatSplitsIntoBoundedChunks(t *testing.T) {
	const size = 500
	f := digest.New(digest.Options{ChunkSize: size})

	var matched []domain.MatchedEntry
	for i := range 40 {
		matched = append(matched, domain.MatchedEntry{
			Entry:    entry("rostender", fmt.Sprintf("Поставка оборудования Cisco, лот %d", i), fmt.Sprintf("https://example.com/tender/%d", i)),
			Category: domain.CategoryVendor,
			Term:     "Cisco",
		})
	}

	chunks := f.Format(matched, summary(100))
	require.Greater(t, len(chunks), 1)

	all := strings.Join(chunks, "\n")
	for i, chunk := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), size)
		if i > 0 {
			require.True(t, strings.HasPrefix(chunk, "📰 *New tenders \\(continued\\)*"), chunk)
		}
	}

	for i := range 40 {
		link := fmt.Sprintf("(https://example.com/tender/%d)", i)
		require.Equal(t, 1, strings.Count(all, link), link)
	}
}

// unescaped counts r outside MarkdownV2 escape sequences.
func unescaped(s string, r rune) int {
	count := 0
	escaped := false
	for _, c := range s {
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == r:
			count++
		}
	}
	return count
}

func requireBalancedLinks(t *testing.T, chunk string) {
	t.Helper()

	require.Equal(t, unescaped(chunk, '['), unescaped(chunk, ']'), chunk)
	require.Equal(t, unescaped(chunk, '('), unescaped(chunk, ')'), chunk)
	require.Equal(t, unescaped(chunk, '['), strings.Count(chunk, "]("), chunk)
	require.False(t, strings.HasSuffix(chunk, "\\"), chunk)
}

func TestFormatSplitsOversizedEntryAsPlainText(t *testing.T) {
	const size = 500
	f := digest.New(digest.Options{ChunkSize: size})

	longLink := "https://example.com/tender.php?id=" + strings.Repeat("x_", 600)
	matched := []domain.MatchedEntry{
		{Entry: entry("rostender", "Закупка Cisco", "https://example.com/short"), Category: domain.CategoryVendor, Term: "Cisco"},
		{Entry: entry("rostender", "Cisco", longLink), Category: domain.CategoryVendor, Term: "Cisco"},
		{Entry: entry("rostender", "Поставка Huawei", "https://example.com/next"), Category: domain.CategoryVendor, Term: "Huawei"},
	}

	chunks := f.Format(matched, summary(3))
	require.Greater(t, len(chunks), 2)

	const contHeader = "📰 *New tenders \\(continued\\)*\n\n"
	var body strings.Builder
	for i, chunk := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), size)
		requireBalancedLinks(t, chunk)
		if i > 0 {
			body.WriteString(strings.TrimPrefix(chunk, contHeader))
		}
	}

	require.Contains(t, chunks[0], "[Закупка Cisco](https://example.com/short)")
	require.Contains(t, chunks[len(chunks)-1], "[Поставка Huawei](https://example.com/next)")
	require.NotContains(t, strings.Join(chunks, ""), "]("+longLink)

	escapedTail := strings.Repeat("x\\_", 100)
	require.Contains(t, body.String(), escapedTail)
}

func TestFormatHeaderLeavesRoomForEntries(t *testing.T) {
	const size = 500
	f := digest.New(digest.Options{ChunkSize: size})

	s := summary(30)
	for i := range 12 {
		s.FailedSources = append(s.FailedSources, fmt.Sprintf("procurement-portal-%02d.regional-tenders.example.gov.ru", i))
	}

	matched := []domain.MatchedEntry{
		{Entry: entry("rostender", "Закупка Cisco", "https://example.com/1"), Category: domain.CategoryVendor, Term: "Cisco"},
	}

	chunks := f.Format(matched, s)
	require.Len(t, chunks, 1)
	require.LessOrEqual(t, utf8.RuneCountInString(chunks[0]), size)
	require.Contains(t, chunks[0], "[Закупка Cisco](https://example.com/1)")
	require.Contains(t, chunks[0], "Unavailable sources: 12")

	empty := f.Format(nil, s)
	require.Len(t, empty, 1)
	require.LessOrEqual(t, utf8.RuneCountInString(empty[0]), size)

	wide := digest.New(digest.Options{}).Format(matched, s)
	require.Len(t, wide, 1)
	require.Contains(t, wide[0], "procurement\\-portal\\-00\\.regional")
	require.Contains(t, wide[0], " and 2 more")
}

func TestFormatShortensLongTitles(t *testing.T) {
	f := digest.New(digest.Options{})

	title := strings.Repeat("я", 400)
	matched := []domain.MatchedEntry{
		{Entry: entry("rostender", title, "https://example.com/1"), Category: domain.CategoryKeyword, Term: "я"},
	}

	text := f.Format(matched, summary(1))[0]
	require.NotContains(t, text, title)
	require.Contains(t, text, strings.Repeat("я", 300)+"…")
}

func TestFormatListsFailedSources(t *testing.T) {
	f := digest.New(digest.Options{})

	s := summary(0)
	s.FailedSources = []string{"zakupki.gov.ru"}

	text := f.Format(nil, s)[0]
	require.Contains(t, text, "zakupki\\.gov\\.ru")
}
