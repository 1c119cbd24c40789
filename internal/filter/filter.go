// Package filter decides whether a feed entry concerns a watched company, vendor or keyword.
//
// Matching is plain substring search over the case-folded title and summary. There is no
// tokenization, so a short vendor token also matches inside unrelated words.
package filter

import (
	"strings"

	"tenderwatch/internal/domain"

	"golang.org/x/text/cases"
)

type Options struct {
	// CompanyNameWords also matches the first N words of a company name when the name is
	// longer than N words. Zero disables prefix matching.
	CompanyNameWords int
}

type companyNeedle struct {
	company domain.WatchEntry
	needle  string
	term    string
}

type termNeedle struct {
	needle string
	term   string
}

// Matcher is immutable and safe for concurrent use.
type Matcher struct {
	companies []companyNeedle
	vendors   []termNeedle
	keywords  []termNeedle
}

func New(watchlist domain.Watchlist, opts Options) *Matcher {
	fold := cases.Fold()
	m := &Matcher{}

	for _, c := range watchlist.Companies {
		if id := normalize(fold, c.Identifier); id != "" {
			m.companies = append(m.companies, companyNeedle{company: c, needle: id, term: c.Identifier})
		}

		name := normalize(fold, c.DisplayName)
		if name == "" {
			continue
		}
		m.companies = append(m.companies, companyNeedle{company: c, needle: name, term: c.DisplayName})

		if prefix, ok := namePrefix(c.DisplayName, opts.CompanyNameWords); ok {
			m.companies = append(m.companies, companyNeedle{
				company: c,
				needle:  normalize(fold, prefix),
				term:    prefix,
			})
		}
	}

	m.vendors = termNeedles(fold, watchlist.Vendors)
	m.keywords = termNeedles(fold, watchlist.Keywords)

	return m
}

// Match checks companies, then vendors, then keywords; the first hit wins.
func (m *Matcher) Match(entry domain.Entry) (domain.MatchedEntry, bool) {
	haystack := normalize(cases.Fold(), entry.Title+" "+entry.Summary)
	if haystack == "" {
		return domain.MatchedEntry{}, false
	}

	for _, c := range m.companies {
		if strings.Contains(haystack, c.needle) {
			company := c.company
			return domain.MatchedEntry{
				Entry:    entry,
				Category: domain.CategoryCompany,
				Company:  &company,
				Term:     c.term,
			}, true
		}
	}

	if term, ok := firstContained(haystack, m.vendors); ok {
		return domain.MatchedEntry{Entry: entry, Category: domain.CategoryVendor, Term: term}, true
	}

	if term, ok := firstContained(haystack, m.keywords); ok {
		return domain.MatchedEntry{Entry: entry, Category: domain.CategoryKeyword, Term: term}, true
	}

	return domain.MatchedEntry{}, false
}

// MatchAll keeps the relative order of entries.
func (m *Matcher) MatchAll(entries []domain.Entry) []domain.MatchedEntry {
	var matched []domain.MatchedEntry
	for _, e := range entries {
		if me, ok := m.Match(e); ok {
			matched = append(matched, me)
		}
	}
	return matched
}

func firstContained(haystack string, needles []termNeedle) (string, bool) {
	for _, n := range needles {
		if strings.Contains(haystack, n.needle) {
			return n.term, true
		}
	}
	return "", false
}

func termNeedles(fold cases.Caser, values []string) []termNeedle {
	needles := make([]termNeedle, 0, len(values))
	for _, v := range values {
		if n := normalize(fold, v); n != "" {
			needles = append(needles, termNeedle{needle: n, term: strings.TrimSpace(v)})
		}
	}
	return needles
}

func namePrefix(name string, words int) (string, bool) {
	if words <= 0 {
		return "", false
	}

	fields := strings.Fields(name)
	if len(fields) <= words {
		return "", false
	}

	return strings.Join(fields[:words], " "), true
}

func normalize(fold cases.Caser, s string) string {
	return strings.Join(strings.Fields(fold.String(s)), " ")
}
