package domain

import "time"

// UnknownTime marks a feed timestamp that was missing or empty.
const UnknownTime = "unknown"

type Category string

const (
	CategoryCompany Category = "company"
	CategoryVendor  Category = "vendor"
	CategoryKeyword Category = "keyword"
)

type FeedSource struct {
	Name string
	URL  string
}

// Entry is a normalized feed item. Link is never empty.
type Entry struct {
	SourceName  string
	Title       string
	Link        string
	Summary     string
	PublishedAt string
	UpdatedAt   string
	// Timestamp is the parsed published time, else the updated time, else zero.
	Timestamp time.Time
}

type WatchEntry struct {
	DisplayName string
	Identifier  string
}

type Watchlist struct {
	Companies []WatchEntry
	Vendors   []string
	Keywords  []string
}

type MatchedEntry struct {
	Entry
	Category Category
	// Company is set only for CategoryCompany.
	Company *WatchEntry
	// Term is the watchlist value found in the entry text.
	Term string
}

type SeenRecord struct {
	Link     string
	Title    string
	Category Category
	SeenAt   time.Time
}

// SeenSet holds links that were already reported.
type SeenSet map[string]struct{}

func (s SeenSet) Has(link string) bool {
	_, ok := s[link]
	return ok
}

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

type SourceStats struct {
	Name        string
	Entries     int
	FetchFailed bool
	ParseFailed bool
	Error       string
}

type RunStats struct {
	Trigger      Trigger
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalFetched int
	TotalMatched int
	Duplicates   int
	Stale        int
	Dropped      int
	Delivered    bool
	Sources      []SourceStats
}

func (s RunStats) FailedSources() []string {
	var names []string
	for _, src := range s.Sources {
		if src.FetchFailed || src.ParseFailed {
			names = append(names, src.Name)
		}
	}
	return names
}
