package feed_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tenderwatch/internal/domain"
	"tenderwatch/internal/feed"

	"github.com/stretchr/testify/require"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Tenders</title>
<item><title>First</title><link>https://example.com/1</link><description>one</description></item>
</channel></rss>`

func TestFetchAllIsolatesFailures(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer ok.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	fetcher := feed.NewFetcher(5*time.Second, slog.Default())
	results := fetcher.FetchAll(context.Background(), []domain.FeedSource{
		{Name: "broken", URL: broken.URL},
		{Name: "bad-url", URL: "::nope::"},
		{Name: "ok", URL: ok.URL},
	})

	require.Len(t, results, 3)

	require.Equal(t, "broken", results[0].Source.Name)
	require.NotNil(t, results[0].Err)
	require.Equal(t, feed.FetchErrorHTTPStatus, results[0].Err.Kind)

	require.NotNil(t, results[1].Err)
	require.Equal(t, feed.FetchErrorInvalidURL, results[1].Err.Kind)

	require.Nil(t, results[2].Err)
	require.Equal(t, rssDoc, string(results[2].Body))
}

func TestFetchTimesOutSlowSourceOnly(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer fast.Close()

	fetcher := feed.NewFetcher(200*time.Millisecond, slog.Default())

	start := time.Now()
	results := fetcher.FetchAll(context.Background(), []domain.FeedSource{
		{Name: "slow", URL: slow.URL},
		{Name: "fast", URL: fast.URL},
	})

	require.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, results[0].Err)
	require.Equal(t, feed.FetchErrorTimeout, results[0].Err.Kind)
	require.Nil(t, results[1].Err)
}

func TestFetchAllEmpty(t *testing.T) {
	fetcher := feed.NewFetcher(time.Second, slog.Default())
	require.Empty(t, fetcher.FetchAll(context.Background(), nil))
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	fetcher := feed.NewFetcher(time.Second, slog.Default())
	_, err := fetcher.Fetch(context.Background(), domain.FeedSource{Name: "ua", URL: srv.URL})
	require.NoError(t, err)
	require.Contains(t, gotUA, "Mozilla/5.0")
}
