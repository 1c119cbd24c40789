package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"tenderwatch/internal/domain"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultFetchTimeout = 30 * time.Second

	fetchMaxConcurrencyGrowthFactor = 10
	maxBodyBytes                    = 10 << 20
)

// FetchResult is the outcome for one source. Exactly one of Body and Err is set.
type FetchResult struct {
	Source domain.FeedSource
	Body   []byte
	Err    *FetchError
}

type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

func NewFetcher(timeout time.Duration, log *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	return &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
		log:     log,
	}
}

// FetchAll retrieves every source independently. Results follow the order of sources;
// a failed source never affects the others.
func (f *Fetcher) FetchAll(ctx context.Context, sources []domain.FeedSource) []FetchResult {
	results := make([]FetchResult, len(sources))
	if len(sources) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(min(runtime.NumCPU()*fetchMaxConcurrencyGrowthFactor, len(sources)))

	for i, source := range sources {
		g.Go(func() error {
			body, err := f.Fetch(ctx, source)
			if err == nil {
				results[i] = FetchResult{Source: source, Body: body}
				return nil
			}

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				fetchErr = &FetchError{Source: source.Name, Kind: FetchErrorNetwork, Err: err}
			}
			results[i] = FetchResult{Source: source, Err: fetchErr}

			f.log.WarnContext(ctx, "Failed to fetch source",
				"error", err,
				"source", source.Name,
				"url", source.URL,
				"kind", fetchErr.Kind)

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// Fetch performs a single GET under the per-source timeout.
func (f *Fetcher) Fetch(ctx context.Context, source domain.FeedSource) ([]byte, error) {
	rawURL := strings.TrimSpace(source.URL)

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("unsupported URL %q", rawURL)
		}
		return nil, &FetchError{Source: source.Name, Kind: FetchErrorInvalidURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Source: source.Name, Kind: FetchErrorInvalidURL, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req) //nolint:gosec // URL comes from operator configuration.
	if err != nil {
		return nil, &FetchError{Source: source.Name, Kind: classifyTransportError(ctx, err), Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"source", source.Name,
				"operation", "Fetch")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Source: source.Name,
			Kind:   FetchErrorHTTPStatus,
			Err:    fmt.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Source: source.Name, Kind: classifyReadError(ctx, err), Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodyBytes {
		return nil, &FetchError{
			Source: source.Name,
			Kind:   FetchErrorTooLarge,
			Err:    fmt.Errorf("body exceeds %d bytes", maxBodyBytes),
		}
	}

	return body, nil
}

func classifyTransportError(ctx context.Context, err error) FetchErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return FetchErrorTimeout
	}
	return FetchErrorNetwork
}

func classifyReadError(ctx context.Context, err error) FetchErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return FetchErrorTimeout
	}
	return FetchErrorReadBody
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
