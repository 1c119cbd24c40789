package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// Tokens are refreshed this long before they expire.
	refreshMargin = time.Minute
	// GigaChat tokens live for 30 minutes when the response carries no expiry.
	defaultTokenTTL = 30 * time.Minute

	authTimeout = 15 * time.Second
)

// CredentialSource yields a bearer token valid for at least the next request.
type CredentialSource interface {
	EnsureValid(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// StaticCredentials is a non-expiring API key.
type StaticCredentials string

func (s StaticCredentials) EnsureValid(context.Context) (string, time.Time, error) {
	if s == "" {
		return "", time.Time{}, errors.New("API key is empty")
	}
	return string(s), time.Time{}, nil
}

// GigaChatCredentials exchanges an authorization key for short-lived access tokens and
// caches them until shortly before expiry.
type GigaChatCredentials struct {
	authURL string
	authKey string
	scope   string
	client  *http.Client
	now     func() time.Time
	log     *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type gigaChatTokenResponse struct {
	AccessToken string `json:"access_token"`
	// ExpiresAt is in Unix milliseconds.
	ExpiresAt int64 `json:"expires_at"`
}

func NewGigaChatCredentials(
	authURL string,
	authKey string,
	scope string,
	client *http.Client,
	log *slog.Logger,
) *GigaChatCredentials {
	if client == nil {
		client = &http.Client{Timeout: authTimeout}
	}

	return &GigaChatCredentials{
		authURL: authURL,
		authKey: strings.TrimSpace(authKey),
		scope:   scope,
		client:  client,
		now:     time.Now,
		log:     log,
	}
}

func (c *GigaChatCredentials) EnsureValid(ctx context.Context) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(refreshMargin).Before(c.expiresAt) {
		return c.token, c.expiresAt, nil
	}

	token, expiresAt, err := c.requestToken(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	c.token = token
	c.expiresAt = expiresAt

	c.log.InfoContext(ctx, "GigaChat token refreshed",
		"expiresAt", expiresAt)

	return token, expiresAt, nil
}

func (c *GigaChatCredentials) requestToken(ctx context.Context) (string, time.Time, error) {
	if c.authKey == "" {
		return "", time.Time{}, errors.New("GigaChat authorization key is empty")
	}

	form := url.Values{"scope": {c.scope}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+c.authKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("do token request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "requestToken")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token request failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed gigaChatTokenResponse
	if err = json.Unmarshal(body, &parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", time.Time{}, errors.New("token response has no access_token")
	}

	expiresAt := c.now().Add(defaultTokenTTL)
	if parsed.ExpiresAt > 0 {
		expiresAt = time.UnixMilli(parsed.ExpiresAt)
	}

	return parsed.AccessToken, expiresAt, nil
}
