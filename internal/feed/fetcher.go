package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FetcherOptions parameterise the upstream feed download.
type FetcherOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Fetcher downloads the raw price batch from the configured feed URL.
type Fetcher struct {
	opts   FetcherOptions
	client *http.Client
	logger zerolog.Logger
}

// NewFetcher constructs a feed fetcher.
func NewFetcher(opts FetcherOptions, logger zerolog.Logger) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Fetcher{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "feed_fetcher").Logger(),
	}
}

// Fetch retrieves the raw batch payload.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.opts.URL == "" {
		return nil, errors.New("feed url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(payload))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("feed responded %d: %s", resp.StatusCode, snippet)
	}

	f.logger.Debug().Int("bytes", len(payload)).Msg("feed downloaded")
	return payload, nil
}
