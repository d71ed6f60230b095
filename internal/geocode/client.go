package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ClientOptions parameterise the upstream geocoding API.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client calls a postcodes.io style lookup API.
type Client struct {
	opts    ClientOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewClient constructs a geocoding client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.postcodes.io"
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "geocode_client").Logger(),
	}
}

type lookupResponse struct {
	Status int `json:"status"`
	Result struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"result"`
	Error string `json:"error"`
}

// Resolve looks the postcode up against the upstream API. A 404 or an
// explicit not-found payload maps to ErrNotResolvable.
func (c *Client) Resolve(ctx context.Context, postcode string) (Coordinates, error) {
	endpoint := fmt.Sprintf("%s/postcodes/%s", c.baseURL, url.PathEscape(postcode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("create geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinates{}, fmt.Errorf("read geocode body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return Coordinates{}, fmt.Errorf("%w: %s", ErrNotResolvable, postcode)
	}
	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("geocode api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded lookupResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Coordinates{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if decoded.Status != 0 && decoded.Status != http.StatusOK {
		return Coordinates{}, fmt.Errorf("%w: %s", ErrNotResolvable, postcode)
	}

	return Coordinates{
		Latitude:  decoded.Result.Latitude,
		Longitude: decoded.Result.Longitude,
	}, nil
}

var _ Resolver = (*Client)(nil)
