package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/domain"
)

// Notification is the payload handed to the push collaborator. Device
// token fan-out is the gateway's problem; the engine only knows users.
type Notification struct {
	RuleID      string          `json:"rule_id"`
	UserID      string          `json:"user_id"`
	StationID   string          `json:"station_id"`
	StationName string          `json:"station_name"`
	Fuel        domain.FuelType `json:"fuel"`
	PricePpl    int64           `json:"price_ppl"`
	DropPpl     int64           `json:"drop_ppl"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Dispatcher delivers a notification to the push transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, note Notification) error
}

// PushClient posts notifications to the HTTP push gateway.
type PushClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// NewPushClient constructs the gateway client.
func NewPushClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *PushClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PushClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "push_client").Logger(),
	}
}

// Dispatch sends one notification. Any transport failure, including a
// timeout, is returned so the caller can retry on the next pass.
func (c *PushClient) Dispatch(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	endpoint := c.baseURL + "/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway responded %d", resp.StatusCode)
	}

	c.logger.Info().
		Str("rule_id", note.RuleID).
		Str("station_id", note.StationID).
		Int64("price_ppl", note.PricePpl).
		Int64("drop_ppl", note.DropPpl).
		Msg("notification dispatched")
	return nil
}

var _ Dispatcher = (*PushClient)(nil)
