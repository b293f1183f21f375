package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/shopspring/decimal"
)

// Keys are the business fields a transaction is reconciled by. The gateway's
// own matching strategy is opaque to this pipeline.
type Keys struct {
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	MerchantID string          `json:"merchant_id,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// Result is a positive match returned by the gateway dataset.
type Result struct {
	GatewayID string          `json:"gateway_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
}

// Client queries the external gateway dataset. A nil Result with nil error
// means the gateway holds no matching record.
type Client interface {
	Query(ctx context.Context, keys Keys) (*Result, error)
	Strategy() string
}

// NonRetryableError marks a gateway failure that will not succeed on retry;
// the matcher fails the transaction immediately instead of burning attempts.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable reports whether err is terminal for the transaction.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// HTTPClient queries a gateway lookup endpoint over HTTP. A 200 response
// carries the match, 404 means no match, any other status is an error.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPClient(cfg config.MatchingConfig) (*HTTPClient, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}

	return &HTTPClient{
		endpoint: cfg.GatewayURL,
		apiKey:   cfg.GatewayAPIKey,
		client: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 15*time.Second),
		},
	}, nil
}

func (c *HTTPClient) Strategy() string {
	return "gateway-lookup"
}

func (c *HTTPClient) Query(ctx context.Context, keys Keys) (*Result, error) {
	body, err := json.Marshal(keys)
	if err != nil {
		return nil, &NonRetryableError{Err: fmt.Errorf("failed to encode query: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &NonRetryableError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway query failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
		return &result, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &NonRetryableError{
			Err: fmt.Errorf("gateway rejected query with %d: %s", resp.StatusCode, data),
		}

	default:
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
}
