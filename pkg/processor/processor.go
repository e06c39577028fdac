// Package processor provides a client for the external card payment
// processor API.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gasramp-hq/gasramp/pkg/logger"
)

// Payment represents the processor's record of a card payment
type Payment struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	AmountCents  int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Client represents a payment processor API client
type Client struct {
	endpoint   string
	secretKey  string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new payment processor client. An empty secret key disables
// the client; callers check Enabled before use.
func New(endpoint, secretKey string, log logger.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		secretKey:  secretKey,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// Enabled reports whether processor credentials are configured
func (c *Client) Enabled() bool {
	return c.secretKey != ""
}

// CreatePayment registers a card payment with the processor and returns the
// processor-issued reference and client secret for the browser checkout flow
func (c *Client) CreatePayment(ctx context.Context, amountCents int64, metadata map[string]string) (*Payment, error) {
	body, err := json.Marshal(map[string]interface{}{
		"amount":   amountCents,
		"currency": "usd",
		"metadata": metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.doPayment(req)
}

// GetPayment fetches the processor's current view of a payment. Used by the
// status endpoint for a read-only staleness cross-check.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.doPayment(req)
}

func (c *Client) doPayment(req *http.Request) (*Payment, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("processor request failed: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read processor response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected processor status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var payment Payment
	if err := json.Unmarshal(bodyBytes, &payment); err != nil {
		return nil, fmt.Errorf("failed to decode payment: %v, body: %s", err, string(bodyBytes))
	}
	return &payment, nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
