package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// APIError is a failure reported by the order API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("order api returned %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HTTPOrderClient creates orders through the storefront REST API
type HTTPOrderClient struct {
	baseURL    string
	httpClient *http.Client
	language   string
	breaker    *gobreaker.CircuitBreaker[*Confirmation]
	logger     *zap.Logger
}

// ClientOption configures an HTTPOrderClient
type ClientOption func(*HTTPOrderClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPOrderClient) {
		hc.httpClient = c
	}
}

// WithLanguage sets the Accept-Language tag sent with every request
func WithLanguage(tag string) ClientOption {
	return func(hc *HTTPOrderClient) {
		hc.language = tag
	}
}

// WithBreakerSettings replaces the default circuit breaker settings
func WithBreakerSettings(st gobreaker.Settings) ClientOption {
	return func(hc *HTTPOrderClient) {
		hc.breaker = newBreaker(st, hc.logger)
	}
}

// DefaultBreakerSettings opens after five consecutive failures and probes
// again after thirty seconds
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "order-api",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// NewHTTPOrderClient creates a client for the API rooted at baseURL
func NewHTTPOrderClient(baseURL string, opts ...ClientOption) *HTTPOrderClient {
	c := &HTTPOrderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     util.GetLogger(),
	}
	c.breaker = newBreaker(DefaultBreakerSettings(), c.logger)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(st gobreaker.Settings, logger *zap.Logger) *gobreaker.CircuitBreaker[*Confirmation] {
	// a rejected order is the shopper's problem, not the backend's
	st.IsSuccessful = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode < 500
		}
		return err == nil
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("Circuit breaker state changed",
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return gobreaker.NewCircuitBreaker[*Confirmation](st)
}

// CreateOrder posts the order and returns the server's confirmation
func (c *HTTPOrderClient) CreateOrder(ctx context.Context, req *OrderRequest) (*Confirmation, error) {
	return c.breaker.Execute(func() (*Confirmation, error) {
		return c.post(ctx, req)
	})
}

func (c *HTTPOrderClient) post(ctx context.Context, req *OrderRequest) (*Confirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.language != "" {
		httpReq.Header.Set("Accept-Language", c.language)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var conf Confirmation
	if err := json.Unmarshal(env.Data, &conf); err != nil {
		return nil, fmt.Errorf("failed to decode confirmation: %w", err)
	}
	return &conf, nil
}

// FetchRegions returns the delivery regions the API accepts
func (c *HTTPOrderClient) FetchRegions(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/regions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.language != "" {
		httpReq.Header.Set("Accept-Language", c.language)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("regions request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	var regions []string
	if err := json.Unmarshal(env.Data, &regions); err != nil {
		return nil, fmt.Errorf("failed to decode regions: %w", err)
	}
	return regions, nil
}
