package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// ClientConfig controls timeouts, retries and the circuit breaker for one provider.
type ClientConfig struct {
	BaseURL          string
	Timeout          time.Duration
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultClientConfig returns the default outbound call policy.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:          15 * time.Second,
		MaxAttempts:      3,
		BaseBackoff:      200 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// CallRecorder observes outbound provider calls.
type CallRecorder interface {
	RecordGatewayCall(gateway, operation, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordGatewayCall(string, string, string, time.Duration) {}

// Call outcomes reported to the recorder.
const (
	OutcomeSuccess        = "success"
	OutcomeProviderError  = "provider_error"
	OutcomeTransportError = "transport_error"
	OutcomeCircuitOpen    = "circuit_open"
)

// Request is a single JSON call against a provider API.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Header    http.Header
}

// Response is the raw provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// retryableStatusError marks a response the client should retry and the breaker should count.
type retryableStatusError struct {
	resp *Response
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.resp.StatusCode)
}

// Client performs provider calls with a per-call timeout, bounded retries with
// exponential backoff, and a circuit breaker shared by all calls to the provider.
type Client struct {
	gateway  domain.Gateway
	cfg      ClientConfig
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*Response]
	logger   *zap.Logger
	recorder CallRecorder
}

// NewClient creates a client for one provider.
func NewClient(gateway domain.Gateway, cfg ClientConfig, opts Options) *Client {
	opts = opts.withDefaults()
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := opts.Logger.With(zap.String("gateway", string(gateway)))
	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        string(gateway),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		gateway:  gateway,
		cfg:      cfg,
		http:     opts.HTTPClient,
		breaker:  gobreaker.NewCircuitBreaker[*Response](settings),
		logger:   logger,
		recorder: opts.Recorder,
	}
}

// Gateway returns the provider this client talks to.
func (c *Client) Gateway() domain.Gateway {
	return c.gateway
}

// Do sends the request, retrying transport failures, 429 and 5xx responses.
// Any other HTTP response is returned to the caller for envelope decoding.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.Operation, err)
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, attempt-1); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := c.breaker.Execute(func() (*Response, error) {
			return c.send(ctx, req, body)
		})
		if err == nil {
			c.recorder.RecordGatewayCall(string(c.gateway), req.Operation, outcomeFor(resp), time.Since(start))
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.recorder.RecordGatewayCall(string(c.gateway), req.Operation, OutcomeCircuitOpen, time.Since(start))
			return nil, &domain.ProviderError{
				Gateway:   c.gateway,
				Operation: req.Operation,
				Message:   "payment provider temporarily unavailable",
				Err:       err,
			}
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("provider call failed",
			zap.String("operation", req.Operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	var statusErr *retryableStatusError
	if errors.As(lastErr, &statusErr) {
		c.recorder.RecordGatewayCall(string(c.gateway), req.Operation, OutcomeProviderError, time.Since(start))
		return statusErr.resp, nil
	}
	c.recorder.RecordGatewayCall(string(c.gateway), req.Operation, OutcomeTransportError, time.Since(start))
	return nil, &domain.ProviderError{
		Gateway:   c.gateway,
		Operation: req.Operation,
		Err:       lastErr,
	}
}

func (c *Client) send(ctx context.Context, req Request, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Body: data}
	if isRetryableStatus(httpResp.StatusCode) {
		return nil, &retryableStatusError{resp: resp}
	}
	return resp, nil
}

func (c *Client) wait(ctx context.Context, retry int) error {
	delay := c.cfg.BaseBackoff << (retry - 1)
	if delay <= 0 || delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func outcomeFor(resp *Response) string {
	if resp.OK() {
		return OutcomeSuccess
	}
	return OutcomeProviderError
}

// providerError builds a ProviderError for a non-successful response, preferring
// the provider's own message.
func providerError(gateway domain.Gateway, operation string, resp *Response, message string) error {
	pe := &domain.ProviderError{
		Gateway:   gateway,
		Operation: operation,
		Message:   message,
	}
	if resp != nil {
		pe.StatusCode = resp.StatusCode
	}
	return pe
}
