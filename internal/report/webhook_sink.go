package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/atomic"
)

const maxWebhookBackoff = 5 * time.Second

// WebhookConfig contains webhook sink configuration
type WebhookConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// WebhookSink POSTs every report as JSON to an HTTP endpoint, retrying
// transient failures with exponential backoff.
type WebhookSink struct {
	config     WebhookConfig
	httpClient *http.Client
	backoff    time.Duration // delay before the first retry, doubled on each attempt

	// Statistics
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalRetries    atomic.Uint64
}

// WebhookStats represents webhook delivery statistics
type WebhookStats struct {
	TotalRequests   uint64 `json:"total_requests"`
	SuccessRequests uint64 `json:"success_requests"`
	FailedRequests  uint64 `json:"failed_requests"`
	TotalRetries    uint64 `json:"total_retries"`
}

// statusError is a non-2xx response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(config WebhookConfig) (*WebhookSink, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &WebhookSink{
		config:     config,
		httpClient: httpClient,
		backoff:    500 * time.Millisecond,
	}, nil
}

// Name implements Sink
func (s *WebhookSink) Name() string { return "webhook" }

// Emit implements Sink
func (s *WebhookSink) Emit(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	s.totalRequests.Inc()

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.totalRetries.Inc()

			select {
			case <-time.After(s.retryDelay(attempt)):
			case <-ctx.Done():
				s.failedRequests.Inc()
				return ctx.Err()
			}
		}

		lastErr = s.doRequest(ctx, data)
		if lastErr == nil {
			s.successRequests.Inc()
			return nil
		}

		if !isRetryable(lastErr) {
			break
		}
	}

	s.failedRequests.Inc()
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

// doRequest performs a single POST
func (s *WebhookSink) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CCS-Service/1.0")
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(msg)}
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *WebhookSink) retryDelay(attempt int) time.Duration {
	delay := s.backoff << (attempt - 1)
	if delay <= 0 || delay > maxWebhookBackoff {
		return maxWebhookBackoff
	}
	return delay
}

// isRetryable reports whether a failed delivery may succeed on another attempt:
// 5xx and 429 responses, timeouts and connection failures.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// GetStats returns delivery statistics
func (s *WebhookSink) GetStats() WebhookStats {
	return WebhookStats{
		TotalRequests:   s.totalRequests.Load(),
		SuccessRequests: s.successRequests.Load(),
		FailedRequests:  s.failedRequests.Load(),
		TotalRetries:    s.totalRetries.Load(),
	}
}

// Close releases idle connections
func (s *WebhookSink) Close() {
	s.httpClient.CloseIdleConnections()
}
