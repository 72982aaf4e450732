// Package httpclient provides a retrying HTTP client shared by the model
// providers. It understands provider rate-limit headers and backs off
// accordingly instead of failing on the first 429.
package httpclient

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how aggressively a failed request is retried.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota
	// ConservativeRetry allows a couple of quick retries for transient
	// server errors.
	ConservativeRetry
	// SmartRetry backs off using rate-limit headers when present and
	// exponential delays otherwise.
	SmartRetry
)

// RateLimitInfo carries whatever rate-limit state a provider exposed in its
// response headers. Zero values mean the header was absent.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// HeaderParser extracts RateLimitInfo from a provider response.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc maps an HTTP status code to a retry strategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps an *http.Client with retry behavior. The zero value is not
// usable; construct with New.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMaxRetries sets the retry budget for SmartRetry statuses.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the base for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithHeaderParser installs a provider-specific rate-limit header parser.
func WithHeaderParser(p HeaderParser) Option {
	return func(c *Client) { c.headerParser = p }
}

// WithStrategy replaces the status-to-strategy mapping.
func WithStrategy(fn StrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = fn }
}

// New builds a Client with sensible defaults: 5 retries, 2s base delay,
// 60s request timeout.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy retries rate limits and overloads with backoff, transient
// server errors quickly, and nothing else.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes req, retrying per the configured strategy. Requests with a
// body must set GetBody (http.NewRequest does this for common body types)
// or the first retry fails. The final response is returned alongside a
// *RetryableError when the retry budget is exhausted.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			} else if req.Body != nil {
				return nil, fmt.Errorf("cannot retry request without GetBody: %w", lastErr)
			}
		}

		resp, strategy, info, err := c.attempt(req)
		if err == nil || strategy == NoRetry {
			return resp, err
		}
		lastErr = err

		delay := c.retryDelay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			retryErr := &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("retry budget exhausted after %d attempts", attempt+1),
				RetryAfter: delay,
				Err:        err,
			}
			return resp, retryErr
		}

		// The failed response is never surfaced; drain it so the
		// connection can be reused.
		drain(resp)
		slog.Warn("Retrying HTTP request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max", c.maxRetries)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}
	return resp, c.strategyFunc(resp.StatusCode), info, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func (c *Client) retryDelay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
				return until
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return backoff + backoff/10

	case ConservativeRetry:
		// Transient server errors get at most two quick retries.
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
