package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIRateLimitHeaders extracts rate-limit state from OpenAI-style
// response headers. Azure AI Foundry serves the same header set.
func ParseOpenAIRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter: parseRetryAfter(headers.Get("Retry-After")),
	}

	if reset := headers.Get("x-ratelimit-reset-requests"); reset != "" {
		info.ResetTime, _ = strconv.ParseInt(reset, 10, 64)
	} else if reset := headers.Get("x-ratelimit-reset-tokens"); reset != "" {
		info.ResetTime, _ = strconv.ParseInt(reset, 10, 64)
	}

	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		info.RequestsRemaining, _ = strconv.Atoi(remaining)
	}
	if remaining := headers.Get("x-ratelimit-remaining-tokens"); remaining != "" {
		info.TokensRemaining, _ = strconv.Atoi(remaining)
	}

	return info
}

// parseRetryAfter handles both forms RFC 9110 allows: delay seconds and an
// HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}
