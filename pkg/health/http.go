package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPChecker is healthy while GET URL answers with a status in [Min, Max]
type HTTPChecker struct {
	URL      string
	Header   http.Header
	Min, Max int
	Client   *http.Client
}

// NewHTTPChecker accepts 2xx and 3xx answers within 10s
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Header: http.Header{},
		Min:    http.StatusOK,
		Max:    399,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewStatusServerChecker probes the status server API root. Any answer
// below 500 means the server is up; the root may well be 404 or 401.
func NewStatusServerChecker(baseURL, token string, timeout time.Duration) *HTTPChecker {
	c := NewHTTPChecker(strings.TrimRight(baseURL, "/") + "/").
		WithStatusRange(http.StatusOK, 499).
		WithTimeout(timeout)
	if token != "" {
		c.Header.Set("Authorization", "Token "+token)
	}
	return c
}

// Check sends one request
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return finish(start, false, fmt.Sprintf("invalid request: %v", err))
	}
	for k, v := range h.Header {
		req.Header[k] = v
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return finish(start, false, fmt.Sprintf("%s unreachable: %v", h.URL, err))
	}
	defer resp.Body.Close()

	msg := resp.Status
	ok := resp.StatusCode >= h.Min && resp.StatusCode <= h.Max
	if !ok {
		msg = fmt.Sprintf("%s, want %d-%d", msg, h.Min, h.Max)
	}
	return finish(start, ok, msg)
}

// Type returns CheckTypeHTTP
func (h *HTTPChecker) Type() CheckType { return CheckTypeHTTP }

// WithStatusRange sets the accepted status codes
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.Min, h.Max = min, max
	return h
}

// WithTimeout sets the request timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
