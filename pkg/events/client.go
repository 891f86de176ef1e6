package events

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

	"github.com/cuemby/adcm/pkg/types"
)

// Status values returned by the status server. Anything but StatusOK is
// a problem; the transport failures map to fixed codes.
const (
	StatusOK          = 0
	StatusNoData      = 4
	StatusDecodeError = 8
	StatusUnreachable = 32
)

// ErrNotConfigured is returned when no status server URL is set
var ErrNotConfigured = errors.New("status server url is not configured")

// StatusClient talks to the status server
type StatusClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewStatusClient creates a client for baseURL authenticated by token.
// Every request is bounded by timeout.
func NewStatusClient(baseURL, token string, timeout time.Duration) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx answer of the status server
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status server returned %d: %s", e.Code, e.Body)
}

// PostEvent sends one event to /event/
func (c *StatusClient) PostEvent(ctx context.Context, ev *types.Event) error {
	return c.post(ctx, "/event/", ev)
}

// PostServiceMap replaces the service map of the status server
func (c *StatusClient) PostServiceMap(ctx context.Context, m *ServiceMap) error {
	return c.post(ctx, "/servicemap/", m)
}

// Status returns the status of an entity, or one of the transport codes
// when the server can't answer
func (c *StatusClient) Status(ctx context.Context, ref types.ObjectRef) int {
	return c.status(ctx, fmt.Sprintf("/%s/%d/", ref.Type, ref.ID))
}

// HostComponentStatus returns the status of a component on one host
func (c *StatusClient) HostComponentStatus(ctx context.Context, hostID, componentID int64) int {
	return c.status(ctx, fmt.Sprintf("/host/%d/component/%d/", hostID, componentID))
}

func (c *StatusClient) status(ctx context.Context, path string) int {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return StatusNoData
		}
		return StatusUnreachable
	}
	defer resp.Body.Close()

	var body struct {
		Status *int `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusDecodeError
	}
	if body.Status == nil {
		return StatusNoData
	}
	return *body.Status
}

func (c *StatusClient) post(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, data)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *StatusClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
