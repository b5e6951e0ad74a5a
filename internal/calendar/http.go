package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient talks to the calendar service's REST API.
//
// Authentication is a static bearer token; acquiring that token is outside
// this engine. Timeouts come from the caller's context — the engine wraps
// every call in its configured per-call deadline.
type HTTPClient struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewHTTPClient creates a client for the service at baseURL.
// If httpc is nil, http.DefaultClient is used.
func NewHTTPClient(baseURL, token string, httpc *http.Client) *HTTPClient {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpc:   httpc,
	}
}

// createResponse is the body returned by event creation and lookup.
type createResponse struct {
	ID string `json:"id"`
}

// CreateEvent implements Client.
func (c *HTTPClient) CreateEvent(ctx context.Context, payload EventPayload) (string, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/events", payload, &resp); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create event: server returned empty id")
	}
	return resp.ID, nil
}

// UpdateEvent implements Client.
func (c *HTTPClient) UpdateEvent(ctx context.Context, eventID string, payload EventPayload) error {
	path := "/events/" + url.PathEscape(eventID)
	if err := c.do(ctx, http.MethodPut, path, payload, nil); err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent implements Client.
func (c *HTTPClient) DeleteEvent(ctx context.Context, eventID string) error {
	path := "/events/" + url.PathEscape(eventID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// FindEventByFingerprint implements Client. A 404 from the lookup endpoint
// is a miss (ErrNotFound), not an API failure.
func (c *HTTPClient) FindEventByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	path := "/events/lookup?fingerprint=" + url.QueryEscape(fingerprint)

	var resp createResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("find event by fingerprint: %w", err)
	}
	if resp.ID == "" {
		return "", ErrNotFound
	}
	return resp.ID, nil
}

// do performs one JSON request/response round trip. Non-2xx statuses are
// returned as *APIError with the body's message and any Retry-After hint.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiErrorFrom(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiErrorFrom builds an *APIError from a non-2xx response, reading at
// most a small prefix of the body for the message.
func apiErrorFrom(resp *http.Response) *APIError {
	ae := &APIError{StatusCode: resp.StatusCode}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			ae.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Error != "" {
		ae.Message = msg.Error
	} else if len(body) > 0 {
		ae.Message = string(body)
	}

	return ae
}
