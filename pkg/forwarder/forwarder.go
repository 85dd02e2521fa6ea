// Package forwarder relays validated action payloads to the external
// automation endpoints and returns their JSON responses unchanged.
// The boundary is not strongly typed: neither the outbound payload nor the
// inbound response is schema-validated, and a call is attempted exactly once.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrEndpointFailure is returned when the automation endpoint is unreachable,
// answers with a non-2xx status, or returns a body that is not JSON.
var ErrEndpointFailure = errors.New("automation endpoint failure")

const (
	defaultTimeout     = 60 * time.Second
	maxResponseBytes   = 4 << 20
	contentTypeJSON    = "application/json"
	headerContentType  = "Content-Type"
	headerForwardedFor = "X-Forwarded-Subject"
)

// Config holds forwarder configuration
type Config struct {
	// HTTPClient is an optional HTTP client for outbound calls.
	// If nil, a default client with a 60s timeout is used: automation
	// workflows routinely run tens of seconds.
	HTTPClient *http.Client
}

// Client forwards payloads to automation endpoints
type Client struct {
	httpClient *http.Client
}

// New creates a forwarder client
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{httpClient: httpClient}
}

// Forward posts payload verbatim to endpoint and returns the endpoint's
// parsed JSON response. subjectID is attached as a header for the workflow's
// own bookkeeping; the payload itself is not modified.
func (c *Client) Forward(ctx context.Context, endpoint, subjectID string, payload json.RawMessage) (json.RawMessage, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrEndpointFailure)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointFailure, err)
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	if subjectID != "" {
		req.Header.Set(headerForwardedFor, subjectID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrEndpointFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrEndpointFailure, resp.StatusCode)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: non-JSON response", ErrEndpointFailure)
	}

	return json.RawMessage(body), nil
}
