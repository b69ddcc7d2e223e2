// Package httputil provides the HTTP client shared by outbound collaborators
// (data sources, explorers, IPFS, chain RPC) and JSON response helpers.
package httputil

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
)

// MaxBodySize bounds response bodies read by DecodeResponse.
const MaxBodySize = 8 << 20

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// =============================================================================
// Client
// =============================================================================

// Client is a JSON-over-HTTP client with a base URL, fixed headers and retry
// of transient gateway failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	maxRetries int
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// BearerToken, when set, is sent as Authorization: Bearer.
	BearerToken string
	Headers     map[string]string
	MaxRetries  int
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.BearerToken != "" {
		headers["Authorization"] = "Bearer " + cfg.BearerToken
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    headers,
		maxRetries: cfg.MaxRetries,
	}
}

// Do executes a request against baseURL+path. A non-nil body is sent as JSON;
// a []byte body is sent verbatim.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	return c.DoWithHeaders(ctx, method, path, body, nil)
}

// DoWithHeaders is Do with additional per-request headers.
func (c *Client) DoWithHeaders(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = encoded
	}
	return c.doWithRetry(ctx, method, c.baseURL+path, payload, body != nil, headers, 0)
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, hasBody bool, headers map[string]string, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if hasBody {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if isTransient(resp.StatusCode) && attempt < c.maxRetries {
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
		return c.doWithRetry(ctx, method, url, payload, hasBody, headers, attempt+1)
	}

	return resp, nil
}

func isTransient(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// GetJSON performs a GET and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// PostJSON performs a POST and decodes the JSON response into target.
func (c *Client) PostJSON(ctx context.Context, path string, body, target interface{}) error {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodySize)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, MaxBodySize)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether the body
// was longer.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the whole body and fails with ErrBodyTooLarge past limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}
