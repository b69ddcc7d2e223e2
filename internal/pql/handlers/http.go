package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/httputil"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// HTTP handles http.get and http.post extract steps.
type HTTP struct {
	client *httputil.Client
	log    *logger.Logger
}

// NewHTTP returns an HTTP handler with the given request timeout.
func NewHTTP(timeout time.Duration, log *logger.Logger) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("pql-http")
	}
	return &HTTP{
		client: httputil.NewClient(httputil.ClientConfig{Timeout: timeout}),
		log:    log,
	}
}

func (h *HTTP) Extract(ctx context.Context, step pql.Step) (pql.Value, error) {
	var (
		method string
		body   interface{}
	)
	switch methodName(step.Method) {
	case "get":
		method = http.MethodGet
	case "post":
		if len(step.Params) == 0 {
			return nil, apperrors.Argument("http.post requires params")
		}
		method = http.MethodPost
		body = []byte(step.Params)
	default:
		return nil, apperrors.MethodNotFound("handler for HTTP method %q not found", step.Method)
	}

	resp, err := h.client.DoWithHeaders(ctx, method, step.URI, body, step.Headers)
	if err != nil {
		return nil, apperrors.External(err, "%s %s failed", method, step.URI)
	}
	defer resp.Body.Close()

	data, err := httputil.ReadAllStrict(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return nil, apperrors.External(err, "read response of %s", step.URI)
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.External(nil, "%s returned status %d: %s", step.URI, resp.StatusCode, preview(data))
	}

	h.log.WithField("uri", step.URI).WithField("bytes", len(data)).Debug("http extract")
	return decodeBody(data), nil
}

// decodeBody parses JSON with exact numbers; anything else is returned as text.
func decodeBody(data []byte) pql.Value {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil || dec.More() {
		return pql.Text(strings.TrimSpace(string(data)))
	}
	return pql.FromJSON(tree)
}

func preview(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
