package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
)

func decodeStep(t *testing.T, raw string) pql.Step {
	t.Helper()
	var s pql.Step
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("decode step: %v", err)
	}
	return s
}

func format(t *testing.T, v pql.Value) string {
	t.Helper()
	out, err := pql.Format(v)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return out
}

func TestHTTPGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("missing header")
		}
		w.Write([]byte(`{"bitcoin":{"usd":25000.10}}`))
	}))
	defer server.Close()

	h := NewHTTP(time.Second, nil)
	v, err := h.Extract(context.Background(), decodeStep(t, `{"step":"extract","method":"http.get","uri":"`+server.URL+`","headers":{"X-Api-Key":"k"}}`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := format(t, v); got != `{"bitcoin":{"usd":25000.10}}` {
		t.Fatalf("value = %s", got)
	}
}

func TestHTTPPostSendsParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"query":"{ price }"}` {
			t.Errorf("body = %s", body)
		}
		w.Write([]byte(`42`))
	}))
	defer server.Close()

	h := NewHTTP(time.Second, nil)
	v, err := h.Extract(context.Background(), decodeStep(t, `{"step":"extract","method":"http.post","uri":"`+server.URL+`","params":{"query":"{ price }"}}`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := format(t, v); got != "42" {
		t.Fatalf("value = %s", got)
	}
}

func TestHTTPNonJSONBodyIsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  25000.5 USD\n"))
	}))
	defer server.Close()

	v, err := NewHTTP(time.Second, nil).Extract(context.Background(), decodeStep(t, `{"step":"extract","method":"http.get","uri":"`+server.URL+`"}`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Kind() != pql.KindText || format(t, v) != "25000.5 USD" {
		t.Fatalf("value = %#v", v)
	}
}

func TestHTTPErrorStatusIsExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewHTTP(time.Second, nil).Extract(context.Background(), decodeStep(t, `{"step":"extract","method":"http.get","uri":"`+server.URL+`"}`))
	if !apperrors.HasCode(err, apperrors.CodeExternal) {
		t.Fatalf("expected ExternalError, got %v", err)
	}
}

func TestHTTPUnknownMethod(t *testing.T) {
	_, err := NewHTTP(time.Second, nil).Extract(context.Background(), decodeStep(t, `{"step":"extract","method":"http.put","uri":"http://x"}`))
	if !apperrors.HasCode(err, apperrors.CodeMethodNotFound) {
		t.Fatalf("expected MethodNotFound, got %v", err)
	}
}
