package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "s3cret"

func okHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := AdminSubject(r.Context()); got != wantSubject {
			t.Errorf("AdminSubject() = %q, want %q", got, wantSubject)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func serve(h http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/collectors/restart", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuthValidToken(t *testing.T) {
	token, err := IssueAdminToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueAdminToken() error = %v", err)
	}
	h := NewAdminAuth(testSecret, nil).Handler(okHandler(t, "ops"))

	if rec := serve(h, "Bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminAuthRejects(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}

	expired := signed(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{
		Role:             AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour))},
	})
	noExpiry := signed(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{Role: AdminRole})
	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), &Claims{Role: AdminRole, RegisteredClaims: valid})
	hs512 := signed(t, jwt.SigningMethodHS512, []byte(testSecret), &Claims{Role: AdminRole, RegisteredClaims: valid})
	notAdmin := signed(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{Role: "viewer", RegisteredClaims: valid})

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + hs512, http.StatusUnauthorized},
		{"not admin", "Bearer " + notAdmin, http.StatusForbidden},
	}

	h := NewAdminAuth(testSecret, nil).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not be reached")
	}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(h, tt.auth); rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestAdminAuthDisabledWithoutSecret(t *testing.T) {
	h := NewAdminAuth("", nil).Handler(okHandler(t, ""))
	if rec := serve(h, "Bearer x"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := IssueAdminToken("", "ops", time.Hour); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("call %d status = %d", i, code)
		}
	}
	if code := call("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded status = %d", code)
	}
	if code := call("10.0.0.2:5000"); code != http.StatusOK {
		t.Fatalf("other client status = %d", code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")
	now = now.Add(time.Hour)
	rl.getLimiter("b")
	rl.Cleanup()
	if _, ok := rl.limiters["a"]; ok {
		t.Error("idle limiter kept")
	}
	if _, ok := rl.limiters["b"]; !ok {
		t.Error("recent limiter dropped")
	}
}

func TestCORS(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://app.paralink.network"}).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "https://app.paralink.network")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.paralink.network" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Origin", "https://evil.paralink.network.attacker.io")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}
}
