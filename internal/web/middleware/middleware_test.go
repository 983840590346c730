package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
)

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"alpha", "bravo"}}

	var gotActor string
	h := APIKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = core.GetActorFromContext(r.Context())
	}))

	tests := []struct {
		name      string
		key       string
		wantCode  int
		wantActor string
	}{
		{"missing key", "", http.StatusUnauthorized, ""},
		{"wrong key", "charlie", http.StatusForbidden, ""},
		{"first key", "alpha", http.StatusOK, "key-1"},
		{"second key", "bravo", http.StatusOK, "key-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotActor = ""
			req := httptest.NewRequest(http.MethodPost, "/api/files", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if gotActor != tt.wantActor {
				t.Errorf("actor = %q, want %q", gotActor, tt.wantActor)
			}
		})
	}

	t.Run("disabled passes through", func(t *testing.T) {
		open := APIKeyAuth(&config.SecurityConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}
	})
}

func TestTrustedRealIP(t *testing.T) {
	var got string
	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-an-ip"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = r.RemoteAddr }))

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps address", "203.0.113.9:5000", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.9:5000"},
		{"trusted cidr uses real ip", "10.1.2.3:5000", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted single address", "192.168.1.5:80", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.1.1.1"}, "5.6.7.8"},
		{"invalid header ignored", "10.1.2.3:5000", map[string]string{"X-Real-IP": "nonsense"}, "10.1.2.3:5000"},
		{"no header", "10.1.2.3:5000", nil, "10.1.2.3:5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i, want := range []int{200, 200, 429} {
		if got := do("10.0.0.1"); got != want {
			t.Errorf("request %d status = %d, want %d", i+1, got, want)
		}
	}
	if got := do("10.0.0.2"); got != http.StatusOK {
		t.Errorf("other ip status = %d, want 200", got)
	}

	now = now.Add(61 * time.Second)
	if got := do("10.0.0.1"); got != http.StatusOK {
		t.Errorf("after window status = %d, want 200", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	for _, csp := range []bool{true, false} {
		rec := httptest.NewRecorder()
		SecurityHeaders(csp)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("csp=%v: missing X-Frame-Options", csp)
		}
		if got := rec.Header().Get("Content-Security-Policy") != ""; got != csp {
			t.Errorf("csp=%v: CSP header present = %v", csp, got)
		}
	}
}

func TestLoggerCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	var ww *responseWriter
	Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if ww.status != http.StatusTeapot || ww.bytes != 5 {
		t.Errorf("captured status %d bytes %d, want 418 and 5", ww.status, ww.bytes)
	}
}
