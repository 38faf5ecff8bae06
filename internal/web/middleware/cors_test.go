package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		allowOrigin string
	}{
		{"listed origin", "https://kiosk.example.com", "https://kiosk.example.com"},
		{"localhost", "http://localhost:5173", "http://localhost:5173"},
		{"unknown origin", "https://evil.example.com", ""},
		{"no origin", "", ""},
	}

	handler := CORS("https://kiosk.example.com, https://lobby.example.com")(okHandler())

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/authenticate", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.allowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tc.allowOrigin, got)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/authenticate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if called {
		t.Error("preflight must not reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestNoSniff(t *testing.T) {
	rec := httptest.NewRecorder()
	NoSniff()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
}
