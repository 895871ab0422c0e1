package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carelink/agent-portal/internal/config"
)

func TestCORS_Origins(t *testing.T) {
	cfg := &config.Config{CORSAllowedOrigins: []string{"https://app.example.com"}}

	cases := []struct {
		name        string
		method      string
		origin      string
		wantCode    int
		wantOrigin  string
		wantMethods bool
		wantInner   bool
	}{
		{"preflight from allowed origin", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com", true, false},
		{"preflight from unknown origin", http.MethodOptions, "https://evil.com", http.StatusNoContent, "", false, false},
		{"request from allowed origin", http.MethodGet, "https://app.example.com", http.StatusOK, "https://app.example.com", false, true},
		{"request from unknown origin", http.MethodGet, "https://evil.com", http.StatusOK, "", false, true},
		{"same-origin request", http.MethodGet, "", http.StatusOK, "", false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inner := false
			handler := CORSMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inner = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tc.method, "/v1/reports", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Errorf("status: want %d, got %d", tc.wantCode, rr.Code)
			}
			if inner != tc.wantInner {
				t.Errorf("inner handler called=%t, want %t", inner, tc.wantInner)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("Allow-Origin: want %q, got %q", tc.wantOrigin, got)
			}
			gotMethods := rr.Header().Get("Access-Control-Allow-Methods") != ""
			if gotMethods != tc.wantMethods {
				t.Errorf("Allow-Methods present=%t, want %t", gotMethods, tc.wantMethods)
			}
			if tc.wantMethods && rr.Header().Get("Access-Control-Max-Age") != "600" {
				t.Errorf("expected Max-Age=600, got %q", rr.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORS_AllowCredentials(t *testing.T) {
	cfg := &config.Config{
		CORSAllowedOrigins:   []string{"https://app.example.com"},
		CORSAllowCredentials: true,
	}
	handler := CORSMiddleware(cfg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("expected Allow-Credentials=true, got %q", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("expected Vary=Origin, got %q", got)
	}
}

func TestCORS_ExposesDownloadHeaders(t *testing.T) {
	cfg := &config.Config{CORSAllowedOrigins: []string{" https://app.example.com "}}
	handler := CORSMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/exports/abc/download", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	exposed := rr.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"Content-Disposition", "X-Export-Job-Id"} {
		if !strings.Contains(exposed, h) {
			t.Errorf("expected %s in Expose-Headers, got %q", h, exposed)
		}
	}
}

func TestCORS_PreflightAllowsIdentityHeaders(t *testing.T) {
	cfg := &config.Config{CORSAllowedOrigins: []string{"https://app.example.com"}}
	handler := CORSMiddleware(cfg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/schedules/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-User-ID") {
		t.Errorf("expected X-User-ID in Allow-Headers, got %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") {
		t.Errorf("expected PATCH in Allow-Methods, got %q", got)
	}
}
