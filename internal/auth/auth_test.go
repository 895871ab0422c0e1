package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carelink/agent-portal/internal/config"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/rs/zerolog"
)

func testConfig(mode string, required bool) *config.Config {
	return &config.Config{
		AuthMode:      mode,
		AuthRequired:  required,
		JWTSecret:     "test-secret",
		JWTIssuer:     "agent-portal",
		JWTTTLMinutes: 60,
	}
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := userctx.GetIdentity(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(id.UserID + "/" + id.Role))
	})
}

func TestIssueAndVerify(t *testing.T) {
	svc := NewService(testConfig(config.AuthModeJWT, true))

	token, err := svc.Issue(userctx.Identity{UserID: "agent-7", Role: userctx.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := svc.VerifyJWT(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "agent-7" || id.Role != userctx.RoleAdmin {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	cfg := testConfig(config.AuthModeJWT, true)
	svc := NewService(cfg)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.Issue(userctx.Identity{UserID: "a"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = time.Now
	if _, err := svc.VerifyJWT(expired); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	other := NewService(&config.Config{JWTSecret: "other", JWTIssuer: "agent-portal", JWTTTLMinutes: 60})
	foreign, _ := other.Issue(userctx.Identity{UserID: "a"}, time.Hour)
	if _, err := svc.VerifyJWT(foreign); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	cfg := testConfig(config.AuthModeJWT, true)
	svc := NewService(cfg)
	handler := NewMiddleware(cfg, svc, zerolog.Nop()).Wrap(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"unauthorized"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	token, _ := svc.Issue(userctx.Identity{UserID: "agent-1", Role: userctx.RoleAgent}, 0)
	req = httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "agent-1/agent" {
		t.Fatalf("expected identity echo, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("public path must pass without identity, got %d", rec.Code)
	}
}

func TestHeaderIdentityInNoneMode(t *testing.T) {
	cfg := testConfig(config.AuthModeNone, false)
	handler := NewMiddleware(cfg, NewService(cfg), zerolog.Nop()).Wrap(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Body.String() != "agent-dev/agent" {
		t.Fatalf("expected default dev identity, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set(HeaderUserID, "ops-1")
	req.Header.Set(HeaderRole, "admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Body.String() != "ops-1/admin" {
		t.Fatalf("expected header identity, got %q", rec.Body.String())
	}
}

func TestHandleDevAuth(t *testing.T) {
	cfg := testConfig(config.AuthModeJWT, false)
	svc := NewService(cfg)
	h := NewHandlers(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/dev", strings.NewReader(`{"user_id":"agent-9"}`))
	rec := httptest.NewRecorder()
	h.HandleDevAuth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp DevAuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.UserID != "agent-9" || resp.Role != userctx.RoleAgent {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := svc.VerifyJWT(resp.AccessToken); err != nil {
		t.Fatalf("issued token must verify: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/dev", strings.NewReader(`{"role":"root"}`))
	rec = httptest.NewRecorder()
	h.HandleDevAuth(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/dev", nil)
	rec = httptest.NewRecorder()
	h.HandleDevAuth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body must default, got %d", rec.Code)
	}
}
