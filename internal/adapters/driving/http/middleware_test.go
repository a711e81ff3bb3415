package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "valid bearer token", header: "Bearer abc123", expected: "abc123"},
		{name: "bearer with extra spaces", header: "Bearer   token-with-spaces   ", expected: "token-with-spaces"},
		{name: "lowercase bearer", header: "bearer token123", expected: "token123"},
		{name: "empty header", header: "", expected: ""},
		{name: "no bearer prefix", header: "token123", expected: ""},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			result := extractBearerToken(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

// tokenAuth accepts "admin", "member" and "viewer" as tokens for the matching role
func tokenAuth() *mockAuthService {
	return &mockAuthService{
		validateTokenFn: func(ctx context.Context, token string) (*domain.AuthContext, error) {
			switch token {
			case "expired":
				return nil, domain.ErrTokenExpired
			case "admin", "member", "viewer":
				return &domain.AuthContext{Subject: token + "-user", Role: domain.Role(token)}, nil
			}
			return nil, domain.ErrTokenInvalid
		},
	}
}

func okHandler(seen **domain.AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	tests := []struct {
		name       string
		required   bool
		token      string
		wantStatus int
		wantActor  string
	}{
		{name: "required and missing", required: true, token: "", wantStatus: http.StatusUnauthorized},
		{name: "optional and missing", required: false, token: "", wantStatus: http.StatusOK, wantActor: domain.ActorSystem},
		{name: "valid token", required: true, token: "member", wantStatus: http.StatusOK, wantActor: "member-user"},
		{name: "expired token", required: false, token: "expired", wantStatus: http.StatusUnauthorized},
		{name: "invalid token", required: false, token: "bogus", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *domain.AuthContext
			mw := NewAuthMiddleware(tokenAuth(), tt.required)
			req := httptest.NewRequest("GET", "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()

			mw.Authenticate(okHandler(&seen)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && seen.Actor() != tt.wantActor {
				t.Errorf("expected actor %q, got %q", tt.wantActor, seen.Actor())
			}
		})
	}
}

func TestAuthMiddleware_NoAuthService(t *testing.T) {
	var seen *domain.AuthContext
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer anything")

	NewAuthMiddleware(nil, false).Authenticate(okHandler(&seen)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 without auth service, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewAuthMiddleware(nil, true).Authenticate(okHandler(&seen)).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 when auth is required but unconfigured, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Roles(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		admin      bool
		wantStatus int
	}{
		{name: "viewer cannot write", token: "viewer", wantStatus: http.StatusForbidden},
		{name: "member can write", token: "member", wantStatus: http.StatusOK},
		{name: "member is not admin", token: "member", admin: true, wantStatus: http.StatusForbidden},
		{name: "admin is admin", token: "admin", admin: true, wantStatus: http.StatusOK},
		{name: "anonymous when required", token: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *domain.AuthContext
			mw := NewAuthMiddleware(tokenAuth(), true)
			inner := mw.RequireWriter(okHandler(&seen))
			if tt.admin {
				inner = mw.RequireAdmin(okHandler(&seen))
			}

			req := httptest.NewRequest("POST", "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			mw.Authenticate(inner).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuthMiddleware_OptionalAllowsAnonymousWrites(t *testing.T) {
	var seen *domain.AuthContext
	mw := NewAuthMiddleware(tokenAuth(), false)
	rec := httptest.NewRecorder()

	mw.Authenticate(mw.RequireWriter(okHandler(&seen))).ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected anonymous write to pass, got %d", rec.Code)
	}
}

func TestGetAuthContext(t *testing.T) {
	if GetAuthContext(context.Background()) != nil {
		t.Error("expected nil for empty context")
	}

	authCtx := &domain.AuthContext{Subject: "alice", Role: domain.RoleAdmin}
	ctx := context.WithValue(context.Background(), authContextKey, authCtx)
	if got := GetAuthContext(ctx); got != authCtx {
		t.Errorf("expected stored auth context, got %+v", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	handler := NewLoggingMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("expected allowed origin header")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unexpected CORS header for disallowed origin")
	}
}

func TestLoggingMiddleware_RequestIDAndActor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	auth := NewAuthMiddleware(tokenAuth(), false)
	handler := NewLoggingMiddleware(logger).Handler(auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest("GET", "/api/v1/parties", nil)
	req.Header.Set("Authorization", "Bearer member")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	id := rec.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatal("expected a generated request ID")
	}
	line := buf.String()
	for _, want := range []string{`"request_id":"` + id + `"`, `"actor":"member-user"`, `"bytes":5`} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %s in log line %s", want, line)
		}
	}

	buf.Reset()
	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-id-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "caller-id-1" {
		t.Errorf("expected caller request ID echoed, got %q", got)
	}
	if !strings.Contains(buf.String(), `"actor":"`+domain.ActorSystem+`"`) {
		t.Errorf("expected anonymous request logged as system actor: %s", buf.String())
	}
}
