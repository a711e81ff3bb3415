package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

type contextKey string

const (
	authContextKey contextKey = "auth_context"
	traceKey       contextKey = "request_trace"
)

// RequestIDHeader is echoed on every response and accepted from callers
// that already carry an ID.
const RequestIDHeader = "X-Request-ID"

// requestTrace is filled in as a request moves through the middleware
// chain and read back by the access log.
type requestTrace struct {
	id    string
	actor string
}

func traceFrom(ctx context.Context) *requestTrace {
	t, _ := ctx.Value(traceKey).(*requestTrace)
	return t
}

// AuthMiddleware resolves bearer tokens into the caller recorded on
// interactions. With required=false anonymous callers act as the system actor.
type AuthMiddleware struct {
	authService driving.AuthService
	required    bool
}

func NewAuthMiddleware(authService driving.AuthService, required bool) *AuthMiddleware {
	return &AuthMiddleware{authService: authService, required: required}
}

// Authenticate validates the bearer token, if any, and stores the auth context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" || m.authService == nil {
			if m.required {
				writeError(w, http.StatusUnauthorized, "missing authorization token")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authCtx, err := m.authService.ValidateToken(r.Context(), token)
		switch {
		case errors.Is(err, domain.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if t := traceFrom(r.Context()); t != nil {
			t.actor = authCtx.Actor()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey, authCtx)))
	})
}

// RequireWriter admits members and admins. Anonymous callers pass only
// when authentication is optional.
func (m *AuthMiddleware) RequireWriter(next http.Handler) http.Handler {
	return m.require(func(a *domain.AuthContext) bool { return a.Role.CanWrite() }, "write access required", next)
}

// RequireAdmin guards deletes, rescoring and queue/schedule administration.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.require((*domain.AuthContext).IsAdmin, "admin access required", next)
}

func (m *AuthMiddleware) require(allowed func(*domain.AuthContext) bool, denied string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r.Context())
		switch {
		case authCtx == nil && m.required:
			writeError(w, http.StatusUnauthorized, "unauthorized")
		case authCtx != nil && !allowed(authCtx):
			writeError(w, http.StatusForbidden, denied)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// GetAuthContext returns the caller stored by Authenticate, or nil.
func GetAuthContext(ctx context.Context) *domain.AuthContext {
	if ctx == nil {
		return nil
	}
	authCtx, _ := ctx.Value(authContextKey).(*domain.AuthContext)
	return authCtx
}

// actor is the audit actor for the request.
func actor(r *http.Request) string {
	return GetAuthContext(r.Context()).Actor()
}

func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// LoggingMiddleware writes one access log line per request carrying the
// request ID, the authenticated actor and the response size.
type LoggingMiddleware struct {
	logger *slog.Logger
}

func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		trace := &requestTrace{id: r.Header.Get(RequestIDHeader), actor: domain.ActorSystem}
		if trace.id == "" || len(trace.id) > 128 {
			trace.id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, trace.id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), traceKey, trace)))

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		m.logger.Log(r.Context(), level, "http request",
			"request_id", trace.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.written,
			"actor", trace.actor,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

// RecoveryMiddleware turns a handler panic into a 500.
type RecoveryMiddleware struct {
	logger *slog.Logger
}

func NewRecoveryMiddleware(logger *slog.Logger) *RecoveryMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryMiddleware{logger: logger}
}

func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				attrs := []any{"panic", v, "method", r.Method, "path", r.URL.Path}
				if t := traceFrom(r.Context()); t != nil {
					attrs = append(attrs, "request_id", t.id)
				}
				m.logger.Error("panic recovered", attrs...)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware admits browser callers from the configured origins. "*"
// admits any origin.
type CORSMiddleware struct {
	allowedOrigins []string
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(m.allowedOrigins, "*") || slices.Contains(m.allowedOrigins, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader+", Content-Disposition")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
