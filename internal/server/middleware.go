package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/papersync/papersync/internal/api"
	"github.com/papersync/papersync/internal/cache"
	"github.com/papersync/papersync/internal/identity"
)

// loggingMiddleware logs request information using slog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// requireAdmin enforces HTTP basic auth against the configured admin
// credentials.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="papersync admin"`)
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}

		if err := s.deps.AdminAuth.Verify(username, password); err != nil {
			if errors.Is(err, identity.ErrNotConfigured) {
				api.WriteForbidden(w, api.ReasonPermissionDenied, "admin access is not configured")
				return
			}
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid credentials")
			return
		}

		next.ServeHTTP(w, r)
	}
}

// RateLimitConfig holds configuration for a rate-limited endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// simpleRateLimiter enforces a per-key requests-per-window limit over
// a shared counter.
type simpleRateLimiter struct {
	counter cache.Counter
	prefix  string
	limit   int
	burst   int
	window  time.Duration
}

func newSimpleRateLimiter(counter cache.Counter, prefix string, requestsPerMinute, burst int) *simpleRateLimiter {
	return &simpleRateLimiter{
		counter: counter,
		prefix:  prefix,
		limit:   requestsPerMinute,
		burst:   burst,
		window:  cache.TTLRateLimit,
	}
}

func (l *simpleRateLimiter) allow(ctx context.Context, key string) bool {
	count, _, err := l.counter.Increment(ctx, "ratelimit:"+l.prefix+":"+key, 1, l.window)
	if err != nil {
		// Counter failure never blocks traffic
		return true
	}
	return count <= int64(l.limit+l.burst)
}

// rateLimitMiddleware applies rate limiting to specific paths.
func (s *Server) rateLimitMiddleware(config map[string]RateLimitConfig) func(next http.Handler) http.Handler {
	limiters := make(map[string]*simpleRateLimiter)
	for path, cfg := range config {
		limiters[path] = newSimpleRateLimiter(s.rlCounter, path, cfg.RequestsPerMinute, cfg.Burst)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var limiter *simpleRateLimiter
			var matchedPath string
			for path := range limiters {
				if r.URL.Path == path || strings.HasPrefix(r.URL.Path, path+"/") {
					limiter = limiters[path]
					matchedPath = path
					break
				}
			}

			if limiter != nil {
				clientIP := r.RemoteAddr
				if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					clientIP = host
				}

				if !limiter.allow(r.Context(), clientIP) {
					s.logger.Warn("rate limit exceeded",
						"path", matchedPath,
						"client_ip", clientIP,
					)
					w.Header().Set("Retry-After", "60")
					api.WriteTooManyRequests(w, "too many requests, please try again later")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
