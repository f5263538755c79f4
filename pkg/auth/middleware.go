// Package auth resolves caller roles from API keys and applies per-key
// rate limits at the HTTP boundary.
package auth

import (
	"context"
	"net/http"
	"strings"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

type ctxRoleKey struct{}
type ctxUserKey struct{}

// SecConfig carries the security knobs the middleware needs.
type SecConfig struct {
	RPS         float64
	Burst       int
	AllowUnauth bool
}

// Middleware resolves the caller's role from X-API-Key, applies the
// per-key rate limit and injects role and user id into the context.
// Unknown keys are rejected unless AllowUnauth is set (local development).
func Middleware(cfg SecConfig, next http.Handler) http.Handler {
	pool := &limiterPool{cfg: cfg}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes often cannot send API keys; accept GET probes without auth.
		if r.Method == http.MethodGet &&
			(r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics") {
			next.ServeHTTP(w, r)
			return
		}
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		role := resolveRole(key)
		if role == "" && !cfg.AllowUnauth {
			logger.Warn("unauthorized_request", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, `{"error":"invalid or missing api key"}`, http.StatusUnauthorized)
			return
		}
		if role == "" {
			role = "frontend"
		}

		limKey := key
		if limKey == "" {
			limKey = r.RemoteAddr
		}
		if !pool.Allow(limKey) {
			logger.Warn("rate_limited", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		ctx := context.WithValue(r.Context(), ctxRoleKey{}, role)
		if uid := strings.TrimSpace(r.Header.Get("X-User-ID")); uid != "" {
			ctx = context.WithValue(ctx, ctxUserKey{}, uid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func resolveRole(key string) string {
	if key == "" {
		return ""
	}
	if _, ok := config.GetBackendKeys()[key]; ok {
		return "backend"
	}
	if _, ok := config.GetFrontendKeys()[key]; ok {
		return "frontend"
	}
	return ""
}

// RoleFromContext returns the resolved caller role or empty string.
func RoleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRoleKey{}).(string); ok {
		return v
	}
	return ""
}

// UserIDFromContext returns the caller-declared user id or empty string.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}
