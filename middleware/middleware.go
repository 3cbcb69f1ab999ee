// Package middleware provides net/http glue for protecting routes with an
// authcore.Engine.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coursekit/authcore"
)

type contextKey struct{ name string }

var userIDKey = contextKey{"authcore-user-id"}

// UserID extracts the authenticated user id placed by Guard. The second
// return is false on unauthenticated requests.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// Guard wraps next with bearer-token authentication: the Authorization
// header must carry a valid access token, the request context gains the
// user id plus client IP and user agent for downstream engine calls.
func Guard(engine *authcore.Engine, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		ctx := RequestContext(r)
		userID, err := engine.VerifyAccessToken(ctx, tokenString)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx = context.WithValue(ctx, userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestContext returns the request's context annotated with client IP and
// user agent, for unauthenticated engine calls like Login.
func RequestContext(r *http.Request) context.Context {
	ctx := authcore.WithClientIP(r.Context(), clientAddr(r))
	return authcore.WithUserAgent(ctx, r.UserAgent())
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}

	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
