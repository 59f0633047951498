package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sundai-club/shop/pkg/logger"
)

const (
	// SessionHeader carries the cart session id for API clients.
	SessionHeader = "X-Session-ID"
	// SessionCookie carries the cart session id for browsers.
	SessionCookie = "session_id"

	maxSessionIDLen = 128
)

type sessionKeyType struct{}

// SessionConfig configures the cookie minted for new sessions.
type SessionConfig struct {
	CookieMaxAge time.Duration
	Secure       bool
}

// Session resolves the cart session id from the X-Session-ID header or the
// session_id cookie. When neither carries a usable id a new uuid is minted
// and handed back both as a cookie and in the response header.
func Session(cfg SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionFromRequest(r)
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(cfg.CookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(SessionHeader, id)

			ctx := context.WithValue(r.Context(), sessionKeyType{}, id)
			ctx = logger.WithSessionID(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); validSessionID(id) {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		if id := strings.TrimSpace(c.Value); validSessionID(id) {
			return id
		}
	}
	return ""
}

// validSessionID accepts opaque ids made of URL-safe characters. The id ends
// up inside a Redis key, so separators and whitespace are rejected.
func validSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// SessionIDFromContext returns the cart session id set by Session.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKeyType{}).(string); ok {
		return id
	}
	return ""
}
