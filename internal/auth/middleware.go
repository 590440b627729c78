package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const ctxRemoteIP contextKey = iota

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

const (
	wwwAuthNoToken = `Bearer realm="checklist-sync"`
	wwwAuthInvalid = `Bearer realm="checklist-sync", error="invalid_token"`
)

// tokenChecker verifies bearer tokens against a bcrypt hash. bcrypt is
// slow by design, so the SHA-256 of the last accepted token is kept and
// compared in constant time on later requests.
type tokenChecker struct {
	hash []byte

	mu       sync.Mutex
	accepted *[sha256.Size]byte
}

func (c *tokenChecker) check(token string) bool {
	sum := sha256.Sum256([]byte(token))

	c.mu.Lock()
	accepted := c.accepted
	c.mu.Unlock()

	if accepted != nil && subtle.ConstantTimeCompare(accepted[:], sum[:]) == 1 {
		return true
	}

	if bcrypt.CompareHashAndPassword(c.hash, []byte(token)) != nil {
		return false
	}

	c.mu.Lock()
	c.accepted = &sum
	c.mu.Unlock()

	return true
}

// Middleware returns HTTP middleware that only lets through requests
// carrying a bearer token matching tokenHash. An empty hash rejects
// everything.
func Middleware(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	checker := &tokenChecker{hash: []byte(tokenHash)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			if tokenHash == "" || !checker.check(token) {
				logger.Debug("middleware: invalid bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			ctx := context.WithValue(r.Context(), ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
