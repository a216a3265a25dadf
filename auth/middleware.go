// Package auth guards the executor API with a single shared bearer token.
// The operator pastes the token into the plugin; there are no users,
// sessions or claims.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hazyhaar/figbridge/horosafe"
	"github.com/hazyhaar/figbridge/idgen"
)

// TokenBytes is the entropy of a generated token.
const TokenBytes = 32

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests whose bearer token does not match token with
// 401 and a JSON error body. The comparison is constant-time.
func Middleware(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := BearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				if logger != nil {
					logger.Warn("auth rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "header_present", ok)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="figbridge"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid auth token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveToken returns the configured token, or a freshly generated one when
// configured is empty. A configured token shorter than
// horosafe.MinSecretLen is accepted but reported through weak.
func ResolveToken(configured string) (token string, generated bool, weak error, err error) {
	if configured != "" {
		return configured, false, horosafe.ValidateSecret([]byte(configured)), nil
	}
	token, err = idgen.Token(TokenBytes)
	if err != nil {
		return "", false, nil, fmt.Errorf("auth: generate token: %w", err)
	}
	return token, true, nil, nil
}

// PrintBanner writes the token and the plugin URL for the operator. It goes
// to stderr in production, never stdout, which carries MCP frames.
func PrintBanner(w io.Writer, token, baseURL string) {
	line := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\n  figbridge auth token (paste into the plugin):\n\n    %s\n\n  Bridge URL: %s\n%s\n\n", line, token, baseURL, line)
}
