package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hystdevtv/pear/internal/auth"
)

// RequireToken returns middleware that enforces a bearer token checked
// against the verifier's hash. A disabled verifier lets every request
// through.
func RequireToken(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verifier.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || !verifier.Verify(token) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="pear"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(headerValue string) (string, bool) {
	headerValue = strings.TrimSpace(headerValue)
	const prefix = "Bearer "
	if len(headerValue) < len(prefix) || !strings.EqualFold(headerValue[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(headerValue[len(prefix):])
	return token, token != ""
}
