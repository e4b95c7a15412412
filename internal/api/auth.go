package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth guards the management endpoints with a single bootstrap
// credential. The password is hashed once at startup; the plain text is
// dropped immediately.
type BasicAuth struct {
	username     string
	passwordHash []byte
}

// NewBasicAuth hashes the configured password. An empty password is refused;
// the caller should leave the API unmounted instead.
func NewBasicAuth(username, password string) (*BasicAuth, error) {
	if password == "" {
		return nil, fmt.Errorf("empty admin password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	return &BasicAuth{username: username, passwordHash: hash}, nil
}

// Middleware enforces HTTP basic auth on the wrapped handlers.
func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="kfsync"`)
			WriteError(w, http.StatusUnauthorized, ReasonUnauthenticated, "authentication required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) != 1 ||
			bcrypt.CompareHashAndPassword(a.passwordHash, []byte(pass)) != nil {
			WriteError(w, http.StatusUnauthorized, ReasonInvalidCredentials, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}
