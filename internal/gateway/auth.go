package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authenticator checks the gateway's shared bearer token. An empty
// configured token disables authentication entirely.
type authenticator struct {
	token string
}

// Enabled reports whether requests must present a token.
func (a *authenticator) Enabled() bool { return a.token != "" }

// Check compares a presented token in constant time.
func (a *authenticator) Check(presented string) bool {
	if !a.Enabled() {
		return true
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.token), []byte(presented)) == 1
}

// CheckRequest authenticates an HTTP upgrade request from its
// Authorization header.
func (a *authenticator) CheckRequest(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	return a.Check(bearerToken(r))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
