package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Query parameters accepted for browser WebSocket clients, which cannot set headers.
var queryTokenParameters = []string{"token", "access_token"}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// QueryToken extracts a token passed as a query parameter.
func QueryToken(r *http.Request) (string, bool) {
	if r == nil || r.URL == nil {
		return "", false
	}
	query := r.URL.Query()
	for _, name := range queryTokenParameters {
		if token := strings.TrimSpace(query.Get(name)); token != "" {
			return token, true
		}
	}
	return "", false
}
