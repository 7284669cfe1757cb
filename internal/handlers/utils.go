package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/auth"
)

const authCookieName = "auth_token"

var errMissingToken = errors.New("missing auth_token")

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken returns the session token from the auth_token cookie or an
// "Authorization: Bearer" header.
func requestToken(r *http.Request) string {
	if token := extractCookieToken(r.Header.Get("Cookie"), authCookieName); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// authenticate resolves the calling user from the request's session token.
func authenticate(r *http.Request) (uuid.UUID, error) {
	token := requestToken(r)
	if token == "" {
		return uuid.Nil, errMissingToken
	}
	return auth.AuthenticateJWT(token)
}

// pathID parses the {id} wildcard of the route.
func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}
