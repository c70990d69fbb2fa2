package core

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// minTokenLength is the shortest bearer token the MCP endpoint accepts
const minTokenLength = 16

var weakTokenWords = []string{
	"password", "secret", "token", "admin", "test", "default", "12345", "lkmap",
}

// ValidateAuthToken rejects bearer tokens that are empty, short, or built from common words
func ValidateAuthToken(token string) error {
	if token == "" {
		return NewError(ErrInvalidParameter, "authentication token cannot be empty").
			WithGuidance("Set LKMAP_MCP_TOKEN or pass --mcp-token")
	}
	if len(token) < minTokenLength {
		return NewError(ErrInvalidParameter, "authentication token is too short").
			WithGuidance("Use a token with at least 16 characters")
	}

	lower := strings.ToLower(token)
	for _, weak := range weakTokenWords {
		if strings.Contains(lower, weak) {
			return NewError(ErrInvalidParameter, "authentication token appears to be weak").
				WithGuidance("Use a randomly generated token")
		}
	}
	return nil
}

// CheckBearer compares the Authorization header of r against the expected token
// in constant time. A nil error means the request is authorized.
func CheckBearer(r *http.Request, expected string) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return NewError(ErrInvalidInput, "missing Authorization header")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return NewError(ErrInvalidInput, "invalid Authorization header format")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return NewError(ErrInvalidInput, "invalid bearer token")
	}
	return nil
}

// CheckBasic compares the request's basic auth credentials, joined as
// "user:password", against expected in constant time
func CheckBasic(r *http.Request, expected string) error {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" || password == "" {
		return NewError(ErrInvalidInput, "missing basic auth credentials")
	}
	if subtle.ConstantTimeCompare([]byte(username+":"+password), []byte(expected)) != 1 {
		return NewError(ErrInvalidInput, "invalid basic auth credentials")
	}
	return nil
}
