package bsky

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated is returned by calls that need a session before Login succeeded.
	ErrNotAuthenticated = errors.New("bsky: not authenticated")
	// ErrPostNotFound is returned when a thread lookup yields no usable post.
	ErrPostNotFound = errors.New("bsky: post not found")
)

// XRPCError is a non-2xx XRPC response.
type XRPCError struct {
	StatusCode int
	Name       string `json:"error"`
	Message    string `json:"message"`
}

func (e *XRPCError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return fmt.Sprintf("xrpc %d %s: %s", e.StatusCode, e.Name, e.Message)
	case e.Name != "":
		return fmt.Sprintf("xrpc %d %s", e.StatusCode, e.Name)
	default:
		return fmt.Sprintf("xrpc %d", e.StatusCode)
	}
}

// IsExpiredToken reports whether the access token must be refreshed.
func IsExpiredToken(err error) bool {
	var xe *XRPCError
	if errors.As(err, &xe) {
		return xe.Name == "ExpiredToken"
	}
	return false
}

// IsRateLimited reports whether the server throttled the request.
func IsRateLimited(err error) bool {
	var xe *XRPCError
	if errors.As(err, &xe) {
		return xe.StatusCode == http.StatusTooManyRequests || xe.Name == "RateLimitExceeded"
	}
	return false
}

// IsAuthError reports whether the credentials were rejected.
func IsAuthError(err error) bool {
	var xe *XRPCError
	if errors.As(err, &xe) {
		return xe.StatusCode == http.StatusUnauthorized || xe.Name == "AuthenticationRequired" || xe.Name == "AuthFactorTokenRequired"
	}
	return false
}
