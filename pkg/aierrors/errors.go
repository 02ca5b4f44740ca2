package aierrors

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
)

// Kind is a coarse classification of a completion failure, used for log
// fields and metric labels.
type Kind string

const (
	KindNone          Kind = ""
	KindRateLimited   Kind = "rate_limited"
	KindAuth          Kind = "auth"
	KindBilling       Kind = "billing"
	KindOverloaded    Kind = "overloaded"
	KindTimeout       Kind = "timeout"
	KindModelNotFound Kind = "model_not_found"
	KindServer        Kind = "server"
	KindCanceled      Kind = "canceled"
	KindUnknown       Kind = "unknown"
)

// Classify maps an oracle error to a Kind. Order matters: billing and
// overload signals are often delivered with 429/5xx codes.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case IsBillingError(err):
		return KindBilling
	case IsOverloadedError(err):
		return KindOverloaded
	case IsTimeoutError(err):
		return KindTimeout
	case IsRateLimitError(err):
		return KindRateLimited
	case IsAuthError(err):
		return KindAuth
	case IsModelNotFound(err):
		return KindModelNotFound
	case IsServerError(err):
		return KindServer
	default:
		return KindUnknown
	}
}

// IsPermanent reports whether retrying the same request cannot succeed.
func IsPermanent(err error) bool {
	switch Classify(err) {
	case KindAuth, KindBilling, KindModelNotFound, KindCanceled:
		return true
	default:
		return false
	}
}

// IsRateLimitError checks if the error is a rate limit (429) error
func IsRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Code, "rate_limit_exceeded") {
			return true
		}
		if apiErr.StatusCode == 429 {
			return true
		}
	}
	return ContainsAnyPattern(err, []string{
		"resource_exhausted",
		"usage limit",
	})
}

// IsServerError checks if the error is a server-side (5xx) error
func IsServerError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Code, "server_error") {
			return true
		}
		return apiErr.StatusCode >= 500
	}
	return false
}

// IsAuthError checks if the error is an authentication error.
// Checks openai.Error status codes first, then falls back to string pattern matching.
func IsAuthError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return true
		}
	}
	return ContainsAnyPattern(err, []string{
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"unauthorized",
		"no api key found",
	})
}

// IsModelNotFound checks if the error is a model not found (404) error
func IsModelNotFound(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}
