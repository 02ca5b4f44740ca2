package aierrors

import (
	"context"
	"errors"
	"strings"
)

// ContainsAnyPattern checks if the lowercased error message contains any of the given patterns.
func ContainsAnyPattern(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(safeErrorString(err))
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsBillingError checks if the error is a billing/payment error (402)
func IsBillingError(err error) bool {
	return ContainsAnyPattern(err, []string{
		"402",
		"payment required",
		"insufficient credits",
		"exceeded your current quota",
		"insufficient_quota",
		"billing",
	})
}

// IsOverloadedError checks if the error indicates the service is overloaded
func IsOverloadedError(err error) bool {
	return ContainsAnyPattern(err, []string{
		"overloaded",
		"service unavailable",
		"503",
	})
}

// IsTimeoutError checks if the error is a timeout error
func IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ContainsAnyPattern(err, []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"econnreset",
		"408",
		"504",
	})
}

// safeErrorString guards against SDK error values whose Error method
// dereferences request/response fields that are unset in synthesized errors.
func safeErrorString(err error) (text string) {
	if err == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return err.Error()
}
