package aierrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go/v3"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"canceled", fmt.Errorf("attempt: %w", context.Canceled), KindCanceled},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), KindTimeout},
		{"429", &openai.Error{StatusCode: 429, Message: "slow down"}, KindRateLimited},
		{"401", &openai.Error{StatusCode: 401}, KindAuth},
		{"404", &openai.Error{StatusCode: 404}, KindModelNotFound},
		{"500", &openai.Error{StatusCode: 500}, KindServer},
		{"quota", errors.New("You exceeded your current quota, please check your plan"), KindBilling},
		{"overloaded", errors.New("503 service unavailable"), KindOverloaded},
		{"other", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(&openai.Error{StatusCode: 401}) {
		t.Fatal("auth errors cannot be fixed by retrying")
	}
	if !IsPermanent(context.Canceled) {
		t.Fatal("cancellation must stop retries")
	}
	if IsPermanent(&openai.Error{StatusCode: 429}) {
		t.Fatal("rate limits are transient")
	}
	if IsPermanent(errors.New("connection reset")) {
		t.Fatal("unknown errors are treated as transient")
	}
}

func TestIsRateLimitError_UsageLimit(t *testing.T) {
	err := errors.New("usage limit reached for this model")
	if !IsRateLimitError(err) {
		t.Fatal("expected 'usage limit' to be classified as rate limit")
	}
}
