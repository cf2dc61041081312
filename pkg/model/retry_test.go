package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

func TestRetryableStatusCodes(t *testing.T) {
	for _, code := range []int{408, 409, 425, 429, 500, 502, 503, 504} {
		err := &cerrors.ProviderError{Provider: "openai", StatusCode: code, Message: "x"}
		assert.True(t, Retryable(err), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		err := &cerrors.ProviderError{Provider: "openai", StatusCode: code, Message: "x"}
		assert.False(t, Retryable(err), "status %d", code)
	}
}

func TestRetryableMessageTokens(t *testing.T) {
	retryable := []string{
		"Rate limit exceeded",
		"request timed out",
		"connection reset by peer",
		"model is overloaded",
		"service temporarily Unavailable",
		"quota exhausted for project",
	}
	for _, msg := range retryable {
		assert.True(t, Retryable(errors.New(msg)), "msg %q", msg)
	}

	permanent := []string{
		"invalid api key",
		"model does not exist",
		"content policy violation",
	}
	for _, msg := range permanent {
		assert.False(t, Retryable(errors.New(msg)), "msg %q", msg)
	}
}

func TestRetryableWrappedProviderError(t *testing.T) {
	inner := &cerrors.ProviderError{Provider: "google", StatusCode: 503, Message: "backend error"}
	assert.True(t, Retryable(fmt.Errorf("step invoke: %w", inner)))
}

func TestRetryableContextErrors(t *testing.T) {
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.False(t, Retryable(nil))
}
