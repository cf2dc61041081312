package model

import (
	"context"
	"errors"
	"strings"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

// retryableStatuses are the HTTP statuses classified as transient.
var retryableStatuses = map[int]bool{
	408: true, // request timeout
	409: true, // conflict, providers use it for concurrent-limit races
	425: true, // too early
	429: true, // rate limited
	500: true,
	502: true,
	503: true,
	504: true,
}

// retryableTokens mark a transient failure when found in an error message.
var retryableTokens = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"timeout",
	"timed out",
	"connection",
	"overloaded",
	"unavailable",
	"quota",
}

// Retryable classifies a model invocation error as transient. The failover
// loop advances to the next candidate either way; a retryable error may
// additionally be retried on the same candidate, a permanent one is not.
//
// Context cancellation is never retryable here; the executor handles
// cancelled nodes separately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var provErr *cerrors.ProviderError
	if errors.As(err, &provErr) && retryableStatuses[provErr.StatusCode] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, token := range retryableTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
