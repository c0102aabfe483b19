package tool

import (
	"context"
	"errors"
	"strings"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// retryableSentinels are domain errors that indicate a transient failure.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrDestinationUnavailable,
	domain.ErrProviderError,
	domain.ErrRateLimit,
	domain.ErrMemoryUnavailable,
	context.DeadlineExceeded,
}

// retryablePatterns are substrings of error messages that indicate a
// transient failure. Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// classifyToolError reports whether a tool call may succeed on retry.
// Circuit-open rejections are not retryable from the model's point of view.
func classifyToolError(err error) bool {
	if err == nil || errors.Is(err, domain.ErrCircuitOpen) {
		return false
	}
	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
