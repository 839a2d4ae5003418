package ai

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the AI core. Callers classify failures with
// errors.Is; everything else wraps one of these sentinels.
var (
	// ErrInvalidArgument marks malformed caller input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProviderUnavailable means credentials are missing or the adapter's
	// liveness check failed. Triggers fallback at the router level.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderTimeout means the upstream call exceeded its deadline.
	// Triggers fallback at the router level.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderRequestFailed marks a non-retryable upstream rejection.
	// Triggers fallback at the router level.
	ErrProviderRequestFailed = errors.New("provider request failed")

	// ErrBudgetExceeded means admission was denied for every configured tier.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrAllProvidersExhausted is terminal for the request once every tier
	// has been attempted or skipped.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrDimensionMismatch means a vector's dimensionality disagrees with
	// the store's configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoContentAvailable means retrieval found zero chunks in scope.
	// Recoverable by caller policy.
	ErrNoContentAvailable = errors.New("no content available")
)

// WrapInvalidArgument builds an ErrInvalidArgument with detail.
func WrapInvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// WrapDimensionMismatch builds an ErrDimensionMismatch with both sides.
func WrapDimensionMismatch(got, want int) error {
	return fmt.Errorf("%w: got %d dimensions, store configured for %d", ErrDimensionMismatch, got, want)
}

// IsProviderFailure reports whether err is one of the provider-level
// failures that the router recovers from by crossing to the next tier.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderRequestFailed)
}
