// Package failure maps arbitrary errors from backends and the parser into a
// closed classification set. It is the single source of truth consulted both
// for persisted attempt metadata and for retry decisions.
package failure

import (
	"context"
	"errors"
	"net"

	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/provider"
)

type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindRateLimit     Kind = "rate_limit"
	KindValidation    Kind = "validation"
	KindProviderError Kind = "provider_error"
	KindCapped        Kind = "capped"
)

// Classify is a total function over the known error shapes plus a default
// case. Precedence: forced > explicit timeout flag > typed provider errors >
// parser errors > default.
func Classify(err error, timedOut bool, forced Kind) Kind {
	if forced != "" {
		return forced
	}
	if timedOut {
		return KindTimeout
	}
	if err == nil {
		return KindProviderError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return KindRateLimit
		case httpErr.StatusCode == 408:
			return KindTimeout
		default:
			return KindProviderError
		}
	}

	var parseErr *generation.ParseError
	if errors.As(err, &parseErr) {
		if parseErr.Kind == generation.ParseErrorValidation {
			return KindValidation
		}
		// invalid_json means the backend produced garbage, which is a
		// provider quality problem, not an input problem.
		return KindProviderError
	}

	return KindProviderError
}

// RetryableInAttempt reports whether the router may retry the same backend
// within the current attempt. Only throttling and 5xx-shaped provider
// errors qualify; validation failures and timeouts are not retried
// mid-attempt, and cancellation is never retried.
func RetryableInAttempt(err error, kind Kind) bool {
	if err != nil && errors.Is(err, context.Canceled) {
		return false
	}
	switch kind {
	case KindRateLimit:
		return true
	case KindProviderError:
		var httpErr *provider.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr.StatusCode >= 500 || httpErr.StatusCode == 0
		}
		// No status code to contradict it: conservatively retryable.
		return true
	default:
		return false
	}
}

// RetryableKind reports whether a fresh attempt is plausibly worth offering
// after a failure of this classification. The ledger uses it to decide
// whether a plan transitions to failed or stays eligible for another
// reservation.
func RetryableKind(kind Kind) bool {
	switch kind {
	case KindTimeout, KindRateLimit, KindProviderError:
		return true
	default:
		return false
	}
}
