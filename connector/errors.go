package connector

import (
	"errors"
	"strings"
	"time"
)

// Class buckets connector faults into the retry taxonomy.
type Class int

const (
	// ClassTransient covers network faults retried under the backoff policy.
	ClassTransient Class = iota
	// ClassRateLimited means the platform asked us to wait; honored in place,
	// never counted as a failure.
	ClassRateLimited
	// ClassAuthInvalid means credentials were rejected; no automatic retry.
	ClassAuthInvalid
	// ClassProtocol marks a single unparseable event; dropped and logged.
	ClassProtocol
	// ClassConfig marks a missing required setting; the connector never
	// leaves Idle.
	ClassConfig
)

// String returns a human-readable name for the class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "network_transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassAuthInvalid:
		return "auth_invalid"
	case ClassProtocol:
		return "protocol_malformed"
	case ClassConfig:
		return "config_invalid"
	default:
		return "unknown"
	}
}

// Sentinels drivers wrap to force a classification.
var (
	ErrAuthInvalid   = errors.New("authentication rejected")
	ErrConfigInvalid = errors.New("connector configuration invalid")
	ErrProtocol      = errors.New("malformed platform event")
)

// RateLimitError carries the platform-advertised wait interval.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited by platform, retry after " + e.RetryAfter.String()
}

// Classify buckets an error into the retry taxonomy. Sentinel wrapping wins;
// otherwise the message is pattern-matched. Auth faults are fatal to the
// current credential; everything unrecognized is treated as transient so the
// supervisor keeps trying.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	switch {
	case errors.Is(err, ErrAuthInvalid):
		return ClassAuthInvalid
	case errors.Is(err, ErrConfigInvalid):
		return ClassConfig
	case errors.Is(err, ErrProtocol):
		return ClassProtocol
	}

	lower := strings.ToLower(err.Error())

	// Rate limiting before auth: a 429 with "unauthorized retry" text should
	// still wait, not reauth.
	for _, p := range []string{"429", "too many requests", "rate limit", "throttled"} {
		if strings.Contains(lower, p) {
			return ClassRateLimited
		}
	}

	// Server errors stay transient even though "503 service unavailable"
	// contains "unavailable".
	for _, p := range []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout"} {
		if strings.Contains(lower, p) {
			return ClassTransient
		}
	}

	for _, p := range []string{"401", "403", "unauthorized", "access denied", "invalid_grant", "login authentication failed", "authentication required", "invalid oauth"} {
		if strings.Contains(lower, p) {
			return ClassAuthInvalid
		}
	}

	return ClassTransient
}
