package connector

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassTransient},
		{"wrapped auth sentinel", fmt.Errorf("login: %w", ErrAuthInvalid), ClassAuthInvalid},
		{"wrapped config sentinel", fmt.Errorf("missing channel: %w", ErrConfigInvalid), ClassConfig},
		{"wrapped protocol sentinel", fmt.Errorf("bad frame: %w", ErrProtocol), ClassProtocol},
		{"rate limit error type", &RateLimitError{RetryAfter: time.Minute}, ClassRateLimited},
		{"wrapped rate limit", fmt.Errorf("poll: %w", &RateLimitError{RetryAfter: time.Second}), ClassRateLimited},
		{"plain network error", errors.New("dial tcp: connection refused"), ClassTransient},
		{"http 401", errors.New("unexpected status 401"), ClassAuthInvalid},
		{"http 403", errors.New("got 403 from api"), ClassAuthInvalid},
		{"unauthorized text", errors.New("request unauthorized"), ClassAuthInvalid},
		{"invalid_grant", errors.New("oauth2: \"invalid_grant\""), ClassAuthInvalid},
		{"twitch login failure", errors.New("login authentication failed"), ClassAuthInvalid},
		{"http 429", errors.New("429 too many requests"), ClassRateLimited},
		{"rate limit text", errors.New("rate limit exceeded"), ClassRateLimited},
		// 429 text containing auth-looking words must still wait.
		{"rate limit wins over auth", errors.New("429: unauthorized retry later"), ClassRateLimited},
		// 5xx stays transient even when the text mentions availability.
		{"service unavailable", errors.New("503 service unavailable"), ClassTransient},
		{"bad gateway", errors.New("502 bad gateway"), ClassTransient},
		{"unknown", errors.New("something odd"), ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassString(t *testing.T) {
	cases := map[Class]string{
		ClassTransient:   "network_transient",
		ClassRateLimited: "rate_limited",
		ClassAuthInvalid: "auth_invalid",
		ClassProtocol:    "protocol_malformed",
		ClassConfig:      "config_invalid",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", c, got, want)
		}
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{RetryAfter: 30 * time.Second}
	var rl *RateLimitError
	if !errors.As(fmt.Errorf("wrap: %w", err), &rl) || rl.RetryAfter != 30*time.Second {
		t.Error("RetryAfter not recoverable through wrapping")
	}
}
