// Package models holds the rate limit result and response types.
package models

import "time"

// Result is the outcome of one bucket check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Policy bounds how many writes a caller may make per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// ExceededResponse is the body of a 429.
type ExceededResponse struct {
	Error      string `json:"error"` // "rate_limit_exceeded"
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// Key builds the bucket key for a caller.
func Key(kind, id string) string {
	return "rl:" + kind + ":" + id
}
