package models

import "time"

// Credential is a short-lived database token minted per connection attempt.
// Tokens expire quickly, so callers always request a fresh one and never
// reuse a credential across sessions.
type Credential struct {
	User      string    `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
