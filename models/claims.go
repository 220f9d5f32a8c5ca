package models

import "time"

// Claims is the validated view of a bearer token. Tokens are verified per
// request and never persisted; everything downstream (authorization, rate
// limiting, telemetry) reads this struct, not the raw token.
type Claims struct {
	// Issuer is the verified iss claim
	Issuer string

	// Subject identifies the caller; rate-limit identity keys use this
	Subject string

	// Audience holds the verified aud values
	Audience []string

	// Scopes come from the space-separated scope claim or the scp array
	Scopes []string

	// ExpiresAt and IssuedAt are the verified token lifetime bounds
	ExpiresAt time.Time
	IssuedAt  time.Time

	// Raw holds every claim for CEL authorization expressions
	Raw map[string]any
}

// HasScope reports whether the token carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Identity returns the rate-limit/audit identity for the caller: the subject
// claim, or "anonymous" for unauthenticated requests.
func (c *Claims) Identity() string {
	if c == nil || c.Subject == "" {
		return "anonymous"
	}
	return c.Subject
}
