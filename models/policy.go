package models

// PolicyTargetKind scopes a policy to the whole gateway, one route, or one backend
type PolicyTargetKind string

const (
	PolicyTargetGateway PolicyTargetKind = "gateway"
	PolicyTargetRoute   PolicyTargetKind = "route"
	PolicyTargetBackend PolicyTargetKind = "backend"
)

// PolicyTarget names what a policy attaches to. Name is empty for gateway
// targets and must resolve to a configured route or backend otherwise.
type PolicyTarget struct {
	Kind PolicyTargetKind `yaml:"kind" json:"kind" validate:"required,oneof=gateway route backend"`
	Name string           `yaml:"name,omitempty" json:"name,omitempty"`
}

// JWTConfig holds the JWT validation rules for a target. Signing keys are
// fetched from JWKSURL and cached; signature, issuer, audience, and expiry are
// all verified on every request.
type JWTConfig struct {
	// Issuer is the required iss claim
	Issuer string `yaml:"issuer" json:"issuer" validate:"required"`

	// Audiences lists acceptable aud values; at least one must match
	Audiences []string `yaml:"audiences" json:"audiences" validate:"required,min=1"`

	// JWKSURL is where signing keys are published
	JWKSURL string `yaml:"jwks_url" json:"jwks_url" validate:"required,url"`

	// Required rejects requests without a valid token when true. When false a
	// valid token still populates the request identity but absence is allowed.
	Required bool `yaml:"required" json:"required"`
}

// AuthorizationConfig holds CEL allow/deny rule sets. A request is allowed
// only if at least one allow expression matches and no deny expression
// matches; deny always overrides allow. An authorization policy with no allow
// expressions denies everything it applies to.
type AuthorizationConfig struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// RateLimitKey selects the dimension rate-limit counters are keyed by
type RateLimitKey string

const (
	RateLimitKeyIdentity RateLimitKey = "identity"
	RateLimitKeyRoute    RateLimitKey = "route"
	RateLimitKeyGlobal   RateLimitKey = "global"
)

// RateLimitConfig is a fixed-window request and token budget.
type RateLimitConfig struct {
	// Requests allowed per window; 0 disables the request limit
	Requests int `yaml:"requests,omitempty" json:"requests,omitempty" validate:"gte=0"`

	// WindowSeconds is the window length (default 60)
	WindowSeconds int `yaml:"window_seconds,omitempty" json:"window_seconds,omitempty" validate:"gte=0"`

	// TokensPerWindow caps estimated prompt tokens per window; 0 disables
	TokensPerWindow int `yaml:"tokens_per_window,omitempty" json:"tokens_per_window,omitempty" validate:"gte=0"`

	// Key is identity (default), route, or global
	Key RateLimitKey `yaml:"key,omitempty" json:"key,omitempty" validate:"omitempty,oneof=identity route global"`
}

// ContentConfig holds request content inspection rules.
type ContentConfig struct {
	// RedactPII rewrites detected PII in message content before forwarding
	RedactPII bool `yaml:"redact_pii,omitempty" json:"redact_pii,omitempty"`

	// PIITypes restricts redaction to the listed types (empty means all)
	PIITypes []string `yaml:"pii_types,omitempty" json:"pii_types,omitempty"`

	// RedactSecrets rewrites detected credentials (API keys, tokens, private
	// key material) in message content before forwarding
	RedactSecrets bool `yaml:"redact_secrets,omitempty" json:"redact_secrets,omitempty"`

	// BlockInjection rejects requests whose prompt looks like an injection attempt
	BlockInjection bool `yaml:"block_injection,omitempty" json:"block_injection,omitempty"`

	// MaxPromptBytes rejects requests whose body exceeds this size; 0 disables
	MaxPromptBytes int `yaml:"max_prompt_bytes,omitempty" json:"max_prompt_bytes,omitempty" validate:"gte=0"`
}

// Policy attaches a rule set to a gateway, route, or backend target. Any of
// the rule groups may be nil; per group, the most specific attached policy
// wins (backend over route over gateway).
type Policy struct {
	// Name uniquely identifies the policy within the gateway
	Name string `yaml:"name" json:"name" validate:"required"`

	// Target names what this policy attaches to
	Target PolicyTarget `yaml:"target" json:"target"`

	JWT           *JWTConfig           `yaml:"jwt,omitempty" json:"jwt,omitempty"`
	Authorization *AuthorizationConfig `yaml:"authorization,omitempty" json:"authorization,omitempty"`
	RateLimit     *RateLimitConfig     `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Content       *ContentConfig       `yaml:"content,omitempty" json:"content,omitempty"`
}

// Window returns the rate-limit window length in seconds, defaulting to 60.
func (c *RateLimitConfig) Window() int {
	if c.WindowSeconds <= 0 {
		return 60
	}
	return c.WindowSeconds
}

// KeyKind returns the configured counter key, defaulting to identity.
func (c *RateLimitConfig) KeyKind() RateLimitKey {
	if c.Key == "" {
		return RateLimitKeyIdentity
	}
	return c.Key
}
