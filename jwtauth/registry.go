package jwtauth

import (
	"strings"
	"sync"
	"time"

	"github.com/infergate/infergate/models"
)

// Registry hands out one Validator per distinct JWT policy configuration.
// Validators are kept across config reloads so JWKS caches survive snapshot
// swaps; a reload that keeps the same issuer does not refetch signing keys.
type Registry struct {
	cacheTTL    time.Duration
	httpTimeout time.Duration
	clockSkew   time.Duration

	mu         sync.RWMutex
	validators map[string]*Validator
}

// NewRegistry creates a validator registry with shared cache settings
func NewRegistry(cacheTTL, httpTimeout, clockSkew time.Duration) *Registry {
	return &Registry{
		cacheTTL:    cacheTTL,
		httpTimeout: httpTimeout,
		clockSkew:   clockSkew,
		validators:  make(map[string]*Validator),
	}
}

// For returns the validator for the given JWT policy, creating it on first use
func (r *Registry) For(cfg *models.JWTConfig) *Validator {
	key := cfg.Issuer + "|" + cfg.JWKSURL + "|" + strings.Join(cfg.Audiences, ",")

	r.mu.RLock()
	v, ok := r.validators[key]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok = r.validators[key]; ok {
		return v
	}
	v = NewValidator(Options{
		Issuer:      cfg.Issuer,
		Audiences:   cfg.Audiences,
		JWKSURL:     cfg.JWKSURL,
		CacheTTL:    r.cacheTTL,
		HTTPTimeout: r.httpTimeout,
		ClockSkew:   r.clockSkew,
	})
	r.validators[key] = v
	return v
}
