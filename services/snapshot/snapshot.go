// Package snapshot compiles a validated gateway configuration into an
// immutable request-path view: matcher, CEL authorization engines, and
// per-target effective policies are all resolved up front, so serving a
// request never parses, compiles, or locks anything.
package snapshot

import (
	"fmt"
	"net/http"
	"time"

	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/authz"
	"github.com/infergate/infergate/services/routing"
)

// EffectivePolicy is the rule set governing one route/backend pair after
// most-specific-wins resolution: per rule group, a backend-attached policy
// beats a route-attached one, which beats a gateway-attached one. Group
// fields are nil when no attached policy configures them.
type EffectivePolicy struct {
	JWT           *models.JWTConfig
	Authorization *models.AuthorizationConfig
	RateLimit     *models.RateLimitConfig
	Content       *models.ContentConfig

	// Authz is the compiled engine for Authorization; nil when no
	// authorization rules apply to this target
	Authz *authz.Engine

	// Source maps rule group (jwt, authorization, rate_limit, content) to
	// the name of the policy that supplied it, for decision logs
	Source map[string]string
}

// RequiresAuth reports whether requests governed by this policy must carry a
// valid token. A JWT group with Required=false still validates presented
// tokens but lets anonymous requests through.
func (e *EffectivePolicy) RequiresAuth() bool {
	return e.JWT != nil && e.JWT.Required
}

// Snapshot is one immutable compiled gateway table. Reloads build a fresh
// snapshot and swap it in atomically; in-flight requests keep reading the
// snapshot they started with, so no request ever observes a half-applied
// configuration.
type Snapshot struct {
	Config   *models.GatewayConfig
	Version  uint64
	LoadedAt time.Time

	matcher   *routing.Matcher
	engines   map[string]*authz.Engine
	effective map[string]*EffectivePolicy
	gateway   *EffectivePolicy
}

// ruleGroups records which policy supplies each rule group at one attachment
// level. The loader rejects duplicate attachments, so first-wins here is
// only a tiebreak for hand-built configs.
type ruleGroups struct {
	jwt     *models.Policy
	authz   *models.Policy
	rate    *models.Policy
	content *models.Policy
}

func (g *ruleGroups) absorb(p *models.Policy) {
	if p.JWT != nil && g.jwt == nil {
		g.jwt = p
	}
	if p.Authorization != nil && g.authz == nil {
		g.authz = p
	}
	if p.RateLimit != nil && g.rate == nil {
		g.rate = p
	}
	if p.Content != nil && g.content == nil {
		g.content = p
	}
}

var noRules ruleGroups

// Build compiles cfg into a snapshot. CEL compilation errors surface here,
// at load time; a snapshot that builds successfully can serve requests
// without ever failing on its own configuration.
func Build(cfg *models.GatewayConfig, version uint64) (*Snapshot, error) {
	env, err := authz.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("authorization environment: %w", err)
	}

	gw := &ruleGroups{}
	routeLevel := make(map[string]*ruleGroups)
	backendLevel := make(map[string]*ruleGroups)
	engines := make(map[string]*authz.Engine)

	for i := range cfg.Policies {
		p := &cfg.Policies[i]
		switch p.Target.Kind {
		case models.PolicyTargetGateway:
			gw.absorb(p)
		case models.PolicyTargetRoute:
			lvl := routeLevel[p.Target.Name]
			if lvl == nil {
				lvl = &ruleGroups{}
				routeLevel[p.Target.Name] = lvl
			}
			lvl.absorb(p)
		case models.PolicyTargetBackend:
			lvl := backendLevel[p.Target.Name]
			if lvl == nil {
				lvl = &ruleGroups{}
				backendLevel[p.Target.Name] = lvl
			}
			lvl.absorb(p)
		}

		if p.Authorization != nil {
			eng, err := authz.Compile(env, p.Authorization)
			if err != nil {
				return nil, fmt.Errorf("policy %q: %w", p.Name, err)
			}
			engines[p.Name] = eng
		}
	}

	s := &Snapshot{
		Config:    cfg,
		Version:   version,
		LoadedAt:  time.Now(),
		matcher:   routing.NewMatcher(cfg.Routes),
		engines:   engines,
		effective: make(map[string]*EffectivePolicy),
	}
	s.gateway = s.resolve(gw)

	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		rl := routeLevel[r.Name]
		if rl == nil {
			rl = &noRules
		}
		s.effective[r.Name] = s.resolve(rl, gw)

		for _, wb := range r.Backends {
			s.addPairPolicy(r.Name, wb.Name, rl, gw, backendLevel)
			if b := cfg.BackendByName(wb.Name); b != nil && b.Fallback != "" {
				s.addPairPolicy(r.Name, b.Fallback, rl, gw, backendLevel)
			}
		}
	}

	return s, nil
}

func (s *Snapshot) addPairPolicy(route, backend string, rl, gw *ruleGroups, backendLevel map[string]*ruleGroups) {
	bl := backendLevel[backend]
	if bl == nil {
		bl = &noRules
	}
	s.effective[route+"|"+backend] = s.resolve(bl, rl, gw)
}

// resolve overlays attachment levels ordered most-specific-first.
func (s *Snapshot) resolve(levels ...*ruleGroups) *EffectivePolicy {
	eff := &EffectivePolicy{Source: make(map[string]string)}
	for _, lvl := range levels {
		if eff.JWT == nil && lvl.jwt != nil {
			eff.JWT = lvl.jwt.JWT
			eff.Source["jwt"] = lvl.jwt.Name
		}
		if eff.Authorization == nil && lvl.authz != nil {
			eff.Authorization = lvl.authz.Authorization
			eff.Authz = s.engines[lvl.authz.Name]
			eff.Source["authorization"] = lvl.authz.Name
		}
		if eff.RateLimit == nil && lvl.rate != nil {
			eff.RateLimit = lvl.rate.RateLimit
			eff.Source["rate_limit"] = lvl.rate.Name
		}
		if eff.Content == nil && lvl.content != nil {
			eff.Content = lvl.content.Content
			eff.Source["content"] = lvl.content.Name
		}
	}
	return eff
}

// MatchRoute resolves the request to a route, or nil when no rule matches.
func (s *Snapshot) MatchRoute(r *http.Request) *models.Route {
	return s.matcher.Match(r)
}

// DrawBackend picks one of the route's backends by weighted-random draw.
func (s *Snapshot) DrawBackend(route *models.Route) *models.Backend {
	return s.Config.BackendByName(s.matcher.PickBackend(route))
}

// Backend returns the named backend, or nil.
func (s *Snapshot) Backend(name string) *models.Backend {
	return s.Config.BackendByName(name)
}

var emptyPolicy = &EffectivePolicy{Source: map[string]string{}}

// GatewayPolicy returns the policy built from gateway-attached rules alone.
// Endpoints the gateway serves itself, rather than proxies, are guarded by
// this policy since no route governs them.
func (s *Snapshot) GatewayPolicy() *EffectivePolicy {
	return s.gateway
}

// EffectiveFor returns the resolved policy for a route/backend pair.
// backendName may be empty for stages that run before a backend is known
// (MCP aggregation resolves the backend from the tool namespace later).
// The result is never nil.
func (s *Snapshot) EffectiveFor(routeName, backendName string) *EffectivePolicy {
	if backendName != "" {
		if eff, ok := s.effective[routeName+"|"+backendName]; ok {
			return eff
		}
	}
	if eff, ok := s.effective[routeName]; ok {
		return eff
	}
	return emptyPolicy
}
