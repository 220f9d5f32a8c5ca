package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/infergate/infergate/internal/prompt"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/utils"
)

// LoadGatewayFile reads, parses and validates the gateway table file.
// Every error here is a load-time rejection; the request path only ever
// sees tables that passed all checks.
func LoadGatewayFile(path string) (*models.GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateway config: %w", err)
	}
	return ParseGatewayConfig(data)
}

// ParseGatewayConfig parses and validates a gateway table document.
func ParseGatewayConfig(data []byte) (*models.GatewayConfig, error) {
	var cfg models.GatewayConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}

	applyDefaults(&cfg)

	if err := utils.ValidateStruct(&cfg); err != nil {
		if fields := utils.GetValidationFields(err); fields != nil {
			return nil, fmt.Errorf("invalid gateway config: %v", fields)
		}
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if err := validateReferences(&cfg); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills omitted enum fields with their documented defaults
func applyDefaults(cfg *models.GatewayConfig) {
	for i := range cfg.Routes {
		if cfg.Routes[i].Protocol == "" {
			cfg.Routes[i].Protocol = models.ProtocolOpenAI
		}
	}
	for i := range cfg.Backends {
		if cfg.Backends[i].Transport == "" {
			cfg.Backends[i].Transport = models.TransportHTTP1
		}
	}
}

// validateReferences checks the cross-reference invariants that struct tags
// cannot express: name uniqueness, resolvable refs, weight sums, and
// protocol/kind agreement.
func validateReferences(cfg *models.GatewayConfig) error {
	backends := make(map[string]*models.Backend, len(cfg.Backends))
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if err := utils.ValidateRefName(b.Name, "backend"); err != nil {
			return err
		}
		if _, dup := backends[b.Name]; dup {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		if b.Kind == models.BackendKindMCP {
			// MCP backend names double as tool namespaces
			if err := utils.ValidateServerName(b.Name); err != nil {
				return err
			}
		}
		backends[b.Name] = b
	}

	for _, b := range cfg.Backends {
		if b.Fallback == "" {
			continue
		}
		if b.Fallback == b.Name {
			return fmt.Errorf("backend %q: fallback must differ from the backend itself", b.Name)
		}
		fb, ok := backends[b.Fallback]
		if !ok {
			return fmt.Errorf("backend %q: fallback %q is not a configured backend", b.Name, b.Fallback)
		}
		if fb.Kind != b.Kind {
			return fmt.Errorf("backend %q: fallback %q has kind %s, want %s", b.Name, b.Fallback, fb.Kind, b.Kind)
		}
	}

	routes := make(map[string]struct{}, len(cfg.Routes))
	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		if err := utils.ValidateRefName(r.Name, "route"); err != nil {
			return err
		}
		if _, dup := routes[r.Name]; dup {
			return fmt.Errorf("duplicate route name %q", r.Name)
		}
		routes[r.Name] = struct{}{}

		if r.TotalWeight() <= 0 {
			return fmt.Errorf("route %q: at least one backend weight must be positive", r.Name)
		}
		for _, wb := range r.Backends {
			b, ok := backends[wb.Name]
			if !ok {
				return fmt.Errorf("route %q: backend %q is not configured", r.Name, wb.Name)
			}
			if err := checkProtocolKind(r, b); err != nil {
				return err
			}
		}
	}

	policies := make(map[string]struct{}, len(cfg.Policies))
	attached := make(map[string]string)
	for i := range cfg.Policies {
		p := &cfg.Policies[i]
		if err := utils.ValidateRefName(p.Name, "policy"); err != nil {
			return err
		}
		if _, dup := policies[p.Name]; dup {
			return fmt.Errorf("duplicate policy name %q", p.Name)
		}
		policies[p.Name] = struct{}{}

		switch p.Target.Kind {
		case models.PolicyTargetGateway:
			if p.Target.Name != "" {
				return fmt.Errorf("policy %q: gateway target must not name a resource", p.Name)
			}
		case models.PolicyTargetRoute:
			if _, ok := routes[p.Target.Name]; !ok {
				return fmt.Errorf("policy %q: route %q is not configured", p.Name, p.Target.Name)
			}
		case models.PolicyTargetBackend:
			if _, ok := backends[p.Target.Name]; !ok {
				return fmt.Errorf("policy %q: backend %q is not configured", p.Name, p.Target.Name)
			}
		}

		// two policies attaching the same rule group to the same target would
		// make resolution order-dependent, so it is rejected outright
		for _, g := range []struct {
			name string
			set  bool
		}{
			{"jwt", p.JWT != nil},
			{"authorization", p.Authorization != nil},
			{"rate_limit", p.RateLimit != nil},
			{"content", p.Content != nil},
		} {
			if !g.set {
				continue
			}
			key := string(p.Target.Kind) + "/" + p.Target.Name + "/" + g.name
			if prev, ok := attached[key]; ok {
				return fmt.Errorf("policy %q: %s rules for this target already attached by policy %q", p.Name, g.name, prev)
			}
			attached[key] = p.Name
		}

		if p.RateLimit != nil && p.RateLimit.Requests == 0 && p.RateLimit.TokensPerWindow == 0 {
			return fmt.Errorf("policy %q: rate limit must set requests or tokens_per_window", p.Name)
		}

		if p.Content != nil {
			for _, typ := range p.Content.PIITypes {
				if !prompt.IsKnownPIIType(typ) {
					return fmt.Errorf("policy %q: unknown pii type %q", p.Name, typ)
				}
			}
		}
	}

	return nil
}

// checkProtocolKind rejects routes whose protocol cannot be served by a
// referenced backend's kind.
func checkProtocolKind(r *models.Route, b *models.Backend) error {
	switch r.Protocol {
	case models.ProtocolMCP:
		if b.Kind != models.BackendKindMCP {
			return fmt.Errorf("route %q: mcp route references %s backend %q", r.Name, b.Kind, b.Name)
		}
	case models.ProtocolOpenAI:
		if b.Kind != models.BackendKindLLM {
			return fmt.Errorf("route %q: openai route references %s backend %q", r.Name, b.Kind, b.Name)
		}
	}
	return nil
}
