package models

// GatewayConfig is the resolved configuration document the gateway consumes.
// A control plane (or an operator-maintained file) supplies it fully resolved:
// routes reference backends by name, policies reference routes/backends by
// name, and every reference must resolve at load time. Malformed tables are
// rejected at load, never at request time.
type GatewayConfig struct {
	// Routes are evaluated in order; first full match wins
	Routes []Route `yaml:"routes" json:"routes" validate:"required,min=1,dive"`

	// Backends are the upstream targets routes point at
	Backends []Backend `yaml:"backends" json:"backends" validate:"required,min=1,dive"`

	// Policies attach auth/authorization/rate-limit/content rules to targets
	Policies []Policy `yaml:"policies,omitempty" json:"policies,omitempty" validate:"dive"`
}

// BackendByName returns the named backend, or nil.
func (c *GatewayConfig) BackendByName(name string) *Backend {
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i]
		}
	}
	return nil
}

// RouteByName returns the named route, or nil.
func (c *GatewayConfig) RouteByName(name string) *Route {
	for i := range c.Routes {
		if c.Routes[i].Name == name {
			return &c.Routes[i]
		}
	}
	return nil
}
