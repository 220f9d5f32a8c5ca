package models

// RouteProtocol identifies the protocol a route speaks to its clients
type RouteProtocol string

const (
	// ProtocolOpenAI serves OpenAI-shaped chat/completions and embeddings requests
	ProtocolOpenAI RouteProtocol = "openai"

	// ProtocolMCP serves MCP JSON-RPC over streamable HTTP / SSE
	ProtocolMCP RouteProtocol = "mcp"

	// ProtocolPassthrough relays the body to the backend without translation
	ProtocolPassthrough RouteProtocol = "passthrough"
)

// RouteMatch is the set of predicates a request must satisfy to select a route.
// All configured predicates must match (logical AND). Path matching is
// case-sensitive; header and query matching require exact value equality.
type RouteMatch struct {
	// PathPrefix matches when the request path starts with this string
	PathPrefix string `yaml:"path_prefix" json:"path_prefix"`

	// PathExact matches the request path exactly; takes precedence over PathPrefix
	PathExact string `yaml:"path_exact,omitempty" json:"path_exact,omitempty"`

	// Headers maps header names to required exact values
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Query maps query parameter names to required exact values
	Query map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
}

// WeightedBackend references a backend with a traffic weight. Weights are
// non-negative and normalized to probabilities across the route's backends.
type WeightedBackend struct {
	Name   string `yaml:"name" json:"name" validate:"required"`
	Weight int    `yaml:"weight" json:"weight" validate:"gte=0"`
}

// Route is one resolved routing rule. Rules are evaluated in configuration
// order and the first full match wins; a request matches at most one rule.
type Route struct {
	// Name uniquely identifies the route within the gateway
	Name string `yaml:"name" json:"name" validate:"required"`

	// Match holds the predicates for this rule
	Match RouteMatch `yaml:"match" json:"match"`

	// Backends lists the weighted targets; a single entry means all traffic
	Backends []WeightedBackend `yaml:"backends" json:"backends" validate:"required,min=1,dive"`

	// Protocol selects the client-facing translation for this route
	Protocol RouteProtocol `yaml:"protocol,omitempty" json:"protocol,omitempty"`
}

// TotalWeight returns the sum of backend weights for the route.
func (r *Route) TotalWeight() int {
	total := 0
	for _, b := range r.Backends {
		total += b.Weight
	}
	return total
}
