// Package providers adapts inbound protocol bodies to the upstream providers
// behind each backend. Adapters work on the raw JSON body with gjson/sjson so
// fields the gateway does not understand pass through untouched.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/infergate/infergate/models"
)

var (
	// ErrProtocolNotSupported is returned when no adapter is registered for
	// a route protocol
	ErrProtocolNotSupported = errors.New("protocol not supported")

	// ErrAdapterAlreadyRegistered is returned when a protocol is registered twice
	ErrAdapterAlreadyRegistered = errors.New("adapter already registered")
)

// Endpoint identifies the inbound surface a request arrived on. For the
// passthrough protocol it carries the raw request path.
type Endpoint string

const (
	EndpointChatCompletions Endpoint = "chat.completions"
	EndpointEmbeddings      Endpoint = "embeddings"
)

// Usage holds token counts reported by an upstream provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Segment is one piece of prompt text inside a request body, addressed by
// its gjson/sjson path so a rewritten version can be spliced back in place.
type Segment struct {
	Path string
	Text string
}

// ParsedRequest is the adapter's view of an inbound body: just the fields
// the policy pipeline needs. The raw body stays with the caller.
type ParsedRequest struct {
	Endpoint Endpoint
	Model    string
	Stream   bool
	Segments []Segment
}

// PromptText joins every prompt segment, newline separated. Used for token
// estimation.
func (p *ParsedRequest) PromptText() string {
	var b strings.Builder
	for i, seg := range p.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Adapter translates between one inbound protocol and its upstream form.
type Adapter interface {
	// Name returns the protocol name the adapter serves
	Name() string

	// ParseRequest validates an inbound body and extracts the fields the
	// policy pipeline needs
	ParseRequest(endpoint Endpoint, body []byte) (*ParsedRequest, error)

	// RewriteModel forces the backend's configured model into the body
	RewriteModel(body []byte, model string) ([]byte, error)

	// UpstreamPath maps an inbound endpoint to the path appended to the
	// backend base URL
	UpstreamPath(endpoint Endpoint) string

	// SetAuth attaches provider credentials to an upstream request
	SetAuth(r *http.Request, credential string)

	// ExtractUsage reads token counts from a non-streaming response body
	ExtractUsage(body []byte) (Usage, bool)

	// ExtractStreamUsage reads token counts from one streamed event payload
	ExtractStreamUsage(data []byte) (Usage, bool)

	// StreamTerminated reports whether an event payload marks the logical
	// end of the stream
	StreamTerminated(data []byte) bool
}

// SpliceSegments writes rewritten segment text back into the body at each
// segment's original path.
func SpliceSegments(body []byte, segments []Segment) ([]byte, error) {
	out := body
	var err error
	for _, seg := range segments {
		out, err = sjson.SetBytes(out, seg.Path, seg.Text)
		if err != nil {
			return nil, fmt.Errorf("splice segment %s: %w", seg.Path, err)
		}
	}
	return out, nil
}

// Registry resolves the adapter for a route protocol. It is populated once
// at startup and read-only afterwards.
type Registry struct {
	adapters map[models.RouteProtocol]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.RouteProtocol]Adapter)}
}

func (r *Registry) Register(protocol models.RouteProtocol, a Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}
	if _, exists := r.adapters[protocol]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterAlreadyRegistered, protocol)
	}
	r.adapters[protocol] = a
	return nil
}

// ForProtocol returns the adapter serving a route protocol.
func (r *Registry) ForProtocol(protocol models.RouteProtocol) (Adapter, error) {
	a, ok := r.adapters[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotSupported, protocol)
	}
	return a, nil
}
