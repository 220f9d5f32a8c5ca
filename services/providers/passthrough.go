package providers

import "net/http"

// Passthrough forwards bodies untouched for routes whose payloads the
// gateway does not interpret. No model rewrite, no usage extraction.
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Name() string {
	return "passthrough"
}

// ParseRequest accepts any body, including an empty one.
func (p *Passthrough) ParseRequest(endpoint Endpoint, body []byte) (*ParsedRequest, error) {
	return &ParsedRequest{Endpoint: endpoint}, nil
}

func (p *Passthrough) RewriteModel(body []byte, model string) ([]byte, error) {
	return body, nil
}

// UpstreamPath forwards the inbound path as-is.
func (p *Passthrough) UpstreamPath(endpoint Endpoint) string {
	return string(endpoint)
}

func (p *Passthrough) SetAuth(r *http.Request, credential string) {
	if credential != "" {
		r.Header.Set("Authorization", "Bearer "+credential)
	}
}

func (p *Passthrough) ExtractUsage(body []byte) (Usage, bool) {
	return Usage{}, false
}

func (p *Passthrough) ExtractStreamUsage(data []byte) (Usage, bool) {
	return Usage{}, false
}

func (p *Passthrough) StreamTerminated(data []byte) bool {
	return false
}
