// Package openai adapts OpenAI-shaped chat completion and embedding bodies.
package openai

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/infergate/infergate/services"
	"github.com/infergate/infergate/services/providers"
)

// streamDone is the OpenAI end-of-stream marker payload
var streamDone = []byte("[DONE]")

type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string {
	return "openai"
}

// ParseRequest validates an OpenAI-shaped body and pulls out the model, the
// stream flag and every prompt text segment. Unknown fields are left alone;
// the body is forwarded, not re-marshalled.
func (a *Adapter) ParseRequest(endpoint providers.Endpoint, body []byte) (*providers.ParsedRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, services.ErrEmptyBody
	}
	if !gjson.ValidBytes(body) {
		return nil, services.ErrMalformedJSON
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "model is required", nil)
	}

	req := &providers.ParsedRequest{
		Endpoint: endpoint,
		Model:    model,
	}

	switch endpoint {
	case providers.EndpointChatCompletions:
		msgs := gjson.GetBytes(body, "messages")
		if !msgs.IsArray() || len(msgs.Array()) == 0 {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "messages is required", nil)
		}
		req.Stream = gjson.GetBytes(body, "stream").Bool()
		req.Segments = chatSegments(msgs)
	case providers.EndpointEmbeddings:
		input := gjson.GetBytes(body, "input")
		if !input.Exists() || input.Type == gjson.Null {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "input is required", nil)
		}
		req.Segments = embeddingSegments(input)
	default:
		return nil, fmt.Errorf("openai adapter does not serve endpoint %q", endpoint)
	}

	return req, nil
}

// chatSegments collects prompt text from each message. String content is one
// segment; content-part arrays contribute one segment per text part. Null
// content (tool call messages) is skipped.
func chatSegments(msgs gjson.Result) []providers.Segment {
	var segs []providers.Segment
	for i, msg := range msgs.Array() {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			segs = append(segs, providers.Segment{
				Path: fmt.Sprintf("messages.%d.content", i),
				Text: content.String(),
			})
		case content.IsArray():
			for j, part := range content.Array() {
				if part.Get("type").String() == "text" {
					segs = append(segs, providers.Segment{
						Path: fmt.Sprintf("messages.%d.content.%d.text", i, j),
						Text: part.Get("text").String(),
					})
				}
			}
		}
	}
	return segs
}

// embeddingSegments handles both input forms that carry text. Token-array
// inputs have no text to inspect and yield no segments.
func embeddingSegments(input gjson.Result) []providers.Segment {
	var segs []providers.Segment
	switch {
	case input.Type == gjson.String:
		segs = append(segs, providers.Segment{Path: "input", Text: input.String()})
	case input.IsArray():
		for i, el := range input.Array() {
			if el.Type == gjson.String {
				segs = append(segs, providers.Segment{
					Path: fmt.Sprintf("input.%d", i),
					Text: el.String(),
				})
			}
		}
	}
	return segs
}

func (a *Adapter) RewriteModel(body []byte, model string) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("rewrite model: %w", err)
	}
	return out, nil
}

func (a *Adapter) UpstreamPath(endpoint providers.Endpoint) string {
	switch endpoint {
	case providers.EndpointChatCompletions:
		return "/chat/completions"
	case providers.EndpointEmbeddings:
		return "/embeddings"
	default:
		return string(endpoint)
	}
}

func (a *Adapter) SetAuth(r *http.Request, credential string) {
	if credential != "" {
		r.Header.Set("Authorization", "Bearer "+credential)
	}
}

// ExtractUsage reads the usage object from a completed response body.
func (a *Adapter) ExtractUsage(body []byte) (providers.Usage, bool) {
	u := gjson.GetBytes(body, "usage")
	if !u.IsObject() {
		return providers.Usage{}, false
	}
	usage := providers.Usage{
		PromptTokens:     int(u.Get("prompt_tokens").Int()),
		CompletionTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:      int(u.Get("total_tokens").Int()),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage, true
}

// ExtractStreamUsage reads usage from one SSE data payload. OpenAI sends it
// on the final chunk when stream_options.include_usage is set; intermediate
// chunks carry usage:null.
func (a *Adapter) ExtractStreamUsage(data []byte) (providers.Usage, bool) {
	if a.StreamTerminated(data) || !gjson.ValidBytes(data) {
		return providers.Usage{}, false
	}
	return a.ExtractUsage(data)
}

func (a *Adapter) StreamTerminated(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), streamDone)
}
