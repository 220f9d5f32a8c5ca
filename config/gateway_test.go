package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infergate/infergate/models"
)

const validGatewayYAML = `
routes:
  - name: chat
    match:
      path_prefix: /v1/chat/completions
    backends:
      - name: openai-primary
        weight: 80
      - name: openai-secondary
        weight: 20
    protocol: openai
  - name: tools
    match:
      path_prefix: /mcp
    backends:
      - name: github
        weight: 1
    protocol: mcp
backends:
  - name: openai-primary
    kind: llm
    base_url: https://api.openai.com/v1
    credential_env: OPENAI_API_KEY
    fallback: openai-secondary
  - name: openai-secondary
    kind: llm
    base_url: https://eu.api.example.com/v1
    credential_env: OPENAI_API_KEY
  - name: github
    kind: mcp
    base_url: https://mcp.github.example.com
    transport: streamable-http
policies:
  - name: require-auth
    target:
      kind: route
      name: chat
    jwt:
      issuer: https://issuer.example.com
      audiences: [infergate]
      jwks_url: https://issuer.example.com/.well-known/jwks.json
      required: true
    rate_limit:
      requests: 100
      window_seconds: 60
`

func TestParseGatewayConfig(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		cfg, err := ParseGatewayConfig([]byte(validGatewayYAML))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Len(t, cfg.Routes, 2)
		assert.Len(t, cfg.Backends, 3)
		assert.Len(t, cfg.Policies, 1)

		chat := cfg.RouteByName("chat")
		require.NotNil(t, chat)
		assert.Equal(t, models.ProtocolOpenAI, chat.Protocol)
		assert.Equal(t, 100, chat.TotalWeight())

		primary := cfg.BackendByName("openai-primary")
		require.NotNil(t, primary)
		assert.Equal(t, "openai-secondary", primary.Fallback)
		// transport defaulted
		assert.Equal(t, models.TransportHTTP1, primary.Transport)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		doc := validGatewayYAML + "\nlisteners: []\n"
		_, err := ParseGatewayConfig([]byte(doc))
		assert.Error(t, err)
	})

	t.Run("missing protocol defaults to openai", func(t *testing.T) {
		doc := `
routes:
  - name: chat
    match:
      path_prefix: /v1
    backends:
      - name: b1
        weight: 1
backends:
  - name: b1
    kind: llm
    base_url: https://api.example.com/v1
`
		cfg, err := ParseGatewayConfig([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, models.ProtocolOpenAI, cfg.Routes[0].Protocol)
	})
}

func TestParseGatewayConfig_ReferenceErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errMsg string
	}{
		{
			name: "duplicate route name",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
  - name: chat
    match: {path_prefix: /b}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
`,
			errMsg: "duplicate route name",
		},
		{
			name: "duplicate backend name",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
  - {name: b1, kind: llm, base_url: https://api2.example.com/v1}
`,
			errMsg: "duplicate backend name",
		},
		{
			name: "unresolvable backend ref",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: missing, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
`,
			errMsg: "not configured",
		},
		{
			name: "all weights zero",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 0}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
`,
			errMsg: "weight must be positive",
		},
		{
			name: "fallback references itself",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1, fallback: b1}
`,
			errMsg: "fallback must differ",
		},
		{
			name: "fallback kind mismatch",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1, fallback: tools}
  - {name: tools, kind: mcp, base_url: https://mcp.example.com}
`,
			errMsg: "kind",
		},
		{
			name: "mcp route with llm backend",
			doc: `
routes:
  - name: tools
    match: {path_prefix: /mcp}
    backends: [{name: b1, weight: 1}]
    protocol: mcp
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
`,
			errMsg: "mcp route references",
		},
		{
			name: "mcp backend name with underscore",
			doc: `
routes:
  - name: tools
    match: {path_prefix: /mcp}
    backends: [{name: my_server, weight: 1}]
    protocol: mcp
backends:
  - {name: my_server, kind: mcp, base_url: https://mcp.example.com}
`,
			errMsg: "invalid server name",
		},
		{
			name: "policy target route missing",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
policies:
  - name: p1
    target: {kind: route, name: missing}
`,
			errMsg: "not configured",
		},
		{
			name: "gateway policy naming a resource",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
policies:
  - name: p1
    target: {kind: gateway, name: chat}
`,
			errMsg: "must not name a resource",
		},
		{
			name: "empty rate limit",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
policies:
  - name: p1
    target: {kind: route, name: chat}
    rate_limit:
      window_seconds: 60
`,
			errMsg: "rate limit must set",
		},
		{
			name: "same rule group attached twice to one target",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
policies:
  - name: p1
    target: {kind: route, name: chat}
    rate_limit:
      requests: 10
  - name: p2
    target: {kind: route, name: chat}
    rate_limit:
      requests: 20
`,
			errMsg: "already attached by policy",
		},
		{
			name: "unknown pii type",
			doc: `
routes:
  - name: chat
    match: {path_prefix: /a}
    backends: [{name: b1, weight: 1}]
backends:
  - {name: b1, kind: llm, base_url: https://api.example.com/v1}
policies:
  - name: p1
    target: {kind: route, name: chat}
    content:
      redact_pii: true
      pii_types: [email, dna_sequence]
`,
			errMsg: `unknown pii type "dna_sequence"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGatewayConfig([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadGatewayFile(t *testing.T) {
	t.Run("loads from disk", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validGatewayYAML), 0o600))

		cfg, err := LoadGatewayFile(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Routes, 2)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadGatewayFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
