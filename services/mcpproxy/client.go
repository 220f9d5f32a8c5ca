package mcpproxy

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/infergate/infergate/models"
)

// DefaultTimeout bounds calls to tool servers that do not configure their own.
const DefaultTimeout = 30 * time.Second

const (
	gatewayName    = "infergate"
	gatewayVersion = "1.0.0"
)

// ToolClient is one live session against an upstream MCP server.
type ToolClient interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// DialFunc opens a ToolClient for one MCP backend. Tests inject fakes here.
type DialFunc func(b *models.Backend) ToolClient

type pooledClient struct {
	key    string
	client ToolClient
}

// ClientPool holds one session per MCP backend name. Sessions survive across
// requests; a configuration reload that points a backend name at a different
// URL or transport replaces the session on next use.
type ClientPool struct {
	logger *zap.Logger
	dial   DialFunc

	mu      sync.Mutex
	clients map[string]*pooledClient
}

// NewClientPool creates a pool. A nil dial uses the real MCP client.
func NewClientPool(logger *zap.Logger, dial DialFunc) *ClientPool {
	p := &ClientPool{
		logger:  logger,
		dial:    dial,
		clients: make(map[string]*pooledClient),
	}
	if p.dial == nil {
		p.dial = func(b *models.Backend) ToolClient {
			return newUpstreamClient(b, logger)
		}
	}
	return p
}

// For returns the session for b, dialing on first use.
func (p *ClientPool) For(b *models.Backend) ToolClient {
	key := string(b.Transport) + "|" + b.BaseURL
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[b.Name]; ok {
		if pc.key == key {
			return pc.client
		}
		p.logger.Info("tool server address changed, replacing session",
			zap.String("backend", b.Name))
		if err := pc.client.Close(); err != nil {
			p.logger.Warn("closing stale tool server session",
				zap.String("backend", b.Name), zap.Error(err))
		}
	}

	pc := &pooledClient{key: key, client: p.dial(b)}
	p.clients[b.Name] = pc
	return pc.client
}

// Close shuts down every pooled session.
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, pc := range p.clients {
		if err := pc.client.Close(); err != nil {
			p.logger.Warn("closing tool server session",
				zap.String("backend", name), zap.Error(err))
		}
	}
	p.clients = make(map[string]*pooledClient)
}

// upstreamClient lazily connects and initializes an MCP session, and drops it
// on any call failure so the next call re-handshakes from scratch.
type upstreamClient struct {
	name      string
	baseURL   string
	transport models.Transport
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	session *client.Client
	cancel  context.CancelFunc
}

func newUpstreamClient(b *models.Backend, logger *zap.Logger) *upstreamClient {
	return &upstreamClient{
		name:      b.Name,
		baseURL:   b.BaseURL,
		transport: b.Transport,
		timeout:   b.Timeout(DefaultTimeout),
		logger:    logger,
	}
}

func (u *upstreamClient) ensure(ctx context.Context) (*client.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session != nil {
		return u.session, nil
	}

	c, err := u.connect(ctx)
	if err != nil {
		return nil, err
	}
	u.session = c
	return c, nil
}

func (u *upstreamClient) connect(ctx context.Context) (*client.Client, error) {
	var c *client.Client
	var err error
	switch u.transport {
	case models.TransportSSE:
		c, err = client.NewSSEMCPClient(u.baseURL)
	default:
		c, err = client.NewStreamableHttpClient(u.baseURL)
	}
	if err != nil {
		return nil, err
	}

	// The session outlives the request that opened it: SSE listeners keep
	// reading between calls, so the stream gets its own context and only
	// the handshake is bounded here.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := c.Start(sctx); err != nil {
		cancel()
		c.Close()
		return nil, err
	}

	hctx, hcancel := context.WithTimeout(sctx, u.timeout)
	defer hcancel()

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: gatewayName, Version: gatewayVersion}
	if _, err := c.Initialize(hctx, initReq); err != nil {
		cancel()
		c.Close()
		return nil, err
	}

	u.cancel = cancel
	u.logger.Info("tool server session established",
		zap.String("backend", u.name), zap.String("url", u.baseURL))
	return c, nil
}

// reset drops the session if it is still the one that failed. A concurrent
// caller may already have replaced it.
func (u *upstreamClient) reset(c *client.Client) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session != c {
		return
	}
	u.session = nil
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	c.Close()
	u.logger.Debug("tool server session reset", zap.String("backend", u.name))
}

func (u *upstreamClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c, err := u.ensure(ctx)
	if err != nil {
		return nil, err
	}

	var tools []mcp.Tool
	var cursor mcp.Cursor
	for {
		var req mcp.ListToolsRequest
		req.Params.Cursor = cursor
		res, err := c.ListTools(ctx, req)
		if err != nil {
			u.reset(c)
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return tools, nil
}

func (u *upstreamClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c, err := u.ensure(ctx)
	if err != nil {
		return nil, err
	}

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		u.reset(c)
		return nil, err
	}
	return res, nil
}

func (u *upstreamClient) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return nil
	}
	err := u.session.Close()
	u.session = nil
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	return err
}
