// Package dispatch sends requests to upstream backends. It owns transport
// selection, per-backend timeouts, retries, failover, and streaming relay.
package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services"
	"github.com/infergate/infergate/services/providers"
)

// DefaultTimeout caps upstream calls for backends that do not configure one.
const DefaultTimeout = 60 * time.Second

// Call describes one upstream dispatch. The body is the inbound body after
// content inspection; the dispatcher rewrites the model per backend, so
// failover to a backend with a different configured model stays correct.
type Call struct {
	Backend  *models.Backend
	Fallback *models.Backend // nil when none configured
	Adapter  providers.Adapter
	Endpoint providers.Endpoint
	Method   string // defaults to POST
	Body     []byte
	Header   http.Header // inbound headers; only a small allowlist is forwarded
}

// Result reports what an upstream call did.
type Result struct {
	// Backend is the name of the backend that served the call
	Backend    string
	StatusCode int
	Header     http.Header

	// Body is set for buffered (non-relayed) responses
	Body []byte

	Usage      providers.Usage
	UsageKnown bool

	// FailedOver is true when the fallback backend served the call
	FailedOver bool

	// Relayed is true once response bytes have been written to the client;
	// the caller can no longer change the response
	Relayed bool

	// Streamed is true when the response was relayed chunk-by-chunk
	Streamed bool

	// Aborted is true when the client went away mid-relay
	Aborted bool

	Latency time.Duration
}

type Dispatcher struct {
	logger *zap.Logger

	h1  *http.Client
	h2  *http.Client
	h2c *http.Client
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		h1: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		h2: &http.Client{
			Transport: &http2.Transport{
				ReadIdleTimeout: 30 * time.Second,
			},
		},
		h2c: &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
	}
}

// Do executes a buffered upstream call: retries against the backend, then a
// single failover to the fallback. Upstream 4xx responses are returned as
// results, not errors; the caller relays them.
func (d *Dispatcher) Do(ctx context.Context, call *Call) (*Result, error) {
	res, err := d.doBackend(ctx, call.Backend, call)
	if err != nil && call.Fallback != nil && ctx.Err() == nil {
		d.logger.Warn("failing over",
			zap.String("backend", call.Backend.Name),
			zap.String("fallback", call.Fallback.Name),
			zap.Error(err))
		res, err = d.doBackend(ctx, call.Fallback, call)
		if err == nil {
			res.FailedOver = true
		}
	}
	return res, err
}

func (d *Dispatcher) doBackend(ctx context.Context, b *models.Backend, call *Call) (*Result, error) {
	start := time.Now()
	body, err := d.backendBody(b, call)
	if err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, b.Timeout(DefaultTimeout))
	defer cancel()

	client := d.clientFor(b)
	var result *Result
	err = retry.Do(func() error {
		req, err := d.buildRequest(actx, b, call, body)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("upstream status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		result = &Result{
			Backend:    b.Name,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}
		if resp.StatusCode < 300 {
			result.Usage, result.UsageKnown = call.Adapter.ExtractUsage(respBody)
		}
		return nil
	}, d.retryOptions(actx, b)...)
	if err != nil {
		return nil, d.classify(ctx, b, err)
	}
	result.Latency = time.Since(start)
	return result, nil
}

// Stream opens an upstream call and relays the response to w. Event streams
// are relayed chunk-by-chunk, never fully buffered; anything else (upstream
// 4xx, a backend that ignored the stream flag) is relayed buffered. A nil
// Result with an error means nothing was written and the caller still owns
// the response; a non-nil Result with an error means the relay was cut short
// and can only be recorded.
func (d *Dispatcher) Stream(ctx context.Context, w http.ResponseWriter, call *Call) (*Result, error) {
	res, err := d.streamBackend(ctx, w, call.Backend, call)
	if err != nil && res == nil && call.Fallback != nil && ctx.Err() == nil {
		d.logger.Warn("failing over",
			zap.String("backend", call.Backend.Name),
			zap.String("fallback", call.Fallback.Name),
			zap.Error(err))
		res, err = d.streamBackend(ctx, w, call.Fallback, call)
		if res != nil {
			res.FailedOver = true
		}
	}
	return res, err
}

func (d *Dispatcher) streamBackend(ctx context.Context, w http.ResponseWriter, b *models.Backend, call *Call) (*Result, error) {
	start := time.Now()
	body, err := d.backendBody(b, call)
	if err != nil {
		return nil, err
	}

	// the timeout context must outlive the relay, not just the connect
	actx, cancel := context.WithTimeout(ctx, b.Timeout(DefaultTimeout))
	defer cancel()

	resp, err := d.openStream(actx, b, call, body)
	if err != nil {
		return nil, d.classify(ctx, b, err)
	}
	defer resp.Body.Close()

	res := &Result{
		Backend:    b.Name,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}

	if !isEventStream(resp.Header) {
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, d.classify(ctx, b, err)
		}
		if resp.StatusCode < 300 {
			res.Usage, res.UsageKnown = call.Adapter.ExtractUsage(respBody)
		}
		CopyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		res.Relayed = true
		if _, err := w.Write(respBody); err != nil {
			res.Aborted = true
		}
		res.Body = respBody
		res.Latency = time.Since(start)
		return res, nil
	}

	CopyHeaders(w.Header(), resp.Header)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)
	res.Relayed = true
	res.Streamed = true

	flusher, canFlush := w.(http.Flusher)
	scanner := newSSEScanner(call.Adapter)
	buf := make([]byte, 32*1024)
	var readErr error
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			scanner.Feed(chunk)
			if _, werr := w.Write(chunk); werr != nil {
				res.Aborted = true
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				readErr = rerr
			}
			break
		}
	}

	res.Usage, res.UsageKnown = scanner.Usage()
	res.Latency = time.Since(start)
	if readErr != nil && !res.Aborted {
		if ctx.Err() != nil {
			res.Aborted = true
			return res, nil
		}
		errType := services.ErrorTypeUpstream
		if errors.Is(readErr, context.DeadlineExceeded) {
			errType = services.ErrorTypeUpstreamTimeout
		}
		return res, services.WrapError(errType,
			fmt.Sprintf("stream from backend %s interrupted", b.Name), readErr)
	}
	return res, nil
}

// openStream sends the request and verifies the status, retrying 5xx and
// connection failures. The response body is left open for the relay.
func (d *Dispatcher) openStream(ctx context.Context, b *models.Backend, call *Call, body []byte) (*http.Response, error) {
	client := d.clientFor(b)
	var resp *http.Response
	err := retry.Do(func() error {
		req, err := d.buildRequest(ctx, b, call, body)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		r, err := client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			snippet, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			return fmt.Errorf("upstream status %d: %s", r.StatusCode, bytes.TrimSpace(snippet))
		}
		resp = r
		return nil
	}, d.retryOptions(ctx, b)...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Dispatcher) retryOptions(ctx context.Context, b *models.Backend) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(b.RetryAttempts())),
		retry.Delay(b.RetryBackoff()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("retrying backend",
				zap.String("backend", b.Name),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	}
}

// backendBody rewrites the model for the backend about to be tried.
func (d *Dispatcher) backendBody(b *models.Backend, call *Call) ([]byte, error) {
	if b.Model == "" || len(call.Body) == 0 {
		return call.Body, nil
	}
	body, err := call.Adapter.RewriteModel(call.Body, b.Model)
	if err != nil {
		return nil, services.WrapInternal("rewrite model for backend "+b.Name, err)
	}
	return body, nil
}

func (d *Dispatcher) buildRequest(ctx context.Context, b *models.Backend, call *Call, body []byte) (*http.Request, error) {
	method := call.Method
	if method == "" {
		method = http.MethodPost
	}
	url := strings.TrimSuffix(b.BaseURL, "/") + call.Adapter.UpstreamPath(call.Endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if ct := call.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	} else if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept := call.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	// the inbound Authorization header is the gateway's own auth; upstream
	// credentials come from the environment only
	call.Adapter.SetAuth(req, credential(b))
	return req, nil
}

func credential(b *models.Backend) string {
	if b.CredentialEnv == "" {
		return ""
	}
	return os.Getenv(b.CredentialEnv)
}

// classify maps transport failures onto the domain error taxonomy. A dead
// client propagates its context error untouched so callers can tell an
// abort from an upstream fault.
func (d *Dispatcher) classify(parent context.Context, b *models.Backend, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.WrapError(services.ErrorTypeUpstreamTimeout,
			fmt.Sprintf("backend %s timed out", b.Name), err)
	}
	return services.WrapUpstream(fmt.Sprintf("backend %s unavailable", b.Name), err)
}

func (d *Dispatcher) clientFor(b *models.Backend) *http.Client {
	if b.Transport == models.TransportHTTP2 {
		if strings.HasPrefix(b.BaseURL, "http://") {
			return d.h2c
		}
		return d.h2
	}
	return d.h1
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

// hop-by-hop headers are connection-scoped and never relayed
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// CopyHeaders relays upstream response headers, dropping hop-by-hop headers
// and Content-Length, which the server recomputes.
func CopyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop || k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
