// Package integration holds the adapters that talk to external systems:
// the VCS host, the issue tracker, and the CI log sources.
//
// Adapters never know whether they are live. They build a Request and hand
// it to a Transport; the network transport performs the HTTP call, the echo
// transport returns a synthetic result. Dry-run is a choice of transport.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/model"
)

const defaultHTTPTimeout = 30 * time.Second

// Request describes one external call.
type Request struct {
	System string // github, jira
	Op     string // create_pull_request, add_comment, ...
	Method string
	Path   string
	Body   any

	// Echo is what a dry-run transport returns for this call.
	Echo map[string]any
}

// Transport performs a Request and returns the decoded response.
type Transport interface {
	Do(ctx context.Context, req Request) (map[string]any, error)
}

// NetworkTransport calls a JSON REST API over HTTP.
type NetworkTransport struct {
	baseURL   string
	authorize func(r *http.Request)
	headers   map[string]string
	client    *http.Client
}

type NetworkOption func(*NetworkTransport)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) NetworkOption {
	return func(t *NetworkTransport) { t.client = c }
}

func NewNetworkTransport(baseURL string, authorize func(r *http.Request), headers map[string]string, opts ...NetworkOption) *NetworkTransport {
	t := &NetworkTransport{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authorize: authorize,
		headers:   headers,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *NetworkTransport) Do(ctx context.Context, req Request) (map[string]any, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &model.AdapterError{System: req.System, Op: req.Op, Err: fmt.Errorf("encoding request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, body)
	if err != nil {
		return nil, &model.AdapterError{System: req.System, Op: req.Op, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if t.authorize != nil {
		t.authorize(httpReq)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &model.AdapterError{System: req.System, Op: req.Op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &model.AdapterError{System: req.System, Op: req.Op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	slog.DebugContext(ctx, "external call completed",
		"system", req.System,
		"op", req.Op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.AdapterError{
			System:     req.System,
			Op:         req.Op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(logger.Truncate(strings.TrimSpace(string(raw)), 300)),
		}
	}

	return decodeResponse(raw)
}

// decodeResponse turns a JSON body into a result map. Arrays land under
// "items"; an empty body yields an empty map.
func decodeResponse(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	switch out := v.(type) {
	case map[string]any:
		return out, nil
	case []any:
		return map[string]any{"items": out}, nil
	default:
		return map[string]any{"value": out}, nil
	}
}

// EchoTransport performs no I/O. Each call returns the request's Echo map
// with dry_run set, and is remembered for inspection.
type EchoTransport struct {
	mu    sync.Mutex
	calls []Request
}

func NewEchoTransport() *EchoTransport {
	return &EchoTransport{}
}

func (t *EchoTransport) Do(ctx context.Context, req Request) (map[string]any, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.mu.Unlock()

	slog.InfoContext(ctx, "dry run: external call skipped",
		"system", req.System,
		"op", req.Op,
		"method", req.Method,
		"path", req.Path)

	out := make(map[string]any, len(req.Echo)+1)
	for k, v := range req.Echo {
		out[k] = v
	}
	out["dry_run"] = true
	return out, nil
}

// Calls returns the requests seen so far.
func (t *EchoTransport) Calls() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Request(nil), t.calls...)
}

// Ops returns "system.op" for every call seen so far, in order.
func (t *EchoTransport) Ops() []string {
	calls := t.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.System + "." + c.Op
	}
	return ops
}
