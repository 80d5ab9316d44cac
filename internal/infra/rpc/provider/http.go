package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProvider implements Provider for REST and JSON-RPC over HTTP.
type HTTPProvider struct {
	*BaseProvider

	endpoint   string
	httpClient *http.Client
	headers    map[string]string
	query      url.Values
}

// HTTPOption customizes an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHeader sets a header on every request (e.g. an API key header).
func WithHeader(key, value string) HTTPOption {
	return func(p *HTTPProvider) {
		p.headers[key] = value
	}
}

// WithQueryParam adds a query parameter to every REST request.
func WithQueryParam(key, value string) HTTPOption {
	return func(p *HTTPProvider) {
		p.query.Set(key, value)
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		p.httpClient = c
	}
}

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		BaseProvider: NewBaseProvider(name),
		endpoint:     strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(map[string]string),
		query:   make(url.Values),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Endpoint returns the base URL.
func (p *HTTPProvider) Endpoint() string {
	return p.endpoint
}

// Execute performs a REST or JSON-RPC operation and returns the raw JSON result.
func (p *HTTPProvider) Execute(ctx context.Context, op Operation) (json.RawMessage, error) {
	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("%s %s, retry after %v: %w",
			p.Name, status, p.Monitor.GetRetryAfter().Round(time.Second), ErrThrottled)
	}

	if op.IsREST {
		return p.executeREST(ctx, op)
	}
	return p.executeJSONRPC(ctx, op)
}

func (p *HTTPProvider) executeREST(ctx context.Context, op Operation) (json.RawMessage, error) {
	method := op.RESTMethod
	if method == "" {
		method = http.MethodGet
	}

	target := p.endpoint
	if path := strings.TrimLeft(op.Name, "/"); path != "" {
		target += "/" + path
	}
	q := make(url.Values)
	for k, v := range p.query {
		q[k] = v
	}
	for k, v := range op.Query {
		q[k] = v
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if op.Params != nil && method != http.MethodGet {
		data, err := json.Marshal(op.Params)
		if err != nil {
			p.recordFailure()
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return p.do(req)
}

func (p *HTTPProvider) executeJSONRPC(ctx context.Context, op Operation) (json.RawMessage, error) {
	reqBody := map[string]any{
		"method": op.Name,
		"id":     1,
	}
	params := op.Params
	if params == nil {
		params = []any{}
	}
	reqBody["params"] = params
	if op.JSONRPCVersion != "1.0" {
		reqBody["jsonrpc"] = "2.0"
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			p.Monitor.RecordThrottle(429, "")
		}
		return nil, rpcResp.Error
	}
	if len(rpcResp.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return rpcResp.Result, nil
}

// do sends req and returns the body of a 2xx JSON response.
func (p *HTTPProvider) do(req *http.Request) (json.RawMessage, error) {
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("%s request: %w", p.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		p.Monitor.RecordThrottle(429, resp.Header.Get("Retry-After"))
		p.recordFailure()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}

	case resp.StatusCode == http.StatusForbidden:
		p.Monitor.RecordThrottle(403, "")
		p.recordFailure()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		p.recordFailure()
		if p.Monitor.DetectThrottlePattern(string(body)) {
			p.Monitor.RecordThrottle(429, "")
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	if !json.Valid(body) {
		p.recordFailure()
		return nil, fmt.Errorf("%s returned invalid json: %s", p.Name, truncate(string(body), 128))
	}

	p.recordSuccess(time.Since(start))
	return json.RawMessage(body), nil
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
