package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chainscan/internal/infra/rpc/provider"
)

// MockProvider implements provider.Provider for client tests
type MockProvider struct {
	mu        sync.Mutex
	name      string
	err       error
	available bool
	result    string
	callCount int
}

func newMock(name string, err error) *MockProvider {
	return &MockProvider{name: name, err: err, available: true, result: `"` + name + `"`}
}

func (m *MockProvider) GetName() string { return m.name }

func (m *MockProvider) GetHealth() provider.HealthStatus {
	return provider.HealthStatus{Available: m.available}
}

func (m *MockProvider) IsAvailable() bool { return m.available }

func (m *MockProvider) Close() error { return nil }

func (m *MockProvider) Execute(ctx context.Context, op provider.Operation) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return json.RawMessage(m.result), nil
}

func (m *MockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

var testRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestClient_FailoverOrder(t *testing.T) {
	primary := newMock("primary", &provider.HTTPError{StatusCode: 429})
	secondary := newMock("secondary", nil)

	c := NewClient("eth", testRetry, primary, secondary)
	raw, err := c.Execute(context.Background(), NewHTTPOperation("eth_blockNumber"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `"secondary"` {
		t.Errorf("expected secondary result, got %s", raw)
	}
	if primary.calls() != 1 {
		t.Errorf("expected primary to be tried once, got %d", primary.calls())
	}
}

func TestClient_UnavailableProviderTriedLast(t *testing.T) {
	parked := newMock("parked", nil)
	parked.available = false
	healthy := newMock("healthy", nil)

	c := NewClient("eth", testRetry, parked, healthy)
	raw, err := c.Execute(context.Background(), NewHTTPOperation("eth_blockNumber"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `"healthy"` {
		t.Errorf("expected healthy result, got %s", raw)
	}
	if parked.calls() != 0 {
		t.Errorf("expected parked provider untouched, got %d calls", parked.calls())
	}
}

func TestClient_StrictPropagatesError(t *testing.T) {
	fatal := &provider.HTTPError{StatusCode: 400, Body: "bad address"}
	c := NewClient("eth", testRetry, newMock("only", fatal))

	_, err := c.Execute(context.Background(), NewHTTPOperation("eth_getBalance", "0x0", "latest"))
	var httpErr *provider.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 400 {
		t.Errorf("expected 400, got %d", httpErr.StatusCode)
	}
}

func TestClient_ResilientCapsTotalCalls(t *testing.T) {
	transient := errors.New("connection reset by peer")
	a := newMock("a", transient)
	b := newMock("b", transient)

	c := NewClient("bsv", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, a, b)
	raw, ok := c.ExecuteResilient(context.Background(), NewGETOperation("/addr/tx", nil))
	if ok {
		t.Fatalf("expected resilient call to report failure, got %s", raw)
	}
	if raw != nil {
		t.Errorf("expected nil result, got %s", raw)
	}
	if total := a.calls() + b.calls(); total != 5 {
		t.Errorf("expected exactly 5 upstream calls, got %d", total)
	}
}

func TestClient_ResilientSucceeds(t *testing.T) {
	c := NewClient("bsv", testRetry, newMock("a", nil))
	raw, ok := c.ExecuteResilient(context.Background(), NewGETOperation("/addr/tx", nil))
	if !ok {
		t.Fatal("expected success")
	}
	if string(raw) != `"a"` {
		t.Errorf("unexpected result %s", raw)
	}
}

func TestClient_ResilientStopsOnCancel(t *testing.T) {
	a := newMock("a", errors.New("timeout"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient("bsv", testRetry, a)
	if _, ok := c.ExecuteResilient(ctx, NewGETOperation("/x", nil)); ok {
		t.Fatal("expected failure on cancelled context")
	}
	if a.calls() > 1 {
		t.Errorf("expected at most one call after cancel, got %d", a.calls())
	}
}
