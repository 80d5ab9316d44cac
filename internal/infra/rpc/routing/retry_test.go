package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/chainscan/internal/infra/rpc/provider"
)

// MockProvider implements provider.Provider for routing tests
type MockProvider struct {
	name      string
	errs      []error
	callCount int
}

func (m *MockProvider) GetName() string { return m.name }

func (m *MockProvider) GetHealth() provider.HealthStatus {
	return provider.HealthStatus{Available: true}
}

func (m *MockProvider) IsAvailable() bool { return true }

func (m *MockProvider) Close() error { return nil }

func (m *MockProvider) Execute(ctx context.Context, op provider.Operation) (json.RawMessage, error) {
	i := m.callCount
	m.callCount++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return json.RawMessage(`"ok"`), nil
}

var fastRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"network", errors.New("dial tcp: connection refused"), ActionRetry},
		{"5xx", &provider.HTTPError{StatusCode: 502}, ActionRetry},
		{"429", fmt.Errorf("wrapped: %w", &provider.HTTPError{StatusCode: 429}), ActionFailover},
		{"403", &provider.HTTPError{StatusCode: 403}, ActionFailover},
		{"404", &provider.HTTPError{StatusCode: 404}, ActionFatal},
		{"throttled", fmt.Errorf("x: %w", provider.ErrThrottled), ActionFailover},
		{"rpc revert", &provider.RPCError{Code: -32000, Message: "execution reverted"}, ActionFatal},
		{"rpc rate limit", &provider.RPCError{Code: -32005, Message: "Rate limit exceeded"}, ActionFailover},
		{"budget", ErrBudgetExhausted, ActionFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCallWithRetry_RetriesTransient(t *testing.T) {
	p := &MockProvider{name: "a", errs: []error{errors.New("timeout"), errors.New("timeout")}}
	res, err := CallWithRetry(context.Background(), "test", p, provider.Operation{Name: "m"}, fastRetry, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"ok"` {
		t.Errorf("unexpected result %s", res)
	}
	if p.callCount != 3 {
		t.Errorf("expected 3 calls, got %d", p.callCount)
	}
}

func TestCallWithRetry_StopsOnFatal(t *testing.T) {
	p := &MockProvider{name: "a", errs: []error{&provider.HTTPError{StatusCode: 400}}}
	_, err := CallWithRetry(context.Background(), "test", p, provider.Operation{Name: "m"}, fastRetry, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.callCount != 1 {
		t.Errorf("expected 1 call, got %d", p.callCount)
	}
}

func TestCallWithRetryAndFailover(t *testing.T) {
	a := &MockProvider{name: "a", errs: []error{&provider.HTTPError{StatusCode: 429}}}
	b := &MockProvider{name: "b"}

	res, err := CallWithRetryAndFailover(
		context.Background(), "test", []provider.Provider{a, b}, provider.Operation{Name: "m"}, fastRetry, nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"ok"` {
		t.Errorf("unexpected result %s", res)
	}
	if a.callCount != 1 || b.callCount != 1 {
		t.Errorf("expected one call each, got a=%d b=%d", a.callCount, b.callCount)
	}
}

func TestCallWithRetryAndFailover_BudgetCapsCalls(t *testing.T) {
	fail := errors.New("timeout")
	a := &MockProvider{name: "a", errs: []error{fail, fail, fail}}
	b := &MockProvider{name: "b", errs: []error{fail, fail, fail}}

	budget := NewBudget(4)
	_, err := CallWithRetryAndFailover(
		context.Background(), "test", []provider.Provider{a, b}, provider.Operation{Name: "m"}, fastRetry, budget,
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if total := a.callCount + b.callCount; total != 4 {
		t.Errorf("expected exactly 4 upstream calls, got %d", total)
	}
	if budget.Remaining() != 0 {
		t.Errorf("expected spent budget, got %d", budget.Remaining())
	}
}
