package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/rpc/provider"
)

// ErrBudgetExhausted means the attempt budget of a resilient call ran out.
var ErrBudgetExhausted = errors.New("attempt budget exhausted")

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

func (c RetryConfig) backoff() retry.Backoff {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	initial := c.InitialDelay
	if initial <= 0 {
		initial = time.Millisecond
	}
	maxDelay := c.MaxDelay
	if maxDelay < initial {
		maxDelay = initial
	}
	b := retry.NewExponential(initial)
	b = retry.WithCappedDuration(maxDelay, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFailover:
		return "failover"
	}
	return "fatal"
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBudgetExhausted) {
		return ActionFatal
	}
	if errors.Is(err, provider.ErrThrottled) {
		return ActionFailover
	}

	if code := provider.StatusCode(err); code != 0 {
		switch {
		case code == 429 || code == 403 || code == 401:
			return ActionFailover
		case code >= 500:
			return ActionRetry
		default:
			return ActionFatal
		}
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
			strings.Contains(msg, "quota") || strings.Contains(msg, "capacity exceeded") {
			return ActionFailover
		}
		// execution and request errors are deterministic
		return ActionFatal
	}

	sLower := strings.ToLower(err.Error())
	if strings.Contains(sLower, "invalid json") {
		return ActionFailover
	}

	// Default to Retry (network, timeouts)
	return ActionRetry
}

// Budget caps the number of upstream calls shared across providers.
// A nil *Budget is unlimited.
type Budget struct {
	mu        sync.Mutex
	remaining int
}

// NewBudget creates a budget of n calls.
func NewBudget(n int) *Budget {
	if n < 1 {
		n = 1
	}
	return &Budget{remaining: n}
}

// Take consumes one call, reporting false once the budget is spent.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining returns the calls left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// CallWithRetry executes op against one provider with exponential backoff.
func CallWithRetry(
	ctx context.Context,
	chain string,
	p provider.Provider,
	op provider.Operation,
	config RetryConfig,
	budget *Budget,
) (json.RawMessage, error) {
	var result json.RawMessage

	err := retry.Do(ctx, config.backoff(), func(ctx context.Context) error {
		if !budget.Take() {
			return ErrBudgetExhausted
		}

		start := time.Now()
		res, err := p.Execute(ctx, op)
		metrics.RPCCallsTotal.WithLabelValues(chain, p.GetName(), op.Name).Inc()
		metrics.RPCLatency.WithLabelValues(chain, p.GetName(), op.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			result = res
			return nil
		}

		action := ClassifyError(err)
		metrics.RPCErrorsTotal.WithLabelValues(chain, p.GetName(), action.String()).Inc()
		if action == ActionRetry {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CallWithRetryAndFailover tries providers in order, retrying each.
func CallWithRetryAndFailover(
	ctx context.Context,
	chain string,
	providers []provider.Provider,
	op provider.Operation,
	config RetryConfig,
	budget *Budget,
) (json.RawMessage, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers for chain %s", chain)
	}

	var lastErr error
	for _, p := range providers {
		result, err := CallWithRetry(ctx, chain, p, op, config, budget)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || ClassifyError(err) == ActionFatal {
			return nil, fmt.Errorf("%s %s: %w", p.GetName(), op.Name, err)
		}
	}

	return nil, fmt.Errorf("all providers failed for %s: %w", op.Name, lastErr)
}
