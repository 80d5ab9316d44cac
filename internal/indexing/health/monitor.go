package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// Backlog thresholds of pending wallet-originated rows.
const (
	DegradedPending = 10
	CriticalPending = 50
)

// HeadFetcher fetches the latest block height for a chain.
type HeadFetcher interface {
	LatestHead(ctx context.Context, chain domain.ChainID) (int64, error)
}

// PendingCounter counts rows waiting for a receipt.
type PendingCounter interface {
	PendingCount(ctx context.Context, chain domain.ChainID) (int, error)
}

// Monitor aggregates health status from the engine.
type Monitor struct {
	chains     []domain.ChainID
	heads      HeadFetcher
	pending    PendingCounter
	minPeriod  time.Duration
	lastCheck  time.Time
	lastReport map[string]ChainHealth
	mu         sync.Mutex
	now        func() time.Time
}

// NewMonitor creates a new health monitor.
func NewMonitor(chains []domain.ChainID, heads HeadFetcher, pending PendingCounter) *Monitor {
	return &Monitor{
		chains:     chains,
		heads:      heads,
		pending:    pending,
		minPeriod:  10 * time.Second,
		lastReport: make(map[string]ChainHealth),
		now:        time.Now,
	}
}

// CheckHealth performs a health check for all chains.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid spamming upstreams
	if m.now().Sub(m.lastCheck) < m.minPeriod && len(m.lastReport) > 0 {
		return m.lastReport
	}

	report := make(map[string]ChainHealth, len(m.chains))
	for _, chainID := range m.chains {
		health := ChainHealth{
			ChainID: string(chainID),
			Status:  StatusHealthy,
		}

		head, err := m.heads.LatestHead(ctx, chainID)
		if err != nil {
			health.Status = StatusDegraded
			health.Error = err.Error()
		} else {
			health.Head = head
		}

		count, err := m.pending.PendingCount(ctx, chainID)
		if err != nil {
			health.Status = StatusDegraded
			health.Error = err.Error()
		} else {
			health.Pending = count
		}

		switch {
		case health.Pending >= CriticalPending:
			health.Status = StatusCritical
		case health.Pending > DegradedPending:
			health.Status = StatusDegraded
		}

		report[string(chainID)] = health
	}

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}
