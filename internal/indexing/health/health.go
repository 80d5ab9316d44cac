// Package health provides per-chain health reporting over HTTP and gRPC.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChainHealth contains health data for a specific chain.
type ChainHealth struct {
	ChainID string       `json:"chain_id"`
	Status  SystemStatus `json:"status"`
	Head    int64        `json:"head"`
	Pending int          `json:"pending"`
	Error   string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Chains       map[string]ChainHealth `json:"chains"`
}

// Aggregate builds a report where the worst chain status wins.
func Aggregate(chains map[string]ChainHealth) HealthReport {
	status := StatusHealthy
	for _, c := range chains {
		if c.Status == StatusCritical {
			status = StatusCritical
			break
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return HealthReport{SystemStatus: status, Chains: chains}
}
