package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks upstream calls per chain, provider and operation
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_rpc_calls_total",
			Help: "Total number of upstream HTTP/RPC calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCErrorsTotal tracks upstream errors per chain and provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_rpc_errors_total",
			Help: "Total number of upstream HTTP/RPC errors",
		},
		[]string{"chain", "provider", "error_type"},
	)

	// RPCLatency tracks upstream call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainscan_rpc_latency_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "provider", "method"},
	)

	// ResilientExhausted counts resilient calls that degraded to an empty result
	ResilientExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_resilient_exhausted_total",
			Help: "Resilient calls that returned no data after exhausting their attempt budget",
		},
		[]string{"chain", "method"},
	)

	// BalanceCacheLookups tracks balance cache hits and misses
	BalanceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_balance_cache_lookups_total",
			Help: "Balance cache lookups by result",
		},
		[]string{"chain", "result"},
	)

	// BalanceProviderWins tracks which provider answered a balance query
	BalanceProviderWins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_balance_provider_wins_total",
			Help: "Balance queries answered per provider",
		},
		[]string{"chain", "provider"},
	)

	// TransactionsDropped counts upstream entries dropped during normalization
	TransactionsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_transactions_dropped_total",
			Help: "Upstream transactions dropped during normalization",
		},
		[]string{"chain", "reason"},
	)

	// MalformedBatches counts batches aborted on missing required fields
	MalformedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_malformed_batches_total",
			Help: "Transaction batches aborted because of malformed upstream data",
		},
		[]string{"chain", "field"},
	)

	// ChainLatestBlock tracks the last head block observed per chain
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainscan_chain_latest_block",
			Help: "Latest head block observed for the chain",
		},
		[]string{"chain"},
	)

	// ReconcileRowsChecked counts pending rows re-checked by the reconciler
	ReconcileRowsChecked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_reconcile_rows_checked_total",
			Help: "Pending rows re-checked against the node",
		},
		[]string{"chain", "outcome"},
	)

	// ReconcilePending reports whether the reconciler believes rows are pending (1) or not (0)
	ReconcilePending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainscan_reconcile_pending_state",
			Help: "Reconciler pending state: -1 unknown, 0 confirmed empty, 1 has pending",
		},
		[]string{"chain"},
	)

	// UntranslatedErrors counts upstream errors no translation rule matched
	UntranslatedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainscan_untranslated_errors_total",
			Help: "Upstream error messages that matched no canonical code",
		},
		[]string{"chain"},
	)

	// DBConnectionPoolUsage tracks open connections as a share of the pool limit
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainscan_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
