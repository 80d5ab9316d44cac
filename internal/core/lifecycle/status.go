// Package lifecycle derives canonical transaction status from upstream observations.
//
// States move new -> confirming -> success; fail and out_of_energy are terminal and
// reachable from new or confirming. Status is derived on every read, never stored as
// an event, so Merge is used to keep a later, staler read from downgrading it.
package lifecycle

import (
	"strings"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// ReasonOutOfEnergy is the Tron receipt code mapped to TxStatusOutOfEnergy.
const ReasonOutOfEnergy = "OUT_OF_ENERGY"

// Observation is one upstream view of a transaction.
type Observation struct {
	Result        domain.ExecResult
	FailureReason string

	Confirmations int64
	Threshold     int64

	BroadcastAt time.Time
	Now         time.Time
	DropTimeout time.Duration
}

// Derive applies the status rules in priority order.
func Derive(o Observation) domain.TxStatus {
	switch o.Result {
	case domain.ResultSuccess:
		return domain.TxStatusSuccess
	case domain.ResultFailed:
		if strings.EqualFold(o.FailureReason, ReasonOutOfEnergy) {
			return domain.TxStatusOutOfEnergy
		}
		return domain.TxStatusFail
	}

	if o.Confirmations > o.Threshold {
		return domain.TxStatusSuccess
	}
	if o.Confirmations > 0 {
		return domain.TxStatusConfirming
	}

	if o.DropTimeout > 0 && !o.BroadcastAt.IsZero() {
		now := o.Now
		if now.IsZero() {
			now = time.Now()
		}
		if now.Sub(o.BroadcastAt) > o.DropTimeout {
			return domain.TxStatusFail
		}
	}
	return domain.TxStatusNew
}

// Rank orders statuses by confirmation strength. Unknown statuses rank -1.
func Rank(s domain.TxStatus) int {
	switch s {
	case domain.TxStatusNew:
		return 0
	case domain.TxStatusConfirming:
		return 1
	case domain.TxStatusSuccess, domain.TxStatusFail, domain.TxStatusOutOfEnergy:
		return 2
	}
	return -1
}

// IsTerminal reports whether no later observation may change s.
func IsTerminal(s domain.TxStatus) bool {
	return Rank(s) == 2
}

// Merge combines the last applied status with a new observation.
func Merge(prev, next domain.TxStatus) domain.TxStatus {
	if Rank(prev) < 0 {
		return next
	}
	if IsTerminal(prev) || Rank(next) < Rank(prev) {
		return prev
	}
	return next
}
