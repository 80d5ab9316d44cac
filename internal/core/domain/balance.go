package domain

import "github.com/shopspring/decimal"

// BalanceRecord is an address balance in the smallest unit of its asset.
// A nil *BalanceRecord means "no record", which is not the same as zero.
type BalanceRecord struct {
	Balance     decimal.Decimal  `json:"balance"`
	Unconfirmed decimal.Decimal  `json:"unconfirmed"`
	Frozen      *decimal.Decimal `json:"frozen,omitempty"`

	// Provider names the upstream that answered.
	Provider string `json:"provider"`
}

// Clone returns a deep copy so cached records are never shared with callers.
func (b *BalanceRecord) Clone() *BalanceRecord {
	if b == nil {
		return nil
	}
	out := *b
	if b.Frozen != nil {
		f := *b.Frozen
		out.Frozen = &f
	}
	return &out
}
