// Package txerror translates free text upstream errors into canonical codes.
//
// The UI layer matches on Code values only, so every user facing failure path
// either carries one of these codes or nothing at all.
package txerror

import (
	"errors"
	"strings"

	logger "log/slog"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
)

// Code is a stable canonical error identifier.
type Code string

const (
	CodeTransactionAlreadyMined Code = "SERVER_RESPONSE_TRANSACTION_ALREADY_MINED"
	CodeNonceAlreadyMined       Code = "SERVER_RESPONSE_NONCE_ALREADY_MINED"
	CodeTooMuchGas              Code = "SERVER_RESPONSE_TOO_MUCH_GAS_ETH"
	CodeTooMuchGasToken         Code = "SERVER_RESPONSE_TOO_MUCH_GAS_ETH_ERC_20"
	CodeNothingLeftForFee       Code = "SERVER_RESPONSE_NOTHING_LEFT_FOR_FEE"
	CodeNotEnoughFee            Code = "SERVER_RESPONSE_NOT_ENOUGH_FEE"
	CodeNotEnoughAmountAsFee    Code = "SERVER_RESPONSE_NOT_ENOUGH_AMOUNT_AS_FEE"
	CodeBadInternet             Code = "SERVER_RESPONSE_BAD_INTERNET"
)

// CanonicalError is an upstream failure resolved to a Code.
type CanonicalError struct {
	Code  Code
	Cause error
}

func (e *CanonicalError) Error() string { return string(e.Code) }

func (e *CanonicalError) Unwrap() error { return e.Cause }

// CodeOf extracts the canonical code from err, if any.
func CodeOf(err error) (Code, bool) {
	var ce *CanonicalError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// TxContext describes the transfer an upstream error was raised for.
type TxContext struct {
	Chain        domain.ChainID
	From         string
	To           string
	Amount       decimal.Decimal
	Native       bool
	ReplaceByFee bool
}

// Rule maps any of its substrings to a code chosen from the transfer context.
type Rule struct {
	Name    string
	Match   []string
	Resolve func(tx TxContext) Code
}

func fixed(code Code) func(TxContext) Code {
	return func(TxContext) Code { return code }
}

// DefaultRules is checked top to bottom; specific substrings come first.
var DefaultRules = []Rule{
	{
		Name:  "nonce-too-low",
		Match: []string{"nonce too low"},
		Resolve: func(tx TxContext) Code {
			if tx.ReplaceByFee {
				return CodeTransactionAlreadyMined
			}
			return CodeNonceAlreadyMined
		},
	},
	{
		Name:  "gas-exceeds-allowance",
		Match: []string{"gas required exceeds allowance"},
		Resolve: func(tx TxContext) Code {
			if tx.Native {
				return CodeTooMuchGas
			}
			return CodeTooMuchGasToken
		},
	},
	{
		Name:  "insufficient-funds",
		Match: []string{"insufficient funds"},
		Resolve: func(tx TxContext) Code {
			if tx.Native && tx.Amount.IsPositive() {
				return CodeNothingLeftForFee
			}
			return CodeNotEnoughFee
		},
	},
	{
		Name:    "raise-fee",
		Match:   []string{"underpriced", "already known", "rate limit", "too many requests"},
		Resolve: fixed(CodeNotEnoughAmountAsFee),
	},
	{
		Name: "connectivity",
		Match: []string{
			"infura",
			"network error",
			"connection refused",
			"connection reset",
			"no such host",
			"timeout",
			"deadline exceeded",
		},
		Resolve: fixed(CodeBadInternet),
	},
}

// Translator applies a priority ordered rule table.
type Translator struct {
	rules []Rule
	log   logger.Logger
}

// NewTranslator creates a translator; no rules selects DefaultRules.
func NewTranslator(rules ...Rule) *Translator {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Translator{
		rules: rules,
		log:   *logger.Default(),
	}
}

// Classify returns the code of the first matching rule.
func (t *Translator) Classify(message string, tx TxContext) (Code, bool) {
	msg := strings.ToLower(message)
	for _, r := range t.rules {
		for _, m := range r.Match {
			if strings.Contains(msg, m) {
				return r.Resolve(tx), true
			}
		}
	}
	return "", false
}

// Translate wraps err in a CanonicalError, or logs and returns it unchanged.
func (t *Translator) Translate(err error, tx TxContext) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok {
		return err
	}

	code, ok := t.Classify(err.Error(), tx)
	if !ok {
		metrics.UntranslatedErrors.WithLabelValues(string(tx.Chain)).Inc()
		t.log.Error("Untranslated upstream error",
			"chain", tx.Chain,
			"from", tx.From,
			"to", tx.To,
			"amount", tx.Amount.String(),
			"native", tx.Native,
			"raw", err.Error(),
		)
		return err
	}
	return &CanonicalError{Code: code, Cause: err}
}
