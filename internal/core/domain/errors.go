package domain

import (
	"encoding/json"
	"fmt"
)

// MalformedDataError reports an upstream entry missing a required field.
// It carries the raw entry for diagnosis and is never defaulted away.
type MalformedDataError struct {
	Chain ChainID
	Field string
	Raw   json.RawMessage
}

// NewMalformedDataError builds the error from an already decoded or raw entry.
func NewMalformedDataError(chain ChainID, field string, raw any) *MalformedDataError {
	var b json.RawMessage
	switch v := raw.(type) {
	case json.RawMessage:
		b = v
	case []byte:
		b = v
	default:
		b, _ = json.Marshal(v)
	}
	return &MalformedDataError{Chain: chain, Field: field, Raw: b}
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("%s: malformed upstream data, missing %s: %s", e.Chain, e.Field, string(e.Raw))
}
