package tron

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/vietddude/chainscan/internal/infra/chain"
)

// addressVersion is the leading byte of every mainnet Tron address.
const addressVersion = 0x41

// ToBase58 converts a display (T…) or hex (41…) address to display form.
func ToBase58(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "T") {
		if _, err := ToHex(addr); err != nil {
			return "", err
		}
		return addr, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	if err != nil || len(raw) != 21 || raw[0] != addressVersion {
		return "", fmt.Errorf("%w: %s", chain.ErrInvalidAddress, addr)
	}
	return base58.CheckEncode(raw[1:], addressVersion), nil
}

// ToHex converts a display address to the 41-prefixed hex form used by node
// calls.
func ToHex(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "T") {
		if _, err := ToBase58(addr); err != nil {
			return "", err
		}
		return strings.ToLower(strings.TrimPrefix(addr, "0x")), nil
	}

	payload, version, err := base58.CheckDecode(addr)
	if err != nil || version != addressVersion || len(payload) != 20 {
		return "", fmt.Errorf("%w: %s", chain.ErrInvalidAddress, addr)
	}
	return hex.EncodeToString(append([]byte{addressVersion}, payload...)), nil
}
