package genesis

import (
	"fmt"
	"strings"

	"marginledger/crypto"
)

// ParseLedgerAddress decodes a bech32 address from a genesis document. Only
// the ledger prefix is accepted.
func ParseLedgerAddress(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address must be provided")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode address %q: %w", value, err)
	}
	if addr.Prefix() != crypto.LedgerPrefix {
		return crypto.Address{}, fmt.Errorf("decode address %q: unsupported prefix %q", value, addr.Prefix())
	}
	return addr, nil
}
