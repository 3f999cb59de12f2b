package types

import (
	"github.com/shopspring/decimal"

	"marginledger/crypto"
)

// PriceEntry is an oracle quote for one listed token, denominated in the
// group's settlement currency per native unit. Solvency checks refuse to run
// when a required entry is missing rather than assume a price.
type PriceEntry struct {
	Address    crypto.Address  `json:"address"`
	TokenIndex uint16          `json:"tokenIndex"`
	Price      decimal.Decimal `json:"price"`
}
