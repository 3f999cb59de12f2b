package types

import (
	"math/big"

	"marginledger/crypto"
)

// Group is the top-level registry a set of banks and margin accounts belong
// to. Authority is the derived address that signs vault movements on behalf
// of the group; no private key exists for it.
type Group struct {
	Address   crypto.Address `json:"address"`
	Index     uint32         `json:"index"`
	Admin     crypto.Address `json:"admin"`
	Authority crypto.Address `json:"authority"`
}

// BankLoanState captures an in-flight flash loan against one bank. Approved
// is the amount withdrawn from the vault, VaultInitial the caller token
// account balance sampled before funds moved. A nil pointer on the bank means
// no loan is in progress.
type BankLoanState struct {
	Approved     *big.Int `json:"approved"`
	VaultInitial *big.Int `json:"vaultInitial"`
}

// Bank is the per-token accounting record within a group. Weights are
// expressed in basis points and scale position values during solvency
// checks; asset weights discount deposits, liability weights inflate
// borrows.
type Bank struct {
	Address                   crypto.Address `json:"address"`
	Group                     crypto.Address `json:"group"`
	TokenIndex                uint16         `json:"tokenIndex"`
	Vault                     crypto.Address `json:"vault"`
	LoanOriginationFeeRateBps uint64         `json:"loanOriginationFeeRateBps"`
	CollectedFeesNative       *big.Int       `json:"collectedFeesNative"`
	InitAssetWeightBps        uint64         `json:"initAssetWeightBps"`
	MaintAssetWeightBps       uint64         `json:"maintAssetWeightBps"`
	InitLiabWeightBps         uint64         `json:"initLiabWeightBps"`
	MaintLiabWeightBps        uint64         `json:"maintLiabWeightBps"`
	FlashLoan                 *BankLoanState `json:"flashLoan,omitempty"`
}

// LoanActive reports whether a flash loan is currently recorded against the
// bank.
func (b *Bank) LoanActive() bool {
	return b != nil && b.FlashLoan != nil
}

// TokenAccount holds spendable token balances outside the margined ledger.
// Vaults are token accounts owned by a group's derived authority; caller
// accounts are owned by ordinary addresses.
type TokenAccount struct {
	Address    crypto.Address `json:"address"`
	Owner      crypto.Address `json:"owner"`
	TokenIndex uint16         `json:"tokenIndex"`
	Balance    *big.Int       `json:"balance"`
}
