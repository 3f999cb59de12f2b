package events

import (
	"math/big"

	"marginledger/core/types"
	"marginledger/crypto"
)

const (
	// TypeLoanBegin is emitted once per funded loan when a batch opens.
	TypeLoanBegin = "loan.begin"
	// TypeLoanSettle is emitted per bank when a batch settles.
	TypeLoanSettle = "loan.settle"
	// TypeLoanPositionClosed marks a token position removed after settling
	// back to zero.
	TypeLoanPositionClosed = "loan.position_closed"
)

type LoanBegin struct {
	Bank     [20]byte
	Vault    [20]byte
	Borrower [20]byte
	Amount   *big.Int
}

func (LoanBegin) EventType() string { return TypeLoanBegin }

func (e LoanBegin) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanBegin,
		Attributes: map[string]string{
			"bank":     crypto.MustNewAddress(crypto.LedgerPrefix, e.Bank[:]).String(),
			"vault":    crypto.MustNewAddress(crypto.LedgerPrefix, e.Vault[:]).String(),
			"borrower": crypto.MustNewAddress(crypto.LedgerPrefix, e.Borrower[:]).String(),
			"amount":   formatAmount(e.Amount),
		},
	}
}

type LoanSettle struct {
	Bank       [20]byte
	Account    [20]byte
	TokenIndex uint16
	Change     *big.Int
	Loan       *big.Int
	Fee        *big.Int
}

func (LoanSettle) EventType() string { return TypeLoanSettle }

func (e LoanSettle) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanSettle,
		Attributes: map[string]string{
			"bank":       crypto.MustNewAddress(crypto.LedgerPrefix, e.Bank[:]).String(),
			"account":    crypto.MustNewAddress(crypto.LedgerPrefix, e.Account[:]).String(),
			"tokenIndex": uintToString(uint64(e.TokenIndex)),
			"change":     formatAmount(e.Change),
			"loan":       formatAmount(e.Loan),
			"fee":        formatAmount(e.Fee),
		},
	}
}

type LoanPositionClosed struct {
	Account    [20]byte
	TokenIndex uint16
}

func (LoanPositionClosed) EventType() string { return TypeLoanPositionClosed }

func (e LoanPositionClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanPositionClosed,
		Attributes: map[string]string{
			"account":    crypto.MustNewAddress(crypto.LedgerPrefix, e.Account[:]).String(),
			"tokenIndex": uintToString(uint64(e.TokenIndex)),
		},
	}
}
