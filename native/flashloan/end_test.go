package flashloan

import (
	"errors"
	"math/big"
	"testing"

	"marginledger/core/events"
	"marginledger/core/types"
	"marginledger/crypto"
)

func TestEndFullRepaymentClosesPosition(t *testing.T) {
	f := newLoanFixture()
	f.begin(t, 1000)

	if err := f.engine.End(f.margin.Address, f.endAccounts()); err != nil {
		t.Fatalf("settle loan: %v", err)
	}

	if f.vault.Balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("vault balance = %s, want 5000", f.vault.Balance)
	}
	if f.caller.Balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("caller balance = %s, want 50", f.caller.Balance)
	}
	if f.bank.FlashLoan != nil {
		t.Fatalf("loan state must be cleared after settlement")
	}
	if len(f.margin.Positions) != 0 {
		t.Fatalf("settled position must be removed, got %d positions", len(f.margin.Positions))
	}
	if len(f.emitter.events) != 3 {
		t.Fatalf("expected begin, settle and close events, got %d", len(f.emitter.events))
	}
	settle, ok := f.emitter.events[1].(events.LoanSettle)
	if !ok {
		t.Fatalf("expected LoanSettle event, got %T", f.emitter.events[1])
	}
	if settle.Change.Sign() != 0 {
		t.Fatalf("settle change = %s, want 0", settle.Change)
	}
	if settle.Loan.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("settle loan = %s, want 1000", settle.Loan)
	}
	if settle.Fee.Sign() != 0 {
		t.Fatalf("settle fee = %s, want 0", settle.Fee)
	}
	closed, ok := f.emitter.events[2].(events.LoanPositionClosed)
	if !ok {
		t.Fatalf("expected LoanPositionClosed event, got %T", f.emitter.events[2])
	}
	if closed.TokenIndex != 1 {
		t.Fatalf("closed token index = %d, want 1", closed.TokenIndex)
	}
}

func TestEndSecondSettlementFails(t *testing.T) {
	f := newLoanFixture()
	f.begin(t, 1000)
	if err := f.engine.End(f.margin.Address, f.endAccounts()); err != nil {
		t.Fatalf("settle loan: %v", err)
	}
	if err := f.engine.End(f.margin.Address, f.endAccounts()); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive on second settlement, got %v", err)
	}
}

func TestEndChargesFeeOnBorrowedPortion(t *testing.T) {
	f := newLoanFixture()
	f.bank.LoanOriginationFeeRateBps = 100
	bankTwo, _, _, priceTwo := f.addToken(2, 0x20, 3000, 0)
	f.margin.Positions = []types.TokenPosition{
		{TokenIndex: 1, Native: big.NewInt(400)},
		{TokenIndex: 2, Native: big.NewInt(1000)},
	}

	f.begin(t, 1000)
	// The borrower spends 600 of the loan elsewhere and returns the rest.
	f.caller.Balance = big.NewInt(450)

	accounts := []crypto.Address{f.bank.Address, bankTwo.Address, f.price.Address, priceTwo.Address, f.vault.Address, f.caller.Address}
	if err := f.engine.End(f.margin.Address, accounts); err != nil {
		t.Fatalf("settle loan: %v", err)
	}

	pos, _, ok := f.margin.Position(1)
	if !ok {
		t.Fatalf("expected an open position for token 1")
	}
	if pos.Native.Cmp(big.NewInt(-206)) != 0 {
		t.Fatalf("position = %s, want -206", pos.Native)
	}
	if f.bank.CollectedFeesNative.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("collected fees = %s, want 6", f.bank.CollectedFeesNative)
	}
	if f.vault.Balance.Cmp(big.NewInt(4400)) != 0 {
		t.Fatalf("vault balance = %s, want 4400", f.vault.Balance)
	}
	if f.caller.Balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("caller balance = %s, want 50", f.caller.Balance)
	}
	if f.bank.FlashLoan != nil {
		t.Fatalf("loan state must be cleared after settlement")
	}

	settle, ok := f.emitter.events[len(f.emitter.events)-1].(events.LoanSettle)
	if !ok {
		t.Fatalf("expected LoanSettle as last event, got %T", f.emitter.events[len(f.emitter.events)-1])
	}
	if settle.Change.Cmp(big.NewInt(-606)) != 0 {
		t.Fatalf("settle change = %s, want -606", settle.Change)
	}
	if settle.Loan.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("settle loan = %s, want 600", settle.Loan)
	}
	if settle.Fee.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("settle fee = %s, want 6", settle.Fee)
	}
}

func TestEndKeepsBorrowOpenWithCollateral(t *testing.T) {
	f := newLoanFixture()
	bankTwo, _, _, priceTwo := f.addToken(2, 0x20, 3000, 0)
	f.margin.Positions = []types.TokenPosition{{TokenIndex: 2, Native: big.NewInt(2000)}}

	f.begin(t, 1000)
	// The borrower keeps the whole loan.
	f.caller.Balance = big.NewInt(50)

	accounts := []crypto.Address{f.bank.Address, bankTwo.Address, f.price.Address, priceTwo.Address, f.vault.Address, f.caller.Address}
	if err := f.engine.End(f.margin.Address, accounts); err != nil {
		t.Fatalf("settle loan: %v", err)
	}

	pos, _, ok := f.margin.Position(1)
	if !ok {
		t.Fatalf("expected an open borrow for token 1")
	}
	if pos.Native.Cmp(big.NewInt(-1000)) != 0 {
		t.Fatalf("position = %s, want -1000", pos.Native)
	}
	if f.vault.Balance.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("vault balance = %s, want 4000", f.vault.Balance)
	}
	if len(f.margin.Positions) != 2 {
		t.Fatalf("expected collateral and borrow positions, got %d", len(f.margin.Positions))
	}
}

func TestEndFailsWhenUndercollateralized(t *testing.T) {
	f := newLoanFixture()
	f.begin(t, 1000)
	f.caller.Balance = big.NewInt(50)

	err := f.engine.End(f.margin.Address, f.endAccounts())
	if !errors.Is(err, ErrSolvencyNegative) {
		t.Fatalf("expected ErrSolvencyNegative, got %v", err)
	}
}

func TestEndFailsPreSettlementWhenUnderwater(t *testing.T) {
	f := newLoanFixture()
	bankTwo, _, _, priceTwo := f.addToken(2, 0x20, 3000, 0)
	f.margin.Positions = []types.TokenPosition{{TokenIndex: 2, Native: big.NewInt(-5000)}}

	f.begin(t, 1000)

	accounts := []crypto.Address{f.bank.Address, bankTwo.Address, f.price.Address, priceTwo.Address, f.vault.Address, f.caller.Address}
	err := f.engine.End(f.margin.Address, accounts)
	if !errors.Is(err, ErrSolvencyNegative) {
		t.Fatalf("expected ErrSolvencyNegative, got %v", err)
	}
	if f.bank.FlashLoan == nil {
		t.Fatalf("loan state must survive a failed settlement")
	}
}

func TestEndUnmatchedVault(t *testing.T) {
	f := newLoanFixture()
	f.bank.FlashLoan = &types.BankLoanState{Approved: big.NewInt(0), VaultInitial: big.NewInt(50)}

	accounts := []crypto.Address{
		f.bank.Address, f.price.Address,
		f.vault.Address, makeAddress(0x70),
		f.caller.Address, makeAddress(0x71),
	}
	if err := f.engine.End(f.margin.Address, accounts); !errors.Is(err, ErrUnmatchedVault) {
		t.Fatalf("expected ErrUnmatchedVault, got %v", err)
	}
}

func TestEndWithoutActiveLoan(t *testing.T) {
	f := newLoanFixture()
	if err := f.engine.End(f.margin.Address, f.endAccounts()); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
}

func TestEndAccountChecks(t *testing.T) {
	f := newLoanFixture()
	if err := f.engine.End(makeAddress(0x7f), f.endAccounts()); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}

	f = newLoanFixture()
	f.margin.Bankrupt = true
	if err := f.engine.End(f.margin.Address, f.endAccounts()); !errors.Is(err, ErrAccountBankrupt) {
		t.Fatalf("expected ErrAccountBankrupt, got %v", err)
	}

	f = newLoanFixture()
	f.margin.Group = makeAddress(0x7c)
	if err := f.engine.End(f.margin.Address, f.endAccounts()); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
}

func TestEndVaultSegmentShape(t *testing.T) {
	f := newLoanFixture()
	f.bank.FlashLoan = &types.BankLoanState{Approved: big.NewInt(0), VaultInitial: big.NewInt(50)}

	noSegment := []crypto.Address{f.bank.Address, f.price.Address}
	if err := f.engine.End(f.margin.Address, noSegment); !errors.Is(err, ErrVaultSegmentNotFound) {
		t.Fatalf("expected ErrVaultSegmentNotFound, got %v", err)
	}

	uneven := []crypto.Address{f.bank.Address, f.price.Address, f.vault.Address}
	if err := f.engine.End(f.margin.Address, uneven); !errors.Is(err, ErrUnevenVaultSegment) {
		t.Fatalf("expected ErrUnevenVaultSegment, got %v", err)
	}
}
