package flashloan

import (
	"fmt"
	"math/big"

	"marginledger/crypto"
	nativecommon "marginledger/native/common"
	"marginledger/native/health"
)

// loanChange pairs a bank with the position it settles into and the net
// balance delta to apply. It lives only for the duration of one End call.
type loanChange struct {
	bank     crypto.Address
	position int
	amount   *big.Int
}

// End settles every loan begun in this batch against the margin account. The
// account list is a health prefix followed by the vault segment: the vaults
// and caller token accounts in origination order. The split point is located
// by scanning for the first token account owned by the group's authority.
//
// Changes are staged first, solvency is checked against the staged result,
// and only then are zeroed positions removed, so the solvency recomputation
// always sees a fully populated position set.
func (e *Engine) End(account crypto.Address, accounts []crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.solvency == nil {
		return errNilSolvency
	}

	margin, err := e.state.GetMarginAccount(account)
	if err != nil {
		return err
	}
	if margin == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if margin.Bankrupt {
		return ErrAccountBankrupt
	}
	groupRecord, err := e.state.GetGroup(margin.Group)
	if err != nil {
		return err
	}
	if groupRecord == nil {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, margin.Group)
	}

	split := -1
	for i, addr := range accounts {
		candidate, err := e.state.GetTokenAccount(addr)
		if err != nil {
			return err
		}
		if candidate != nil && candidate.Owner.Equal(groupRecord.Authority) {
			split = i
			break
		}
	}
	if split < 0 {
		return ErrVaultSegmentNotFound
	}
	healthAccounts := accounts[:split]
	segment := accounts[split:]
	if len(segment)%2 != 0 {
		return ErrUnevenVaultSegment
	}
	half := len(segment) / 2
	vaults := segment[:half]
	callerAccounts := segment[half:]

	// Walk the leading bank records of the health prefix and stage a change
	// for every bank whose vault appears in the segment. Banks without a
	// vault here were not part of this loan and are skipped.
	claimed := make([]bool, half)
	changes := make([]loanChange, 0, half)
	for _, addr := range healthAccounts {
		bank, err := e.state.GetBank(addr)
		if err != nil {
			return err
		}
		if bank == nil {
			break
		}
		vaultIndex := -1
		for j := range vaults {
			if vaults[j].Equal(bank.Vault) {
				vaultIndex = j
				break
			}
		}
		if vaultIndex < 0 {
			continue
		}
		claimed[vaultIndex] = true

		// Origination only proved the settlement step repeats its trailing
		// accounts; the loan marker is what ties this bank to a real Begin.
		if bank.FlashLoan == nil {
			return fmt.Errorf("%w: %s", ErrLoanNotActive, bank.Address)
		}
		_, posIndex := margin.EnsurePosition(bank.TokenIndex)

		caller, err := e.state.GetTokenAccount(callerAccounts[vaultIndex])
		if err != nil {
			return err
		}
		if caller == nil {
			return fmt.Errorf("%w: %s", ErrUnknownTokenAccount, callerAccounts[vaultIndex])
		}
		change := new(big.Int).Neg(bank.FlashLoan.Approved)
		if caller.Balance.Cmp(bank.FlashLoan.VaultInitial) > 0 {
			repay := new(big.Int).Sub(caller.Balance, bank.FlashLoan.VaultInitial)
			if err := e.state.Transfer(caller.Address, bank.Vault, repay, margin.Owner); err != nil {
				return err
			}
			change.Add(change, repay)
		}
		changes = append(changes, loanChange{bank: bank.Address, position: posIndex, amount: change})
	}

	for _, ok := range claimed {
		if !ok {
			return ErrUnmatchedVault
		}
	}

	pre, err := e.solvency.Solvency(margin, healthAccounts, health.Init)
	if err != nil {
		return err
	}
	if pre.IsNegative() {
		return fmt.Errorf("%w: pre-settlement solvency %s", ErrSolvencyNegative, pre)
	}

	deactivate := make([]int, 0, len(changes))
	for _, change := range changes {
		bank, err := e.state.GetBank(change.bank)
		if err != nil {
			return err
		}
		position := &margin.Positions[change.position]

		// The fee applies to the borrowed portion: whatever the approved
		// amount exceeds the caller's own deposited balance by.
		loan := new(big.Int)
		if position.Native.Sign() >= 0 {
			loan.Sub(bank.FlashLoan.Approved, position.Native)
			if loan.Sign() < 0 {
				loan.SetInt64(0)
			}
		} else {
			loan.Set(bank.FlashLoan.Approved)
		}
		fee := new(big.Int).Mul(loan, new(big.Int).SetUint64(bank.LoanOriginationFeeRateBps))
		fee.Div(fee, basisPoints)
		bank.CollectedFeesNative = new(big.Int).Add(bank.CollectedFeesNative, fee)

		applied := new(big.Int).Sub(change.amount, fee)
		position.Native = new(big.Int).Add(position.Native, applied)
		if position.Native.Sign() == 0 {
			deactivate = append(deactivate, change.position)
		}

		bank.FlashLoan = nil
		if err := e.state.PutBank(bank); err != nil {
			return err
		}
		e.emitLoanSettle(bank, margin, applied, loan, fee)
	}

	post, err := e.solvency.Solvency(margin, healthAccounts, health.Init)
	if err != nil {
		return err
	}
	if post.IsNegative() {
		return fmt.Errorf("%w: post-settlement solvency %s", ErrSolvencyNegative, post)
	}

	for _, idx := range deactivate {
		e.emitPositionClosed(margin, margin.Positions[idx].TokenIndex)
	}
	margin.CompactPositions(deactivate)
	return e.state.PutMarginAccount(margin)
}
