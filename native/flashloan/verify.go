package flashloan

import (
	"errors"

	"marginledger/core/batch"
	"marginledger/crypto"
)

// verifyBatch proves the batch around the executing origination step is
// shaped correctly: the step itself is top-level, exactly one later step
// targets this program, that step is a settlement whose trailing accounts
// repeat the origination vaults and token accounts, and no foreign step
// references this program.
func (e *Engine) verifyBatch(intro batch.Introspector, vaults, tokenAccounts []crypto.Address) error {
	current := intro.CurrentIndex()
	top, err := intro.StepAt(current)
	if err != nil {
		return err
	}
	if !top.Program.Equal(ProgramAddress) {
		return ErrNestedInvocation
	}

	expected := make([]crypto.Address, 0, len(vaults)+len(tokenAccounts))
	expected = append(expected, vaults...)
	expected = append(expected, tokenAccounts...)

	found := false
	for index := current + 1; ; index++ {
		step, err := intro.StepAt(index)
		if err != nil {
			if errors.Is(err, batch.ErrStepOutOfRange) {
				break
			}
			return err
		}
		if step.Program.Equal(ProgramAddress) {
			if found {
				return ErrDuplicateSettlement
			}
			found = true
			sel, ok := step.Selector()
			if !ok || sel != EndSelector {
				return ErrWrongSettlementOp
			}
			if !trailingAccountsMatch(step.Accounts, expected) {
				return ErrSettlementAccountMismatch
			}
			continue
		}
		for _, addr := range step.Accounts {
			if addr.Equal(ProgramAddress) {
				return ErrCrossInvocation
			}
		}
	}
	if !found {
		return ErrMissingSettlement
	}
	return nil
}

func trailingAccountsMatch(accounts, expected []crypto.Address) bool {
	if len(accounts) < len(expected) {
		return false
	}
	offset := len(accounts) - len(expected)
	for i, addr := range expected {
		if !accounts[offset+i].Equal(addr) {
			return false
		}
	}
	return true
}
