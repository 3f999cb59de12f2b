package flashloan

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"marginledger/core/batch"
	"marginledger/core/events"
	"marginledger/core/types"
	"marginledger/crypto"
	nativecommon "marginledger/native/common"
	"marginledger/native/health"
)

var basisPoints = big.NewInt(10_000)

const moduleName = "flashloan"

type engineState interface {
	GetGroup(addr crypto.Address) (*types.Group, error)
	GetBank(addr crypto.Address) (*types.Bank, error)
	PutBank(bank *types.Bank) error
	GetTokenAccount(addr crypto.Address) (*types.TokenAccount, error)
	GetMarginAccount(addr crypto.Address) (*types.MarginAccount, error)
	PutMarginAccount(account *types.MarginAccount) error
	Transfer(from, to crypto.Address, amount *big.Int, authority crypto.Address) error
}

type solvencyOracle interface {
	Solvency(account *types.MarginAccount, healthAccounts []crypto.Address, mode health.Mode) (decimal.Decimal, error)
}

// Engine pairs loan origination and settlement within one atomic batch. A
// bank's loan state, set at Begin and cleared at End, is the marker that ties
// the two steps to the same logical loan.
type Engine struct {
	state    engineState
	solvency solvencyOracle
	emitter  events.Emitter
	pauses   nativecommon.PauseView
}

// NewEngine constructs a flash loan engine with a no-op emitter. State and the
// solvency oracle must be wired before use.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetSolvency wires the oracle consulted for pre and post settlement checks.
func (e *Engine) SetSolvency(oracle solvencyOracle) {
	if e == nil {
		return
	}
	e.solvency = oracle
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Begin originates up to N loans in lockstep over banks, vaults, caller token
// accounts and amounts, then proves the surrounding batch carries exactly one
// matching settlement step. Vault balances drop by the approved amounts; the
// margin account is not touched until settlement.
func (e *Engine) Begin(group crypto.Address, banks, vaults, tokenAccounts []crypto.Address, amounts []*big.Int, intro batch.Introspector) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if intro == nil {
		return errNilIntrospector
	}
	if len(banks) != len(vaults) || len(banks) != len(tokenAccounts) || len(banks) != len(amounts) {
		return ErrLoanArity
	}
	groupRecord, err := e.state.GetGroup(group)
	if err != nil {
		return err
	}
	if groupRecord == nil {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	for i := range banks {
		bank, err := e.state.GetBank(banks[i])
		if err != nil {
			return err
		}
		if bank == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBank, banks[i])
		}
		if !bank.Group.Equal(group) {
			return fmt.Errorf("%w: %s", ErrBankGroupMismatch, banks[i])
		}
		if !bank.Vault.Equal(vaults[i]) {
			return fmt.Errorf("%w: %s", ErrBankVaultMismatch, vaults[i])
		}
		caller, err := e.state.GetTokenAccount(tokenAccounts[i])
		if err != nil {
			return err
		}
		if caller == nil {
			return fmt.Errorf("%w: %s", ErrUnknownTokenAccount, tokenAccounts[i])
		}
		amount := amounts[i]
		if amount == nil || amount.Sign() < 0 {
			return errInvalidAmount
		}

		// The caller balance is sampled before funds move so settlement can
		// tell repayments apart from money the caller already held.
		bank.FlashLoan = &types.BankLoanState{
			Approved:     new(big.Int).Set(amount),
			VaultInitial: new(big.Int).Set(caller.Balance),
		}
		if amount.Sign() > 0 {
			if err := e.state.Transfer(vaults[i], tokenAccounts[i], amount, groupRecord.Authority); err != nil {
				return err
			}
		}
		if err := e.state.PutBank(bank); err != nil {
			return err
		}
		e.emitLoanBegin(bank, vaults[i], tokenAccounts[i], amount)
	}

	return e.verifyBatch(intro, vaults, tokenAccounts)
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) emitLoanBegin(bank *types.Bank, vault, borrower crypto.Address, amount *big.Int) {
	evt := events.LoanBegin{Amount: new(big.Int).Set(amount)}
	copy(evt.Bank[:], bank.Address.Bytes())
	copy(evt.Vault[:], vault.Bytes())
	copy(evt.Borrower[:], borrower.Bytes())
	e.emit(evt)
}

func (e *Engine) emitLoanSettle(bank *types.Bank, account *types.MarginAccount, change, loan, fee *big.Int) {
	evt := events.LoanSettle{
		TokenIndex: bank.TokenIndex,
		Change:     new(big.Int).Set(change),
		Loan:       new(big.Int).Set(loan),
		Fee:        new(big.Int).Set(fee),
	}
	copy(evt.Bank[:], bank.Address.Bytes())
	copy(evt.Account[:], account.Address.Bytes())
	e.emit(evt)
}

func (e *Engine) emitPositionClosed(account *types.MarginAccount, tokenIndex uint16) {
	evt := events.LoanPositionClosed{TokenIndex: tokenIndex}
	copy(evt.Account[:], account.Address.Bytes())
	e.emit(evt)
}
