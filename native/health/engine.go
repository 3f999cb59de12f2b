package health

import (
	"errors"

	"github.com/shopspring/decimal"

	"marginledger/core/types"
	"marginledger/crypto"
)

var (
	errNilState   = errors.New("health engine: state not configured")
	errNilAccount = errors.New("health engine: margin account required")

	// ErrMissingBank is returned when a position has no matching bank among
	// the supplied health accounts.
	ErrMissingBank = errors.New("health engine: no bank for token position")
	// ErrMissingPrice is returned when a position has no matching oracle
	// price among the supplied health accounts.
	ErrMissingPrice = errors.New("health engine: no price for token position")
	// ErrUnknownHealthAccount is returned when a supplied account resolves to
	// neither a bank nor a price entry.
	ErrUnknownHealthAccount = errors.New("health engine: account is neither bank nor price entry")
	// ErrWrongGroup is returned when a supplied bank belongs to a different
	// group than the account under valuation.
	ErrWrongGroup = errors.New("health engine: bank group mismatch")

	errDuplicateBank  = errors.New("health engine: duplicate bank for token")
	errDuplicatePrice = errors.New("health engine: duplicate price for token")
)

var basisPoints = decimal.NewFromInt(10_000)

// Mode selects which weight set a solvency check applies.
type Mode int

const (
	// Init applies the conservative weights used when taking on new exposure.
	Init Mode = iota
	// Maint applies the looser weights used when judging existing positions.
	Maint
)

func (m Mode) String() string {
	switch m {
	case Init:
		return "init"
	case Maint:
		return "maint"
	default:
		return "unknown"
	}
}

type engineState interface {
	GetBank(addr crypto.Address) (*types.Bank, error)
	GetPriceEntry(addr crypto.Address) (*types.PriceEntry, error)
}

// Engine values margin account positions against supplied banks and oracle
// prices. Deposits are discounted by asset weights, borrows inflated by
// liability weights, so a non-negative sum means the account can absorb the
// priced-in moves.
type Engine struct {
	state engineState
}

// NewEngine constructs a health engine. SetState must be called before use.
func NewEngine() *Engine {
	return &Engine{}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// Solvency computes the weighted value of every position on the account. The
// health accounts must cover each held token with exactly one bank and one
// price entry; banks must belong to the account's group.
func (e *Engine) Solvency(account *types.MarginAccount, healthAccounts []crypto.Address, mode Mode) (decimal.Decimal, error) {
	if e == nil || e.state == nil {
		return decimal.Zero, errNilState
	}
	if account == nil {
		return decimal.Zero, errNilAccount
	}
	banks, prices, err := e.resolve(account, healthAccounts)
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for i := range account.Positions {
		pos := &account.Positions[i]
		bank, ok := banks[pos.TokenIndex]
		if !ok {
			return decimal.Zero, ErrMissingBank
		}
		price, ok := prices[pos.TokenIndex]
		if !ok {
			return decimal.Zero, ErrMissingPrice
		}
		native := decimal.NewFromBigInt(pos.Native, 0)
		weight := positionWeight(bank, native, mode)
		sum = sum.Add(native.Mul(price).Mul(weight))
	}
	return sum, nil
}

func (e *Engine) resolve(account *types.MarginAccount, healthAccounts []crypto.Address) (map[uint16]*types.Bank, map[uint16]decimal.Decimal, error) {
	banks := make(map[uint16]*types.Bank)
	prices := make(map[uint16]decimal.Decimal)
	for _, addr := range healthAccounts {
		bank, err := e.state.GetBank(addr)
		if err != nil {
			return nil, nil, err
		}
		if bank != nil {
			if !bank.Group.Equal(account.Group) {
				return nil, nil, ErrWrongGroup
			}
			if _, exists := banks[bank.TokenIndex]; exists {
				return nil, nil, errDuplicateBank
			}
			banks[bank.TokenIndex] = bank
			continue
		}
		entry, err := e.state.GetPriceEntry(addr)
		if err != nil {
			return nil, nil, err
		}
		if entry != nil {
			if _, exists := prices[entry.TokenIndex]; exists {
				return nil, nil, errDuplicatePrice
			}
			prices[entry.TokenIndex] = entry.Price
			continue
		}
		return nil, nil, ErrUnknownHealthAccount
	}
	return banks, prices, nil
}

func positionWeight(bank *types.Bank, native decimal.Decimal, mode Mode) decimal.Decimal {
	var bps uint64
	if native.Sign() >= 0 {
		if mode == Init {
			bps = bank.InitAssetWeightBps
		} else {
			bps = bank.MaintAssetWeightBps
		}
	} else {
		if mode == Init {
			bps = bank.InitLiabWeightBps
		} else {
			bps = bank.MaintLiabWeightBps
		}
	}
	return decimal.NewFromInt(int64(bps)).Div(basisPoints)
}
