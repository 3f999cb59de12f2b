package health

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"marginledger/core/types"
	"marginledger/crypto"
)

type mockEngineState struct {
	banks  map[string]*types.Bank
	prices map[string]*types.PriceEntry
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		banks:  make(map[string]*types.Bank),
		prices: make(map[string]*types.PriceEntry),
	}
}

func (m *mockEngineState) GetBank(addr crypto.Address) (*types.Bank, error) {
	return m.banks[addr.String()], nil
}

func (m *mockEngineState) GetPriceEntry(addr crypto.Address) (*types.PriceEntry, error) {
	return m.prices[addr.String()], nil
}

func (m *mockEngineState) addBank(bank *types.Bank) {
	m.banks[bank.Address.String()] = bank
}

func (m *mockEngineState) addPrice(entry *types.PriceEntry) {
	m.prices[entry.Address.String()] = entry
}

func makeAddress(seed byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = seed
	return crypto.MustNewAddress(crypto.LedgerPrefix, raw)
}

func testBank(addr, group crypto.Address, tokenIndex uint16) *types.Bank {
	return &types.Bank{
		Address:             addr,
		Group:               group,
		TokenIndex:          tokenIndex,
		CollectedFeesNative: big.NewInt(0),
		InitAssetWeightBps:  8000,
		MaintAssetWeightBps: 9000,
		InitLiabWeightBps:   12000,
		MaintLiabWeightBps:  11000,
	}
}

func testPrice(addr crypto.Address, tokenIndex uint16, price string) *types.PriceEntry {
	return &types.PriceEntry{
		Address:    addr,
		TokenIndex: tokenIndex,
		Price:      decimal.RequireFromString(price),
	}
}

func newTestEngine(state *mockEngineState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	return engine
}

func TestSolvencyWeightsDepositsAndBorrows(t *testing.T) {
	state := newMockEngineState()
	group := makeAddress(0x01)
	bankOne := testBank(makeAddress(0x02), group, 1)
	bankTwo := testBank(makeAddress(0x03), group, 2)
	state.addBank(bankOne)
	state.addBank(bankTwo)
	state.addPrice(testPrice(makeAddress(0x04), 1, "2"))
	state.addPrice(testPrice(makeAddress(0x05), 2, "1"))

	account := &types.MarginAccount{
		Address: makeAddress(0x10),
		Group:   group,
		Positions: []types.TokenPosition{
			{TokenIndex: 1, Native: big.NewInt(100)},
			{TokenIndex: 2, Native: big.NewInt(-50)},
		},
	}
	healthAccounts := []crypto.Address{
		bankOne.Address, bankTwo.Address,
		makeAddress(0x04), makeAddress(0x05),
	}

	engine := newTestEngine(state)
	sum, err := engine.Solvency(account, healthAccounts, Init)
	if err != nil {
		t.Fatalf("init solvency: %v", err)
	}
	// 100*2*0.8 - 50*1*1.2 = 160 - 60
	if !sum.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected init solvency: %s", sum)
	}

	sum, err = engine.Solvency(account, healthAccounts, Maint)
	if err != nil {
		t.Fatalf("maint solvency: %v", err)
	}
	// 100*2*0.9 - 50*1*1.1 = 180 - 55
	if !sum.Equal(decimal.NewFromInt(125)) {
		t.Fatalf("unexpected maint solvency: %s", sum)
	}
}

func TestSolvencyFractionalPrice(t *testing.T) {
	state := newMockEngineState()
	group := makeAddress(0x01)
	bank := testBank(makeAddress(0x02), group, 1)
	state.addBank(bank)
	state.addPrice(testPrice(makeAddress(0x03), 1, "1.5"))

	account := &types.MarginAccount{
		Address:   makeAddress(0x10),
		Group:     group,
		Positions: []types.TokenPosition{{TokenIndex: 1, Native: big.NewInt(-1000)}},
	}
	engine := newTestEngine(state)
	sum, err := engine.Solvency(account, []crypto.Address{bank.Address, makeAddress(0x03)}, Init)
	if err != nil {
		t.Fatalf("solvency: %v", err)
	}
	// -1000*1.5*1.2
	if !sum.Equal(decimal.NewFromInt(-1800)) {
		t.Fatalf("unexpected solvency: %s", sum)
	}
}

func TestSolvencyEmptyPositions(t *testing.T) {
	engine := newTestEngine(newMockEngineState())
	account := &types.MarginAccount{Address: makeAddress(0x10), Group: makeAddress(0x01)}
	sum, err := engine.Solvency(account, nil, Maint)
	if err != nil {
		t.Fatalf("solvency: %v", err)
	}
	if !sum.IsZero() {
		t.Fatalf("expected zero solvency, got %s", sum)
	}
}

func TestSolvencyResolutionFailures(t *testing.T) {
	state := newMockEngineState()
	group := makeAddress(0x01)
	bank := testBank(makeAddress(0x02), group, 1)
	state.addBank(bank)
	state.addPrice(testPrice(makeAddress(0x03), 1, "1"))

	foreign := testBank(makeAddress(0x06), makeAddress(0x07), 3)
	state.addBank(foreign)

	account := &types.MarginAccount{
		Address:   makeAddress(0x10),
		Group:     group,
		Positions: []types.TokenPosition{{TokenIndex: 1, Native: big.NewInt(10)}},
	}
	engine := newTestEngine(state)

	if _, err := engine.Solvency(account, []crypto.Address{makeAddress(0x03)}, Init); !errors.Is(err, ErrMissingBank) {
		t.Fatalf("expected missing bank, got %v", err)
	}
	if _, err := engine.Solvency(account, []crypto.Address{bank.Address}, Init); !errors.Is(err, ErrMissingPrice) {
		t.Fatalf("expected missing price, got %v", err)
	}
	if _, err := engine.Solvency(account, []crypto.Address{bank.Address, makeAddress(0x03), makeAddress(0x7f)}, Init); !errors.Is(err, ErrUnknownHealthAccount) {
		t.Fatalf("expected unknown health account, got %v", err)
	}
	if _, err := engine.Solvency(account, []crypto.Address{bank.Address, foreign.Address, makeAddress(0x03)}, Init); !errors.Is(err, ErrWrongGroup) {
		t.Fatalf("expected wrong group, got %v", err)
	}

	duplicate := testBank(makeAddress(0x08), group, 1)
	state.addBank(duplicate)
	if _, err := engine.Solvency(account, []crypto.Address{bank.Address, duplicate.Address, makeAddress(0x03)}, Init); !errors.Is(err, errDuplicateBank) {
		t.Fatalf("expected duplicate bank, got %v", err)
	}
}

func TestSolvencyWithoutState(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.Solvency(&types.MarginAccount{}, nil, Init); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
	engine.SetState(newMockEngineState())
	if _, err := engine.Solvency(nil, nil, Init); !errors.Is(err, errNilAccount) {
		t.Fatalf("expected nil account error, got %v", err)
	}
}
