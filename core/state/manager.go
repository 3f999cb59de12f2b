package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/shopspring/decimal"

	"marginledger/core/types"
	"marginledger/crypto"
	"marginledger/storage"
)

// SchemaVersion identifies the expected on-disk layout for ledger state.
// Increment whenever breaking changes are made to the stored structure.
const SchemaVersion uint64 = 1

var (
	// ErrSchemaVersionMismatch indicates the stored layout does not match the
	// version supported by the current binary.
	ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")
	// ErrUnknownTokenAccount is returned when a transfer names an account that
	// does not exist.
	ErrUnknownTokenAccount = errors.New("state: token account not found")
	// ErrTokenMismatch is returned when a transfer pairs accounts holding
	// different tokens.
	ErrTokenMismatch = errors.New("state: token account index mismatch")
	// ErrUnauthorizedTransfer is returned when the supplied authority does not
	// own the source account.
	ErrUnauthorizedTransfer = errors.New("state: transfer not authorised by owner")
	// ErrInsufficientFunds is returned when the source balance cannot cover a
	// transfer.
	ErrInsufficientFunds = errors.New("state: insufficient funds")
)

// Manager persists ledger records over a key-value backend. Writes land in an
// in-memory overlay and only reach the backend on Commit; Reset discards the
// overlay so a failed batch leaves no trace. Callers are expected to
// serialise access.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
	root    [32]byte
}

// NewManager opens a manager over the provided backend. A fresh backend is
// stamped with the current schema version; an existing one must carry a
// matching stamp.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database must not be nil")
	}
	m := &Manager{db: db}
	raw, err := db.Get(versionMetaKey)
	switch {
	case err == nil:
		var stored uint64
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, fmt.Errorf("state: decode schema version: %w", err)
		}
		if stored != SchemaVersion {
			return nil, fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaVersionMismatch, stored, SchemaVersion)
		}
	case errors.Is(err, storage.ErrKeyNotFound):
		encoded, err := rlp.EncodeToBytes(SchemaVersion)
		if err != nil {
			return nil, err
		}
		if err := db.Put(versionMetaKey, encoded); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	rootRaw, err := db.Get(rootMetaKey)
	switch {
	case err == nil:
		if len(rootRaw) != len(m.root) {
			return nil, fmt.Errorf("state: malformed root, got %d bytes", len(rootRaw))
		}
		copy(m.root[:], rootRaw)
	case errors.Is(err, storage.ErrKeyNotFound):
	default:
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(key []byte) ([]byte, bool, error) {
	if data, ok := m.overlay[string(key)]; ok {
		return data, true, nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) store(key []byte, value []byte) {
	if m.overlay == nil {
		m.overlay = make(map[string][]byte)
	}
	m.overlay[string(key)] = append([]byte(nil), value...)
}

// Root returns the last committed state root.
func (m *Manager) Root() [32]byte {
	return m.root
}

// Pending reports the number of staged writes awaiting Commit.
func (m *Manager) Pending() int {
	return len(m.overlay)
}

// Commit flushes staged writes to the backend and folds them into the state
// root. Keys are folded in sorted order so the root is independent of write
// order within a batch.
func (m *Manager) Commit() ([32]byte, error) {
	if len(m.overlay) == 0 {
		return m.root, nil
	}
	keys := make([]string, 0, len(m.overlay))
	for k := range m.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fold := make([]byte, 0, len(m.root)+len(keys)*32)
	fold = append(fold, m.root[:]...)
	for _, k := range keys {
		entry := make([]byte, 0, len(k)+len(m.overlay[k]))
		entry = append(entry, k...)
		entry = append(entry, m.overlay[k]...)
		fold = append(fold, ethcrypto.Keccak256(entry)...)
	}
	var next [32]byte
	copy(next[:], ethcrypto.Keccak256(fold))

	for _, k := range keys {
		if err := m.db.Put([]byte(k), m.overlay[k]); err != nil {
			return m.root, err
		}
	}
	if err := m.db.Put(rootMetaKey, next[:]); err != nil {
		return m.root, err
	}
	m.root = next
	m.overlay = nil
	return next, nil
}

// Reset drops staged writes, returning the manager to the last committed
// state.
func (m *Manager) Reset() {
	m.overlay = nil
}

type storedGroup struct {
	Address   [20]byte
	Index     uint32
	Admin     [20]byte
	Authority [20]byte
}

// PutGroup stages the group record.
func (m *Manager) PutGroup(group *types.Group) error {
	if group == nil {
		return fmt.Errorf("state: group must not be nil")
	}
	stored := storedGroup{Index: group.Index}
	copy(stored.Address[:], group.Address.Bytes())
	copy(stored.Admin[:], group.Admin.Bytes())
	copy(stored.Authority[:], group.Authority.Bytes())
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.store(groupKey(group.Address), encoded)
	return nil
}

// GetGroup loads a group record, returning nil when none exists.
func (m *Manager) GetGroup(addr crypto.Address) (*types.Group, error) {
	data, ok, err := m.load(groupKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	stored := new(storedGroup)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	return &types.Group{
		Address:   crypto.MustNewAddress(crypto.LedgerPrefix, stored.Address[:]),
		Index:     stored.Index,
		Admin:     crypto.MustNewAddress(crypto.LedgerPrefix, stored.Admin[:]),
		Authority: crypto.MustNewAddress(crypto.LedgerPrefix, stored.Authority[:]),
	}, nil
}

type storedBank struct {
	Address                   [20]byte
	Group                     [20]byte
	TokenIndex                uint16
	Vault                     [20]byte
	LoanOriginationFeeRateBps uint64
	CollectedFeesNative       *big.Int
	InitAssetWeightBps        uint64
	MaintAssetWeightBps       uint64
	InitLiabWeightBps         uint64
	MaintLiabWeightBps        uint64
	LoanActive                bool
	LoanApproved              *big.Int
	LoanVaultInitial          *big.Int
}

// PutBank stages the bank record, including any in-flight loan state.
func (m *Manager) PutBank(bank *types.Bank) error {
	if bank == nil {
		return fmt.Errorf("state: bank must not be nil")
	}
	stored := storedBank{
		TokenIndex:                bank.TokenIndex,
		LoanOriginationFeeRateBps: bank.LoanOriginationFeeRateBps,
		CollectedFeesNative:       bank.CollectedFeesNative,
		InitAssetWeightBps:        bank.InitAssetWeightBps,
		MaintAssetWeightBps:       bank.MaintAssetWeightBps,
		InitLiabWeightBps:         bank.InitLiabWeightBps,
		MaintLiabWeightBps:        bank.MaintLiabWeightBps,
	}
	copy(stored.Address[:], bank.Address.Bytes())
	copy(stored.Group[:], bank.Group.Bytes())
	copy(stored.Vault[:], bank.Vault.Bytes())
	if bank.FlashLoan != nil {
		stored.LoanActive = true
		stored.LoanApproved = bank.FlashLoan.Approved
		stored.LoanVaultInitial = bank.FlashLoan.VaultInitial
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.store(bankKey(bank.Address), encoded)
	return nil
}

// GetBank loads a bank record, returning nil when none exists.
func (m *Manager) GetBank(addr crypto.Address) (*types.Bank, error) {
	data, ok, err := m.load(bankKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	stored := new(storedBank)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	bank := &types.Bank{
		Address:                   crypto.MustNewAddress(crypto.LedgerPrefix, stored.Address[:]),
		Group:                     crypto.MustNewAddress(crypto.LedgerPrefix, stored.Group[:]),
		TokenIndex:                stored.TokenIndex,
		Vault:                     crypto.MustNewAddress(crypto.LedgerPrefix, stored.Vault[:]),
		LoanOriginationFeeRateBps: stored.LoanOriginationFeeRateBps,
		CollectedFeesNative:       stored.CollectedFeesNative,
		InitAssetWeightBps:        stored.InitAssetWeightBps,
		MaintAssetWeightBps:       stored.MaintAssetWeightBps,
		InitLiabWeightBps:         stored.InitLiabWeightBps,
		MaintLiabWeightBps:        stored.MaintLiabWeightBps,
	}
	if bank.CollectedFeesNative == nil {
		bank.CollectedFeesNative = big.NewInt(0)
	}
	if stored.LoanActive {
		loan := &types.BankLoanState{
			Approved:     stored.LoanApproved,
			VaultInitial: stored.LoanVaultInitial,
		}
		if loan.Approved == nil {
			loan.Approved = big.NewInt(0)
		}
		if loan.VaultInitial == nil {
			loan.VaultInitial = big.NewInt(0)
		}
		bank.FlashLoan = loan
	}
	return bank, nil
}

type storedTokenAccount struct {
	Address    [20]byte
	Owner      [20]byte
	TokenIndex uint16
	Balance    *big.Int
}

// PutTokenAccount stages the token account record.
func (m *Manager) PutTokenAccount(account *types.TokenAccount) error {
	if account == nil {
		return fmt.Errorf("state: token account must not be nil")
	}
	if account.Balance != nil && account.Balance.Sign() < 0 {
		return fmt.Errorf("state: token account balance must not be negative")
	}
	stored := storedTokenAccount{
		TokenIndex: account.TokenIndex,
		Balance:    account.Balance,
	}
	copy(stored.Address[:], account.Address.Bytes())
	copy(stored.Owner[:], account.Owner.Bytes())
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.store(tokenAccountKey(account.Address), encoded)
	return nil
}

// GetTokenAccount loads a token account record, returning nil when none
// exists.
func (m *Manager) GetTokenAccount(addr crypto.Address) (*types.TokenAccount, error) {
	data, ok, err := m.load(tokenAccountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	stored := new(storedTokenAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	account := &types.TokenAccount{
		Address:    crypto.MustNewAddress(crypto.LedgerPrefix, stored.Address[:]),
		Owner:      crypto.MustNewAddress(crypto.LedgerPrefix, stored.Owner[:]),
		TokenIndex: stored.TokenIndex,
		Balance:    stored.Balance,
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

type storedTokenPosition struct {
	TokenIndex uint16
	Native     string
}

type storedMarginAccount struct {
	Address   [20]byte
	Owner     [20]byte
	Group     [20]byte
	Bankrupt  bool
	Positions []storedTokenPosition
}

// PutMarginAccount stages the margin account record.
func (m *Manager) PutMarginAccount(account *types.MarginAccount) error {
	if account == nil {
		return fmt.Errorf("state: margin account must not be nil")
	}
	stored := storedMarginAccount{Bankrupt: account.Bankrupt}
	copy(stored.Address[:], account.Address.Bytes())
	copy(stored.Owner[:], account.Owner.Bytes())
	copy(stored.Group[:], account.Group.Bytes())
	if len(account.Positions) > 0 {
		stored.Positions = make([]storedTokenPosition, 0, len(account.Positions))
		for _, pos := range account.Positions {
			native := "0"
			if pos.Native != nil {
				native = pos.Native.String()
			}
			stored.Positions = append(stored.Positions, storedTokenPosition{
				TokenIndex: pos.TokenIndex,
				Native:     native,
			})
		}
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.store(marginKey(account.Address), encoded)
	return nil
}

// GetMarginAccount loads a margin account record, returning nil when none
// exists. Position balances are stored as decimal strings because they carry
// sign.
func (m *Manager) GetMarginAccount(addr crypto.Address) (*types.MarginAccount, error) {
	data, ok, err := m.load(marginKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	stored := new(storedMarginAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	account := &types.MarginAccount{
		Address:  crypto.MustNewAddress(crypto.LedgerPrefix, stored.Address[:]),
		Owner:    crypto.MustNewAddress(crypto.LedgerPrefix, stored.Owner[:]),
		Group:    crypto.MustNewAddress(crypto.LedgerPrefix, stored.Group[:]),
		Bankrupt: stored.Bankrupt,
	}
	if len(stored.Positions) > 0 {
		account.Positions = make([]types.TokenPosition, 0, len(stored.Positions))
		for _, pos := range stored.Positions {
			native, valid := new(big.Int).SetString(pos.Native, 10)
			if !valid {
				return nil, fmt.Errorf("state: invalid position balance %q", pos.Native)
			}
			account.Positions = append(account.Positions, types.TokenPosition{
				TokenIndex: pos.TokenIndex,
				Native:     native,
			})
		}
	}
	return account, nil
}

type storedPriceEntry struct {
	Address    [20]byte
	TokenIndex uint16
	Price      string
}

// PutPriceEntry stages the oracle price record.
func (m *Manager) PutPriceEntry(entry *types.PriceEntry) error {
	if entry == nil {
		return fmt.Errorf("state: price entry must not be nil")
	}
	stored := storedPriceEntry{
		TokenIndex: entry.TokenIndex,
		Price:      entry.Price.String(),
	}
	copy(stored.Address[:], entry.Address.Bytes())
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.store(priceKey(entry.Address), encoded)
	return nil
}

// GetPriceEntry loads an oracle price record, returning nil when none exists.
func (m *Manager) GetPriceEntry(addr crypto.Address) (*types.PriceEntry, error) {
	data, ok, err := m.load(priceKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	stored := new(storedPriceEntry)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(stored.Price)
	if err != nil {
		return nil, fmt.Errorf("state: invalid price %q: %w", stored.Price, err)
	}
	return &types.PriceEntry{
		Address:    crypto.MustNewAddress(crypto.LedgerPrefix, stored.Address[:]),
		TokenIndex: stored.TokenIndex,
		Price:      price,
	}, nil
}

// Transfer moves tokens between two token accounts. The authority must match
// the source account owner, so vault withdrawals require the group's derived
// authority. A transfer between an account and itself verifies authority and
// funds but moves nothing.
func (m *Manager) Transfer(from, to crypto.Address, amount *big.Int, authority crypto.Address) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must not be negative")
	}
	source, err := m.GetTokenAccount(from)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTokenAccount, from.String())
	}
	dest, err := m.GetTokenAccount(to)
	if err != nil {
		return err
	}
	if dest == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTokenAccount, to.String())
	}
	if source.TokenIndex != dest.TokenIndex {
		return ErrTokenMismatch
	}
	if !source.Owner.Equal(authority) {
		return ErrUnauthorizedTransfer
	}
	if source.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if source.Address.Equal(dest.Address) {
		return nil
	}
	source.Balance = new(big.Int).Sub(source.Balance, amount)
	dest.Balance = new(big.Int).Add(dest.Balance, amount)
	if err := m.PutTokenAccount(source); err != nil {
		return err
	}
	return m.PutTokenAccount(dest)
}
