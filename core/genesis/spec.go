// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marginledger/crypto"
)

// weightDenominator bounds basis-point weights declared in a genesis document.
const weightDenominator = 10_000

// GenesisSpec declares the initial contents of a margin ledger: groups with
// their admins, banks with vaults and risk weights, funded token accounts,
// margin accounts and oracle prices. Group authorities are never declared;
// they are derived from the group address while seeding.
type GenesisSpec struct {
	GenesisTime    string              `json:"genesisTime"`
	Network        string              `json:"network,omitempty"`
	Groups         []GroupSpec         `json:"groups"`
	Banks          []BankSpec          `json:"banks,omitempty"`
	TokenAccounts  []TokenAccountSpec  `json:"tokenAccounts,omitempty"`
	MarginAccounts []MarginAccountSpec `json:"marginAccounts,omitempty"`
	Prices         []PriceSpec         `json:"prices,omitempty"`

	genesisTimestamp time.Time
}

type GroupSpec struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
	Admin   string `json:"admin"`

	addr  crypto.Address
	admin crypto.Address
}

type BankSpec struct {
	Address                   string `json:"address"`
	Group                     string `json:"group"`
	TokenIndex                uint16 `json:"tokenIndex"`
	Vault                     string `json:"vault"`
	VaultBalance              string `json:"vaultBalance,omitempty"`
	LoanOriginationFeeRateBps uint64 `json:"loanOriginationFeeRateBps,omitempty"`
	InitAssetWeightBps        uint64 `json:"initAssetWeightBps"`
	MaintAssetWeightBps       uint64 `json:"maintAssetWeightBps"`
	InitLiabWeightBps         uint64 `json:"initLiabWeightBps"`
	MaintLiabWeightBps        uint64 `json:"maintLiabWeightBps"`

	addr         crypto.Address
	group        crypto.Address
	vault        crypto.Address
	vaultBalance *big.Int
}

type TokenAccountSpec struct {
	Address    string `json:"address"`
	Owner      string `json:"owner"`
	TokenIndex uint16 `json:"tokenIndex"`
	Balance    string `json:"balance,omitempty"`

	addr    crypto.Address
	owner   crypto.Address
	balance *big.Int
}

type MarginAccountSpec struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Group   string `json:"group"`

	addr  crypto.Address
	owner crypto.Address
	group crypto.Address
}

type PriceSpec struct {
	Address    string `json:"address"`
	TokenIndex uint16 `json:"tokenIndex"`
	Price      string `json:"price"`

	addr  crypto.Address
	price decimal.Decimal
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	groupAddrs := make(map[string]struct{}, len(s.Groups))
	groupIndexes := make(map[uint32]struct{}, len(s.Groups))
	for i := range s.Groups {
		g := &s.Groups[i]
		if err := g.validate(); err != nil {
			return fmt.Errorf("groups[%d]: %w", i, err)
		}
		key := g.addr.String()
		if _, exists := groupAddrs[key]; exists {
			return fmt.Errorf("groups[%d]: duplicate address %q", i, g.Address)
		}
		groupAddrs[key] = struct{}{}
		if _, exists := groupIndexes[g.Index]; exists {
			return fmt.Errorf("groups[%d]: duplicate index %d", i, g.Index)
		}
		groupIndexes[g.Index] = struct{}{}
	}

	bankAddrs := make(map[string]struct{}, len(s.Banks))
	vaultAddrs := make(map[string]struct{}, len(s.Banks))
	bankTokens := make(map[string]struct{}, len(s.Banks))
	for i := range s.Banks {
		b := &s.Banks[i]
		if err := b.validate(); err != nil {
			return fmt.Errorf("banks[%d]: %w", i, err)
		}
		if _, declared := groupAddrs[b.group.String()]; !declared {
			return fmt.Errorf("banks[%d]: undeclared group %q", i, b.Group)
		}
		key := b.addr.String()
		if _, exists := bankAddrs[key]; exists {
			return fmt.Errorf("banks[%d]: duplicate address %q", i, b.Address)
		}
		bankAddrs[key] = struct{}{}
		vaultKey := b.vault.String()
		if _, exists := vaultAddrs[vaultKey]; exists {
			return fmt.Errorf("banks[%d]: duplicate vault %q", i, b.Vault)
		}
		vaultAddrs[vaultKey] = struct{}{}
		tokenKey := fmt.Sprintf("%s/%d", b.group.String(), b.TokenIndex)
		if _, exists := bankTokens[tokenKey]; exists {
			return fmt.Errorf("banks[%d]: group %q already lists token index %d", i, b.Group, b.TokenIndex)
		}
		bankTokens[tokenKey] = struct{}{}
	}

	accountAddrs := make(map[string]struct{}, len(s.TokenAccounts))
	for i := range s.TokenAccounts {
		a := &s.TokenAccounts[i]
		if err := a.validate(); err != nil {
			return fmt.Errorf("tokenAccounts[%d]: %w", i, err)
		}
		key := a.addr.String()
		if _, exists := vaultAddrs[key]; exists {
			return fmt.Errorf("tokenAccounts[%d]: address %q already used as a vault", i, a.Address)
		}
		if _, exists := accountAddrs[key]; exists {
			return fmt.Errorf("tokenAccounts[%d]: duplicate address %q", i, a.Address)
		}
		accountAddrs[key] = struct{}{}
	}

	marginAddrs := make(map[string]struct{}, len(s.MarginAccounts))
	for i := range s.MarginAccounts {
		m := &s.MarginAccounts[i]
		if err := m.validate(); err != nil {
			return fmt.Errorf("marginAccounts[%d]: %w", i, err)
		}
		if _, declared := groupAddrs[m.group.String()]; !declared {
			return fmt.Errorf("marginAccounts[%d]: undeclared group %q", i, m.Group)
		}
		key := m.addr.String()
		if _, exists := marginAddrs[key]; exists {
			return fmt.Errorf("marginAccounts[%d]: duplicate address %q", i, m.Address)
		}
		marginAddrs[key] = struct{}{}
	}

	priceAddrs := make(map[string]struct{}, len(s.Prices))
	for i := range s.Prices {
		p := &s.Prices[i]
		if err := p.validate(); err != nil {
			return fmt.Errorf("prices[%d]: %w", i, err)
		}
		key := p.addr.String()
		if _, exists := priceAddrs[key]; exists {
			return fmt.Errorf("prices[%d]: duplicate address %q", i, p.Address)
		}
		priceAddrs[key] = struct{}{}
	}
	return nil
}

func (g *GroupSpec) validate() error {
	addr, err := ParseLedgerAddress(g.Address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	admin, err := ParseLedgerAddress(g.Admin)
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	g.addr = addr
	g.admin = admin
	return nil
}

func (b *BankSpec) validate() error {
	addr, err := ParseLedgerAddress(b.Address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	group, err := ParseLedgerAddress(b.Group)
	if err != nil {
		return fmt.Errorf("group: %w", err)
	}
	vault, err := ParseLedgerAddress(b.Vault)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	balance, err := parseAmountString(b.VaultBalance)
	if err != nil {
		return fmt.Errorf("vaultBalance: %w", err)
	}
	if b.LoanOriginationFeeRateBps > weightDenominator {
		return fmt.Errorf("loanOriginationFeeRateBps must be %d or fewer", weightDenominator)
	}
	if b.InitAssetWeightBps > weightDenominator || b.MaintAssetWeightBps > weightDenominator {
		return fmt.Errorf("asset weights must be %d or fewer", weightDenominator)
	}
	if b.InitAssetWeightBps > b.MaintAssetWeightBps {
		return fmt.Errorf("initAssetWeightBps must not exceed maintAssetWeightBps")
	}
	if b.InitLiabWeightBps < weightDenominator || b.MaintLiabWeightBps < weightDenominator {
		return fmt.Errorf("liability weights must be %d or more", weightDenominator)
	}
	if b.InitLiabWeightBps < b.MaintLiabWeightBps {
		return fmt.Errorf("initLiabWeightBps must not fall below maintLiabWeightBps")
	}
	b.addr = addr
	b.group = group
	b.vault = vault
	b.vaultBalance = balance
	return nil
}

func (a *TokenAccountSpec) validate() error {
	addr, err := ParseLedgerAddress(a.Address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	owner, err := ParseLedgerAddress(a.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	balance, err := parseAmountString(a.Balance)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	a.addr = addr
	a.owner = owner
	a.balance = balance
	return nil
}

func (m *MarginAccountSpec) validate() error {
	addr, err := ParseLedgerAddress(m.Address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	owner, err := ParseLedgerAddress(m.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	group, err := ParseLedgerAddress(m.Group)
	if err != nil {
		return fmt.Errorf("group: %w", err)
	}
	m.addr = addr
	m.owner = owner
	m.group = group
	return nil
}

func (p *PriceSpec) validate() error {
	addr, err := ParseLedgerAddress(p.Address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	trimmed := strings.TrimSpace(p.Price)
	if trimmed == "" {
		return fmt.Errorf("price must be provided")
	}
	price, err := decimal.NewFromString(trimmed)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", p.Price, err)
	}
	if price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	p.addr = addr
	p.price = price
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
