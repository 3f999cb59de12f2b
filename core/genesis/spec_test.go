// core/genesis/spec_test.go
package genesis

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marginledger/core/state"
	"marginledger/crypto"
	"marginledger/storage"
)

func ledgerAddr(seed byte) string {
	return crypto.MustNewAddress(crypto.LedgerPrefix, bytes.Repeat([]byte{seed}, 20)).String()
}

func sampleSpec() GenesisSpec {
	group := ledgerAddr(0x01)
	return GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		Network:     "marginledger-test",
		Groups: []GroupSpec{
			{Address: group, Index: 0, Admin: ledgerAddr(0x0a)},
		},
		Banks: []BankSpec{
			{
				Address:                   ledgerAddr(0x02),
				Group:                     group,
				TokenIndex:                1,
				Vault:                     ledgerAddr(0x03),
				VaultBalance:              "5000",
				LoanOriginationFeeRateBps: 100,
				InitAssetWeightBps:        8000,
				MaintAssetWeightBps:       9000,
				InitLiabWeightBps:         12000,
				MaintLiabWeightBps:        11000,
			},
		},
		TokenAccounts: []TokenAccountSpec{
			{Address: ledgerAddr(0x04), Owner: ledgerAddr(0x05), TokenIndex: 1, Balance: "50"},
		},
		MarginAccounts: []MarginAccountSpec{
			{Address: ledgerAddr(0x06), Owner: ledgerAddr(0x05), Group: group},
		},
		Prices: []PriceSpec{
			{Address: ledgerAddr(0x07), TokenIndex: 1, Price: "1.25"},
		},
	}
}

func TestLoadGenesisSpecAndBuildGenesis(t *testing.T) {
	spec := sampleSpec()

	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	loaded, err := LoadGenesisSpec(path)
	if err != nil {
		t.Fatalf("LoadGenesisSpec: %v", err)
	}
	if loaded.Network != spec.Network {
		t.Fatalf("network mismatch: got %q want %q", loaded.Network, spec.Network)
	}
	expectedTimestamp, err := time.Parse(time.RFC3339, spec.GenesisTime)
	if err != nil {
		t.Fatalf("parse genesisTime: %v", err)
	}
	if !loaded.GenesisTimestamp().Equal(expectedTimestamp) {
		t.Fatalf("genesis timestamp mismatch: got %v want %v", loaded.GenesisTimestamp(), expectedTimestamp)
	}

	db := storage.NewMemDB()
	defer db.Close()
	manager, err := state.NewManager(db)
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	root, err := BuildGenesisFromSpec(loaded, manager)
	if err != nil {
		t.Fatalf("BuildGenesisFromSpec: %v", err)
	}
	if root == ([32]byte{}) {
		t.Fatalf("expected non-zero state root")
	}
	if manager.Pending() != 0 {
		t.Fatalf("expected no staged writes after genesis, got %d", manager.Pending())
	}

	// Reopen over the same backend to prove the seeded records persisted.
	reopened, err := state.NewManager(db)
	if err != nil {
		t.Fatalf("reopen manager: %v", err)
	}
	if reopened.Root() != root {
		t.Fatalf("reopened root mismatch: got %x want %x", reopened.Root(), root)
	}

	groupAddr, err := ParseLedgerAddress(spec.Groups[0].Address)
	if err != nil {
		t.Fatalf("parse group address: %v", err)
	}
	group, err := reopened.GetGroup(groupAddr)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group == nil {
		t.Fatalf("expected seeded group")
	}
	if !group.Authority.Equal(crypto.DeriveAuthority(groupAddr)) {
		t.Fatalf("unexpected group authority %s", group.Authority)
	}
	if group.Admin.String() != spec.Groups[0].Admin {
		t.Fatalf("unexpected group admin %s", group.Admin)
	}

	bankAddr, err := ParseLedgerAddress(spec.Banks[0].Address)
	if err != nil {
		t.Fatalf("parse bank address: %v", err)
	}
	bank, err := reopened.GetBank(bankAddr)
	if err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if bank == nil {
		t.Fatalf("expected seeded bank")
	}
	if bank.TokenIndex != 1 || bank.LoanOriginationFeeRateBps != 100 {
		t.Fatalf("unexpected bank record: %+v", bank)
	}
	if bank.CollectedFeesNative.Sign() != 0 {
		t.Fatalf("expected zero collected fees, got %s", bank.CollectedFeesNative)
	}
	if bank.LoanActive() {
		t.Fatalf("expected no loan on a fresh bank")
	}

	vaultAddr, err := ParseLedgerAddress(spec.Banks[0].Vault)
	if err != nil {
		t.Fatalf("parse vault address: %v", err)
	}
	vault, err := reopened.GetTokenAccount(vaultAddr)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if vault == nil {
		t.Fatalf("expected seeded vault")
	}
	if vault.Balance.String() != "5000" {
		t.Fatalf("unexpected vault balance %s", vault.Balance)
	}
	if !vault.Owner.Equal(group.Authority) {
		t.Fatalf("vault owner %s is not the group authority", vault.Owner)
	}

	callerAddr, err := ParseLedgerAddress(spec.TokenAccounts[0].Address)
	if err != nil {
		t.Fatalf("parse caller address: %v", err)
	}
	caller, err := reopened.GetTokenAccount(callerAddr)
	if err != nil {
		t.Fatalf("get token account: %v", err)
	}
	if caller == nil || caller.Balance.String() != "50" {
		t.Fatalf("unexpected token account: %+v", caller)
	}

	marginAddr, err := ParseLedgerAddress(spec.MarginAccounts[0].Address)
	if err != nil {
		t.Fatalf("parse margin address: %v", err)
	}
	margin, err := reopened.GetMarginAccount(marginAddr)
	if err != nil {
		t.Fatalf("get margin account: %v", err)
	}
	if margin == nil {
		t.Fatalf("expected seeded margin account")
	}
	if margin.Bankrupt || len(margin.Positions) != 0 {
		t.Fatalf("unexpected margin account: %+v", margin)
	}
	if !margin.Group.Equal(groupAddr) {
		t.Fatalf("unexpected margin group %s", margin.Group)
	}

	priceAddr, err := ParseLedgerAddress(spec.Prices[0].Address)
	if err != nil {
		t.Fatalf("parse price address: %v", err)
	}
	entry, err := reopened.GetPriceEntry(priceAddr)
	if err != nil {
		t.Fatalf("get price entry: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected seeded price entry")
	}
	if !entry.Price.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected price %s", entry.Price)
	}

	// The same document seeded into a fresh backend lands on the same root.
	otherDB := storage.NewMemDB()
	defer otherDB.Close()
	otherManager, err := state.NewManager(otherDB)
	if err != nil {
		t.Fatalf("open second manager: %v", err)
	}
	otherRoot, err := BuildGenesisFromSpec(loaded, otherManager)
	if err != nil {
		t.Fatalf("BuildGenesisFromSpec second backend: %v", err)
	}
	if otherRoot != root {
		t.Fatalf("expected deterministic genesis root: got %x want %x", otherRoot, root)
	}
}

func TestLoadGenesisSpecRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	doc := []byte(`{"genesisTime": "2024-01-01T00:00:00Z", "bogus": true}`)
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	if _, err := LoadGenesisSpec(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestGenesisSpecValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(spec *GenesisSpec)
	}{
		{"missing genesis time", func(s *GenesisSpec) { s.GenesisTime = "" }},
		{"undeclared bank group", func(s *GenesisSpec) { s.Banks[0].Group = ledgerAddr(0x7f) }},
		{"undeclared margin group", func(s *GenesisSpec) { s.MarginAccounts[0].Group = ledgerAddr(0x7f) }},
		{"asset weight above denominator", func(s *GenesisSpec) { s.Banks[0].MaintAssetWeightBps = 10_001 }},
		{"liability weight below denominator", func(s *GenesisSpec) { s.Banks[0].MaintLiabWeightBps = 9_999 }},
		{"init asset weight above maintenance", func(s *GenesisSpec) { s.Banks[0].InitAssetWeightBps = 9_500 }},
		{"init liability weight below maintenance", func(s *GenesisSpec) { s.Banks[0].InitLiabWeightBps = 10_500 }},
		{"negative vault balance", func(s *GenesisSpec) { s.Banks[0].VaultBalance = "-1" }},
		{"token account reuses vault address", func(s *GenesisSpec) { s.TokenAccounts[0].Address = s.Banks[0].Vault }},
		{"negative price", func(s *GenesisSpec) { s.Prices[0].Price = "-1" }},
		{"missing price", func(s *GenesisSpec) { s.Prices[0].Price = "  " }},
		{"duplicate group index", func(s *GenesisSpec) {
			s.Groups = append(s.Groups, GroupSpec{Address: ledgerAddr(0x11), Index: 0, Admin: ledgerAddr(0x0a)})
		}},
		{"duplicate bank token index", func(s *GenesisSpec) {
			extra := s.Banks[0]
			extra.Address = ledgerAddr(0x12)
			extra.Vault = ledgerAddr(0x13)
			s.Banks = append(s.Banks, extra)
		}},
		{"foreign address prefix", func(s *GenesisSpec) {
			s.Groups[0].Admin = crypto.MustNewAddress(crypto.AddressPrefix("acct"), bytes.Repeat([]byte{0x0a}, 20)).String()
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := sampleSpec()
			tc.mutate(&spec)
			if err := spec.validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
