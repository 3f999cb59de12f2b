// core/genesis/loader.go
package genesis

import (
	"fmt"
	"math/big"

	"marginledger/core/state"
	"marginledger/core/types"
	"marginledger/crypto"
)

// BuildGenesisFromSpec seeds a fresh ledger from the declared spec and commits
// it, returning the resulting state root. Each group's vault authority is
// derived from the group address; bank vaults are created as token accounts
// owned by that authority. Commit folds staged keys in sorted order, so the
// root does not depend on declaration order within the document.
func BuildGenesisFromSpec(spec *GenesisSpec, manager *state.Manager) ([32]byte, error) {
	if spec == nil {
		return [32]byte{}, fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return [32]byte{}, fmt.Errorf("state manager must not be nil")
	}
	if err := spec.validate(); err != nil {
		return [32]byte{}, fmt.Errorf("invalid genesis spec: %w", err)
	}

	authorities := make(map[string]crypto.Address, len(spec.Groups))
	for i := range spec.Groups {
		g := &spec.Groups[i]
		authority := crypto.DeriveAuthority(g.addr)
		authorities[g.addr.String()] = authority
		record := &types.Group{
			Address:   g.addr,
			Index:     g.Index,
			Admin:     g.admin,
			Authority: authority,
		}
		if err := manager.PutGroup(record); err != nil {
			return [32]byte{}, fmt.Errorf("group %q: %w", g.Address, err)
		}
	}

	for i := range spec.Banks {
		b := &spec.Banks[i]
		record := &types.Bank{
			Address:                   b.addr,
			Group:                     b.group,
			TokenIndex:                b.TokenIndex,
			Vault:                     b.vault,
			LoanOriginationFeeRateBps: b.LoanOriginationFeeRateBps,
			CollectedFeesNative:       big.NewInt(0),
			InitAssetWeightBps:        b.InitAssetWeightBps,
			MaintAssetWeightBps:       b.MaintAssetWeightBps,
			InitLiabWeightBps:         b.InitLiabWeightBps,
			MaintLiabWeightBps:        b.MaintLiabWeightBps,
		}
		if err := manager.PutBank(record); err != nil {
			return [32]byte{}, fmt.Errorf("bank %q: %w", b.Address, err)
		}
		vault := &types.TokenAccount{
			Address:    b.vault,
			Owner:      authorities[b.group.String()],
			TokenIndex: b.TokenIndex,
			Balance:    new(big.Int).Set(b.vaultBalance),
		}
		if err := manager.PutTokenAccount(vault); err != nil {
			return [32]byte{}, fmt.Errorf("bank %q vault: %w", b.Address, err)
		}
	}

	for i := range spec.TokenAccounts {
		a := &spec.TokenAccounts[i]
		record := &types.TokenAccount{
			Address:    a.addr,
			Owner:      a.owner,
			TokenIndex: a.TokenIndex,
			Balance:    new(big.Int).Set(a.balance),
		}
		if err := manager.PutTokenAccount(record); err != nil {
			return [32]byte{}, fmt.Errorf("token account %q: %w", a.Address, err)
		}
	}

	for i := range spec.MarginAccounts {
		m := &spec.MarginAccounts[i]
		record := &types.MarginAccount{
			Address: m.addr,
			Owner:   m.owner,
			Group:   m.group,
		}
		if err := manager.PutMarginAccount(record); err != nil {
			return [32]byte{}, fmt.Errorf("margin account %q: %w", m.Address, err)
		}
	}

	for i := range spec.Prices {
		p := &spec.Prices[i]
		record := &types.PriceEntry{
			Address:    p.addr,
			TokenIndex: p.TokenIndex,
			Price:      p.price,
		}
		if err := manager.PutPriceEntry(record); err != nil {
			return [32]byte{}, fmt.Errorf("price %q: %w", p.Address, err)
		}
	}

	root, err := manager.Commit()
	if err != nil {
		return [32]byte{}, fmt.Errorf("commit genesis state: %w", err)
	}
	return root, nil
}
