package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"

	"marginledger/core/batch"
	"marginledger/core/types"
	"marginledger/crypto"
)

// StepParam is the wire form of one batch step. Accounts are bech32 strings,
// Data is the hex-encoded call data including the leading operation selector.
type StepParam struct {
	Program  string   `json:"program"`
	Accounts []string `json:"accounts"`
	Data     string   `json:"data"`
}

// BatchParam is the wire form of a batch submission. A missing ID is replaced
// with a fresh correlation ID before execution.
type BatchParam struct {
	ID    string      `json:"id,omitempty"`
	Steps []StepParam `json:"steps"`
}

func (p *BatchParam) toBatch() (*batch.Batch, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, fmt.Errorf("batch must carry at least one step")
	}
	steps := make([]batch.Step, 0, len(p.Steps))
	for i, sp := range p.Steps {
		program, err := crypto.DecodeAddress(strings.TrimSpace(sp.Program))
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: program: %w", i, err)
		}
		accounts := make([]crypto.Address, 0, len(sp.Accounts))
		for j, raw := range sp.Accounts {
			addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: accounts[%d]: %w", i, j, err)
			}
			accounts = append(accounts, addr)
		}
		data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sp.Data), "0x"))
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: data: %w", i, err)
		}
		steps = append(steps, batch.Step{Program: program, Accounts: accounts, Data: data})
	}
	submitted := batch.New(steps...)
	if id := strings.TrimSpace(p.ID); id != "" {
		submitted.ID = id
	}
	return submitted, nil
}

// ExecuteBatchResult reports a committed batch: the correlation ID it ran
// under, the state root after commit and the events it emitted.
type ExecuteBatchResult struct {
	BatchID string        `json:"batchId"`
	Root    string        `json:"root"`
	Events  []types.Event `json:"events"`
}

// RootResult carries the current committed state root.
type RootResult struct {
	Root string `json:"root"`
}

type GroupResult struct {
	Address   string `json:"address"`
	Index     uint32 `json:"index"`
	Admin     string `json:"admin"`
	Authority string `json:"authority"`
}

type LoanStateResult struct {
	Approved     string `json:"approved"`
	VaultInitial string `json:"vaultInitial"`
}

type BankResult struct {
	Address                   string           `json:"address"`
	Group                     string           `json:"group"`
	TokenIndex                uint16           `json:"tokenIndex"`
	Vault                     string           `json:"vault"`
	LoanOriginationFeeRateBps uint64           `json:"loanOriginationFeeRateBps"`
	CollectedFeesNative       string           `json:"collectedFeesNative"`
	InitAssetWeightBps        uint64           `json:"initAssetWeightBps"`
	MaintAssetWeightBps       uint64           `json:"maintAssetWeightBps"`
	InitLiabWeightBps         uint64           `json:"initLiabWeightBps"`
	MaintLiabWeightBps        uint64           `json:"maintLiabWeightBps"`
	FlashLoan                 *LoanStateResult `json:"flashLoan,omitempty"`
}

type TokenAccountResult struct {
	Address    string `json:"address"`
	Owner      string `json:"owner"`
	TokenIndex uint16 `json:"tokenIndex"`
	Balance    string `json:"balance"`
}

type PositionResult struct {
	TokenIndex uint16 `json:"tokenIndex"`
	Native     string `json:"native"`
}

type MarginAccountResult struct {
	Address   string           `json:"address"`
	Owner     string           `json:"owner"`
	Group     string           `json:"group"`
	Bankrupt  bool             `json:"bankrupt"`
	Positions []PositionResult `json:"positions,omitempty"`
}

type PriceResult struct {
	Address    string `json:"address"`
	TokenIndex uint16 `json:"tokenIndex"`
	Price      string `json:"price"`
}

func groupResultFrom(group *types.Group) *GroupResult {
	return &GroupResult{
		Address:   group.Address.String(),
		Index:     group.Index,
		Admin:     group.Admin.String(),
		Authority: group.Authority.String(),
	}
}

func bankResultFrom(bank *types.Bank) *BankResult {
	result := &BankResult{
		Address:                   bank.Address.String(),
		Group:                     bank.Group.String(),
		TokenIndex:                bank.TokenIndex,
		Vault:                     bank.Vault.String(),
		LoanOriginationFeeRateBps: bank.LoanOriginationFeeRateBps,
		CollectedFeesNative:       bank.CollectedFeesNative.String(),
		InitAssetWeightBps:        bank.InitAssetWeightBps,
		MaintAssetWeightBps:       bank.MaintAssetWeightBps,
		InitLiabWeightBps:         bank.InitLiabWeightBps,
		MaintLiabWeightBps:        bank.MaintLiabWeightBps,
	}
	if bank.FlashLoan != nil {
		result.FlashLoan = &LoanStateResult{
			Approved:     bank.FlashLoan.Approved.String(),
			VaultInitial: bank.FlashLoan.VaultInitial.String(),
		}
	}
	return result
}

func tokenAccountResultFrom(account *types.TokenAccount) *TokenAccountResult {
	return &TokenAccountResult{
		Address:    account.Address.String(),
		Owner:      account.Owner.String(),
		TokenIndex: account.TokenIndex,
		Balance:    account.Balance.String(),
	}
}

func marginAccountResultFrom(account *types.MarginAccount) *MarginAccountResult {
	result := &MarginAccountResult{
		Address:  account.Address.String(),
		Owner:    account.Owner.String(),
		Group:    account.Group.String(),
		Bankrupt: account.Bankrupt,
	}
	for _, pos := range account.Positions {
		result.Positions = append(result.Positions, PositionResult{
			TokenIndex: pos.TokenIndex,
			Native:     pos.Native.String(),
		})
	}
	return result
}

func priceResultFrom(entry *types.PriceEntry) *PriceResult {
	return &PriceResult{
		Address:    entry.Address.String(),
		TokenIndex: entry.TokenIndex,
		Price:      entry.Price.String(),
	}
}
