package types

import (
	"math/big"

	"marginledger/crypto"
)

// TokenPosition records a margin account's signed balance for one listed
// token. Positive native values are deposits, negative values are borrows.
// Only active positions are kept; a position that settles back to zero is
// removed from the account rather than flagged.
type TokenPosition struct {
	TokenIndex uint16   `json:"tokenIndex"`
	Native     *big.Int `json:"native"`
}

// MarginAccount is the per-user ledger entry. All token positions held
// against a group are folded into the one account so solvency can be judged
// across every balance at once.
type MarginAccount struct {
	Address   crypto.Address  `json:"address"`
	Owner     crypto.Address  `json:"owner"`
	Group     crypto.Address  `json:"group"`
	Bankrupt  bool            `json:"bankrupt"`
	Positions []TokenPosition `json:"positions,omitempty"`
}

// Position returns the active position for the given token index together
// with its slice offset, or ok=false when the account holds none.
func (a *MarginAccount) Position(tokenIndex uint16) (*TokenPosition, int, bool) {
	for i := range a.Positions {
		if a.Positions[i].TokenIndex == tokenIndex {
			return &a.Positions[i], i, true
		}
	}
	return nil, 0, false
}

// EnsurePosition returns the position for the given token index, creating a
// zero-balance entry when the account does not hold one yet. The returned
// offset stays valid until CompactPositions runs.
func (a *MarginAccount) EnsurePosition(tokenIndex uint16) (*TokenPosition, int) {
	if pos, idx, ok := a.Position(tokenIndex); ok {
		return pos, idx
	}
	a.Positions = append(a.Positions, TokenPosition{
		TokenIndex: tokenIndex,
		Native:     big.NewInt(0),
	})
	idx := len(a.Positions) - 1
	return &a.Positions[idx], idx
}

// CompactPositions removes the positions at the given slice offsets. Offsets
// must refer to the slice as it stood before the call; removal happens in a
// single pass so earlier offsets do not shift under later ones.
func (a *MarginAccount) CompactPositions(marked []int) {
	if len(marked) == 0 {
		return
	}
	drop := make(map[int]struct{}, len(marked))
	for _, idx := range marked {
		drop[idx] = struct{}{}
	}
	kept := a.Positions[:0]
	for i := range a.Positions {
		if _, ok := drop[i]; ok {
			continue
		}
		kept = append(kept, a.Positions[i])
	}
	a.Positions = kept
}
