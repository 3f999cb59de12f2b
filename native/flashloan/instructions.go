package flashloan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"marginledger/core/batch"
	"marginledger/crypto"
)

// ProgramAddress is the stable identity under which the flash loan program is
// addressed by batch steps.
var ProgramAddress = crypto.DeriveProgramAddress("flashloan")

// Operation selectors carried in the leading bytes of a step payload.
var (
	BeginSelector = crypto.OpSelector("flashloan/begin")
	EndSelector   = crypto.OpSelector("flashloan/end")
)

// BeginStep assembles an origination step. The account list is the group
// followed by the banks, vaults and caller token accounts of every loan in
// order; the payload carries the approved amounts.
func BeginStep(group crypto.Address, banks, vaults, tokenAccounts []crypto.Address, amounts []*big.Int) (batch.Step, error) {
	if len(vaults) != len(banks) || len(tokenAccounts) != len(banks) || len(amounts) != len(banks) {
		return batch.Step{}, ErrLoanArity
	}
	payload, err := rlp.EncodeToBytes(amounts)
	if err != nil {
		return batch.Step{}, fmt.Errorf("flashloan: encode amounts: %w", err)
	}
	accounts := make([]crypto.Address, 0, 1+3*len(banks))
	accounts = append(accounts, group)
	accounts = append(accounts, banks...)
	accounts = append(accounts, vaults...)
	accounts = append(accounts, tokenAccounts...)
	data := make([]byte, 0, crypto.SelectorLength+len(payload))
	data = append(data, BeginSelector[:]...)
	data = append(data, payload...)
	return batch.Step{Program: ProgramAddress, Accounts: accounts, Data: data}, nil
}

// EndStep assembles the settlement step paired with an origination. The
// account list is the margin account, then the health accounts, then the
// vaults and caller token accounts repeated from origination.
func EndStep(account crypto.Address, accounts []crypto.Address) batch.Step {
	list := make([]crypto.Address, 0, 1+len(accounts))
	list = append(list, account)
	list = append(list, accounts...)
	data := make([]byte, 0, crypto.SelectorLength)
	data = append(data, EndSelector[:]...)
	return batch.Step{Program: ProgramAddress, Accounts: list, Data: data}
}

type beginArgs struct {
	group         crypto.Address
	banks         []crypto.Address
	vaults        []crypto.Address
	tokenAccounts []crypto.Address
	amounts       []*big.Int
}

func parseBeginStep(step batch.Step) (beginArgs, error) {
	if len(step.Data) < crypto.SelectorLength {
		return beginArgs{}, fmt.Errorf("%w: payload shorter than selector", ErrMalformedStep)
	}
	var amounts []*big.Int
	if err := rlp.DecodeBytes(step.Data[crypto.SelectorLength:], &amounts); err != nil {
		return beginArgs{}, fmt.Errorf("%w: %v", ErrMalformedStep, err)
	}
	n := len(amounts)
	if len(step.Accounts) != 1+3*n {
		return beginArgs{}, fmt.Errorf("%w: %d loans need %d accounts, got %d", ErrMalformedStep, n, 1+3*n, len(step.Accounts))
	}
	return beginArgs{
		group:         step.Accounts[0],
		banks:         step.Accounts[1 : 1+n],
		vaults:        step.Accounts[1+n : 1+2*n],
		tokenAccounts: step.Accounts[1+2*n:],
		amounts:       amounts,
	}, nil
}

type endArgs struct {
	account  crypto.Address
	accounts []crypto.Address
}

func parseEndStep(step batch.Step) (endArgs, error) {
	if len(step.Accounts) == 0 {
		return endArgs{}, fmt.Errorf("%w: settlement needs a margin account", ErrMalformedStep)
	}
	return endArgs{account: step.Accounts[0], accounts: step.Accounts[1:]}, nil
}
