package flashloan

import (
	"marginledger/core/batch"
	"marginledger/crypto"
)

// Program adapts the engine to step execution. The processor routes steps to
// it by address; the engine itself only sees parsed arguments plus the batch
// introspector.
type Program struct {
	engine *Engine
}

// NewProgram wraps an engine for registration with the batch processor.
func NewProgram(engine *Engine) *Program {
	return &Program{engine: engine}
}

// Address returns the identity steps use to target this program.
func (p *Program) Address() crypto.Address {
	return ProgramAddress
}

// Execute dispatches one step to the operation named by its selector.
func (p *Program) Execute(step batch.Step, intro batch.Introspector) error {
	sel, ok := step.Selector()
	if !ok {
		return errUnknownOp
	}
	switch sel {
	case BeginSelector:
		args, err := parseBeginStep(step)
		if err != nil {
			return err
		}
		return p.engine.Begin(args.group, args.banks, args.vaults, args.tokenAccounts, args.amounts, intro)
	case EndSelector:
		args, err := parseEndStep(step)
		if err != nil {
			return err
		}
		return p.engine.End(args.account, args.accounts)
	default:
		return errUnknownOp
	}
}
