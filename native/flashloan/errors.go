package flashloan

import "errors"

var (
	errNilState        = errors.New("flashloan: state not configured")
	errNilSolvency     = errors.New("flashloan: solvency oracle not configured")
	errNilIntrospector = errors.New("flashloan: batch introspection not configured")
	errInvalidAmount   = errors.New("flashloan: loan amount must not be negative")
	errUnknownOp       = errors.New("flashloan: unknown operation selector")
)

// Shape and arity violations.
var (
	// ErrLoanArity is returned when the bank, vault, token account and amount
	// lists do not align.
	ErrLoanArity = errors.New("flashloan: loan lists must have equal length")
	// ErrUnevenVaultSegment is returned when the trailing account segment does
	// not split evenly into vaults and token accounts.
	ErrUnevenVaultSegment = errors.New("flashloan: vault segment does not split evenly")
	// ErrMalformedStep is returned when a step payload or account list cannot
	// be decoded into operation arguments.
	ErrMalformedStep = errors.New("flashloan: malformed step")
)

// Pairing violations.
var (
	// ErrUnknownGroup is returned when the named group record does not exist.
	ErrUnknownGroup = errors.New("flashloan: group not found")
	// ErrUnknownBank is returned when a named bank record does not exist.
	ErrUnknownBank = errors.New("flashloan: bank not found")
	// ErrUnknownTokenAccount is returned when a named token account does not
	// exist.
	ErrUnknownTokenAccount = errors.New("flashloan: token account not found")
	// ErrBankGroupMismatch is returned when a bank belongs to a different
	// group than the one invoking the loan.
	ErrBankGroupMismatch = errors.New("flashloan: bank belongs to a different group")
	// ErrBankVaultMismatch is returned when the supplied vault is not the
	// bank's recorded vault.
	ErrBankVaultMismatch = errors.New("flashloan: supplied vault is not the bank vault")
	// ErrVaultSegmentNotFound is returned when no group-owned token account
	// marks the start of the vault segment.
	ErrVaultSegmentNotFound = errors.New("flashloan: no vault segment in account list")
	// ErrUnmatchedVault is returned when a vault in the settlement list has no
	// matching bank.
	ErrUnmatchedVault = errors.New("flashloan: vault has no matching bank")
	// ErrLoanNotActive is returned when settlement touches a bank with no
	// in-flight loan.
	ErrLoanNotActive = errors.New("flashloan: no active loan for bank")
)

// Batch protocol violations.
var (
	// ErrNestedInvocation is returned when loan origination is reached through
	// another program instead of as a top-level step.
	ErrNestedInvocation = errors.New("flashloan: begin must be a top-level step")
	// ErrDuplicateSettlement is returned when more than one step in the batch
	// targets this program after origination.
	ErrDuplicateSettlement = errors.New("flashloan: more than one settlement step in batch")
	// ErrWrongSettlementOp is returned when the paired step carries a selector
	// other than settlement.
	ErrWrongSettlementOp = errors.New("flashloan: paired step is not a settlement")
	// ErrSettlementAccountMismatch is returned when the settlement step's
	// trailing accounts do not repeat the origination vaults and token
	// accounts.
	ErrSettlementAccountMismatch = errors.New("flashloan: settlement accounts do not match loans")
	// ErrCrossInvocation is returned when a foreign step references this
	// program among its accounts.
	ErrCrossInvocation = errors.New("flashloan: program referenced by foreign step")
	// ErrMissingSettlement is returned when the batch carries no settlement
	// step after origination.
	ErrMissingSettlement = errors.New("flashloan: no settlement step found")
)

// Solvency and account state violations.
var (
	// ErrSolvencyNegative is returned when the account's solvency value falls
	// below zero before or after settlement.
	ErrSolvencyNegative = errors.New("flashloan: account solvency must not be negative")
	// ErrAccountBankrupt is returned when settlement targets a bankrupt
	// account.
	ErrAccountBankrupt = errors.New("flashloan: account is bankrupt")
	// ErrUnknownAccount is returned when the named margin account does not
	// exist.
	ErrUnknownAccount = errors.New("flashloan: margin account not found")
)
