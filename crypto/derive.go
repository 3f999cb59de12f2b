package crypto

import (
	"lukechampine.com/blake3"
)

// Domain tags keep the three derivation families from colliding even when the
// same seed string is reused across them.
const (
	programDomain   = "marginledger/program:"
	authorityDomain = "marginledger/authority:"
	opDomain        = "marginledger/op:"
)

// SelectorLength is the byte length of an operation selector. The selector is
// the leading discriminator of a step payload.
const SelectorLength = 8

// Selector identifies one operation of a native program on the wire.
type Selector [SelectorLength]byte

// DeriveProgramAddress returns the deterministic identity address of a named
// native program. The identity is stable across processes and restarts so that
// batch steps can reference it.
func DeriveProgramAddress(name string) Address {
	sum := blake3.Sum256([]byte(programDomain + name))
	return MustNewAddress(LedgerPrefix, sum[:AddressLength])
}

// DeriveAuthority returns the delegated signing authority for a group. The
// authority owns the group's vaults and is the only principal allowed to move
// value out of them.
func DeriveAuthority(group Address) Address {
	buf := make([]byte, 0, len(authorityDomain)+AddressLength)
	buf = append(buf, authorityDomain...)
	buf = append(buf, group.Bytes()...)
	sum := blake3.Sum256(buf)
	return MustNewAddress(LedgerPrefix, sum[:AddressLength])
}

// OpSelector derives the stable selector for a named operation, e.g.
// "flashloan/begin".
func OpSelector(name string) Selector {
	sum := blake3.Sum256([]byte(opDomain + name))
	var sel Selector
	copy(sel[:], sum[:SelectorLength])
	return sel
}
