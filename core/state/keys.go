package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marginledger/crypto"
)

var (
	groupPrefix        = []byte("group:")
	bankPrefix         = []byte("bank:")
	tokenAccountPrefix = []byte("tokenacct:")
	marginPrefix       = []byte("margin:")
	pricePrefix        = []byte("price:")

	rootMetaKey    = ethcrypto.Keccak256([]byte("meta/root"))
	versionMetaKey = ethcrypto.Keccak256([]byte("meta/version"))
)

func recordKey(prefix []byte, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, len(prefix)+len(raw))
	copy(buf, prefix)
	copy(buf[len(prefix):], raw)
	return ethcrypto.Keccak256(buf)
}

func groupKey(addr crypto.Address) []byte        { return recordKey(groupPrefix, addr) }
func bankKey(addr crypto.Address) []byte         { return recordKey(bankPrefix, addr) }
func tokenAccountKey(addr crypto.Address) []byte { return recordKey(tokenAccountPrefix, addr) }
func marginKey(addr crypto.Address) []byte       { return recordKey(marginPrefix, addr) }
func priceKey(addr crypto.Address) []byte        { return recordKey(pricePrefix, addr) }
