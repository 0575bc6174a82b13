package domain

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity identifica a un participante (o a un pool) por su dirección.
type Identity = common.Address

// NoIdentity es la identidad vacía.
var NoIdentity Identity

var poolIdentitySalt = []byte("opinionmarket/pool")

// ParseIdentity valida y convierte una dirección hex (0x...) a Identity.
func ParseIdentity(s string) (Identity, error) {
	if !common.IsHexAddress(s) {
		return NoIdentity, fmt.Errorf("%w: invalid identity %q", ErrInvalidIdentity, s)
	}
	id := common.HexToAddress(s)
	if id == NoIdentity {
		return NoIdentity, fmt.Errorf("%w: zero identity", ErrInvalidIdentity)
	}
	return id, nil
}

// PoolIdentity deriva la identidad determinista bajo la que un pool posee respuestas.
// keccak256(salt || poolID) truncado a 20 bytes, como una dirección de contrato.
func PoolIdentity(poolID uint64) Identity {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], poolID)
	return common.BytesToAddress(crypto.Keccak256(poolIdentitySalt, buf[:])[12:])
}
