package ens

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RegisterParams are the arguments shared by makeCommitment and register.
// Label is the name without the .eth suffix.
type RegisterParams struct {
	Label         string
	Owner         common.Address
	Duration      *big.Int
	Secret        [32]byte
	Resolver      common.Address
	Data          [][]byte
	ReverseRecord bool
	Fuses         uint16
}

var commitmentArgs = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("address")},
	{Type: mustType("bytes[]")},
	{Type: mustType("bool")},
	{Type: mustType("uint16")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// MakeCommitment mirrors the controller's makeCommitment so no chain call is needed.
func MakeCommitment(p RegisterParams) (common.Hash, error) {
	data := p.Data
	if data == nil {
		data = [][]byte{}
	}
	packed, err := commitmentArgs.Pack(
		[32]byte(LabelHash(p.Label)), p.Owner, p.Duration, p.Secret,
		p.Resolver, data, p.ReverseRecord, p.Fuses,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}
