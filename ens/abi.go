package ens

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const controllerABIJson = `[
{"type":"function","name":"available","stateMutability":"view","inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"rentPrice","stateMutability":"view","inputs":[{"name":"name","type":"string"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"price","type":"tuple","components":[{"name":"base","type":"uint256"},{"name":"premium","type":"uint256"}]}]},
{"type":"function","name":"commitments","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"makeCommitment","stateMutability":"pure","inputs":[{"name":"name","type":"string"},{"name":"owner","type":"address"},{"name":"duration","type":"uint256"},{"name":"secret","type":"bytes32"},{"name":"resolver","type":"address"},{"name":"data","type":"bytes[]"},{"name":"reverseRecord","type":"bool"},{"name":"ownerControlledFuses","type":"uint16"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"commit","stateMutability":"nonpayable","inputs":[{"name":"commitment","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"register","stateMutability":"payable","inputs":[{"name":"name","type":"string"},{"name":"owner","type":"address"},{"name":"duration","type":"uint256"},{"name":"secret","type":"bytes32"},{"name":"resolver","type":"address"},{"name":"data","type":"bytes[]"},{"name":"reverseRecord","type":"bool"},{"name":"ownerControlledFuses","type":"uint16"}],"outputs":[]}
]`

const registryABIJson = `[
{"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

const resolverABIJson = `[
{"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	controllerABI = mustParseABI(controllerABIJson)
	registryABI   = mustParseABI(registryABIJson)
	resolverABI   = mustParseABI(resolverABIJson)
)

func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(err)
	}
	return parsed
}

// rentPrice output, field names follow the abi tuple components
type rentPrice struct {
	Base    *big.Int
	Premium *big.Int
}
