package ens

import (
	"errors"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	Mainnet = "mainnet"
	Sepolia = "sepolia"

	// MinRegistrationDuration is enforced by the controller; register reverts below it.
	MinRegistrationDuration = 28 * 24 * time.Hour
	// CommitSafetyMargin is added on top of MinCommitmentAge before revealing.
	CommitSafetyMargin = 5 * time.Second
)

var ErrUnsupportedNetwork = errors.New("unsupported_network")

// Network holds the deployed ENS contracts of one chain.
type Network struct {
	Name             string
	ChainID          *big.Int
	Registry         common.Address
	Controller       common.Address // wrapped ETHRegistrarController
	PublicResolver   common.Address
	MinCommitmentAge time.Duration
	MaxCommitmentAge time.Duration
	Explorer         string
}

var networks = map[string]Network{
	Mainnet: {
		Name:             Mainnet,
		ChainID:          big.NewInt(1),
		Registry:         common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"),
		Controller:       common.HexToAddress("0x253553366Da8546fC250F225fe3d25d0C782303b"),
		PublicResolver:   common.HexToAddress("0x231b0Ee14048e9dCcD1d247744d114a4EB5E8E63"),
		MinCommitmentAge: 60 * time.Second,
		MaxCommitmentAge: 24 * time.Hour,
		Explorer:         "https://etherscan.io",
	},
	Sepolia: {
		Name:             Sepolia,
		ChainID:          big.NewInt(11155111),
		Registry:         common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"),
		Controller:       common.HexToAddress("0xFED6a969AaA60E4961FCD3EBF1A2e8913ac65B72"),
		PublicResolver:   common.HexToAddress("0x8FADE66B79cC9f707aB26799354482EB93a5B7dD"),
		MinCommitmentAge: 60 * time.Second,
		MaxCommitmentAge: 24 * time.Hour,
		Explorer:         "https://sepolia.etherscan.io",
	},
}

func GetNetwork(name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, ErrUnsupportedNetwork
	}
	return n, nil
}

func SupportedNetworks() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaturationDelay is how long to wait after the commit is confirmed before register is accepted.
func (n Network) MaturationDelay() time.Duration {
	return n.MinCommitmentAge + CommitSafetyMargin
}

func (n Network) TxUrl(hash common.Hash) string {
	return n.Explorer + "/tx/" + hash.Hex()
}
