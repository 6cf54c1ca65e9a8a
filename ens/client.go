package ens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	agentCommon "github.com/everFinance/ensagent/common"
	"github.com/everFinance/goether"
)

var log = agentCommon.NewLog("ens")

var (
	ErrNotFound      = errors.New("not_found")
	ErrNoSigner      = errors.New("signer_not_configured")
	ErrTxReverted    = errors.New("tx_reverted")
	ErrChainMismatch = errors.New("chain_id_mismatch")
)

const defaultPollInterval = 3 * time.Second

// Backend is the subset of ethclient.Client the ENS client relies on.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client talks to the ENS registry, controller and resolvers of one network.
// It is safe for concurrent use; reads need no signer.
type Client struct {
	backend       Backend
	network       Network
	controller    *bind.BoundContract
	registry      *bind.BoundContract
	signer        *goether.Signer
	confirmations uint64
	pollInterval  time.Duration
}

func Dial(ctx context.Context, rpcUrl string, network Network) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, err
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, err
	}
	if chainID.Cmp(network.ChainID) != 0 {
		eth.Close()
		return nil, fmt.Errorf("%w: rpc chain %s, network %s expects %s", ErrChainMismatch, chainID, network.Name, network.ChainID)
	}
	log.Info("connect eth rpc success", "network", network.Name, "chainId", chainID)
	return NewClient(eth, network), nil
}

func NewClient(backend Backend, network Network) *Client {
	return &Client{
		backend:       backend,
		network:       network,
		controller:    bind.NewBoundContract(network.Controller, controllerABI, backend, backend, backend),
		registry:      bind.NewBoundContract(network.Registry, registryABI, backend, backend, backend),
		confirmations: 1,
		pollInterval:  defaultPollInterval,
	}
}

// WithSigner returns a copy of the client that can submit transactions.
func (c *Client) WithSigner(signer *goether.Signer) *Client {
	cp := *c
	cp.signer = signer
	return &cp
}

func (c *Client) SetConfirmations(n uint64) {
	if n == 0 {
		n = 1
	}
	c.confirmations = n
}

func (c *Client) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

// Close releases the rpc connection when the backend holds one.
func (c *Client) Close() {
	if cl, ok := c.backend.(interface{ Close() }); ok {
		cl.Close()
	}
}

func (c *Client) Network() Network {
	return c.network
}

// Signer returns the configured signer address, or false for a read-only client.
func (c *Client) Signer() (common.Address, bool) {
	if c.signer == nil {
		return common.Address{}, false
	}
	return c.signer.Address, true
}

func (c *Client) IsAvailable(ctx context.Context, label string) (bool, error) {
	var out []interface{}
	if err := c.controller.Call(&bind.CallOpts{Context: ctx}, &out, "available", label); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *Client) RentPrice(ctx context.Context, label string, duration *big.Int) (base, premium *big.Int, err error) {
	var out []interface{}
	if err = c.controller.Call(&bind.CallOpts{Context: ctx}, &out, "rentPrice", label, duration); err != nil {
		return
	}
	price := *abi.ConvertType(out[0], new(rentPrice)).(*rentPrice)
	return price.Base, price.Premium, nil
}

// ResolveForward resolves any normalised ENS name to the address its resolver reports.
func (c *Client) ResolveForward(ctx context.Context, name string) (common.Address, error) {
	node := NameHash(name)
	opts := &bind.CallOpts{Context: ctx}

	var out []interface{}
	if err := c.registry.Call(opts, &out, "resolver", node); err != nil {
		return common.Address{}, err
	}
	resolverAddr := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if resolverAddr == (common.Address{}) {
		return common.Address{}, ErrNotFound
	}

	resolver := bind.NewBoundContract(resolverAddr, resolverABI, c.backend, c.backend, c.backend)
	out = nil
	if err := resolver.Call(opts, &out, "addr", node); err != nil {
		return common.Address{}, err
	}
	addr := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if addr == (common.Address{}) {
		return common.Address{}, ErrNotFound
	}
	return addr, nil
}

// CommitmentTimestamp returns when the commitment landed on-chain, or ErrNotFound.
func (c *Client) CommitmentTimestamp(ctx context.Context, commitment common.Hash) (time.Time, error) {
	var out []interface{}
	if err := c.controller.Call(&bind.CallOpts{Context: ctx}, &out, "commitments", commitment); err != nil {
		return time.Time{}, err
	}
	ts := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if ts == nil || ts.Sign() == 0 {
		return time.Time{}, ErrNotFound
	}
	return time.Unix(ts.Int64(), 0), nil
}

func (c *Client) SubmitCommit(ctx context.Context, commitment common.Hash) (common.Hash, error) {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.controller.Transact(opts, "commit", commitment)
	if err != nil {
		return common.Hash{}, err
	}
	log.Debug("commit tx sent", "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return tx.Hash(), nil
}

func (c *Client) SubmitRegister(ctx context.Context, p RegisterParams, value *big.Int) (common.Hash, error) {
	opts, err := c.transactOpts(ctx, value)
	if err != nil {
		return common.Hash{}, err
	}
	data := p.Data
	if data == nil {
		data = [][]byte{}
	}
	tx, err := c.controller.Transact(opts, "register",
		p.Label, p.Owner, p.Duration, p.Secret, p.Resolver, data, p.ReverseRecord, p.Fuses)
	if err != nil {
		return common.Hash{}, err
	}
	log.Debug("register tx sent", "tx", tx.Hash().Hex(), "nonce", tx.Nonce(), "value", value)
	return tx.Hash(), nil
}

// WaitForConfirmation polls for the receipt until it is successful and has enough confirmations.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, txHash.Hex())
			}
			ok, err := c.confirmed(ctx, receipt)
			if err != nil {
				log.Warn("get block number failed", "err", err)
			}
			if ok {
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
			log.Debug("tx not mined yet", "tx", txHash.Hex())
		default:
			log.Warn("get tx receipt failed", "err", err, "tx", txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmed(ctx context.Context, receipt *types.Receipt) (bool, error) {
	if c.confirmations <= 1 {
		return true, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	mined := receipt.BlockNumber.Uint64()
	return head >= mined && head-mined+1 >= c.confirmations, nil
}

func (c *Client) SignerBalance(ctx context.Context) (*big.Int, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	return c.backend.BalanceAt(ctx, c.signer.Address, nil)
}

func (c *Client) transactOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.signer.GetPrivateKey(), c.network.ChainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.Value = value
	return opts, nil
}
