package ensagent

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/everFinance/ensagent/ens"
	"github.com/everFinance/ensagent/schema"
)

type registerCall struct {
	params ens.RegisterParams
	value  *big.Int
}

// fakeChain records every call in order and answers from canned values.
type fakeChain struct {
	mu sync.Mutex

	taken     map[string]bool // labels that are not available
	availErr  error
	quotes    []schema.PriceQuote // one per RentPrice call, the last one repeats
	priceErr  error
	addrs     map[string]common.Address
	signer    common.Address
	hasSigner bool
	balance   *big.Int

	commitErr       error
	commitWaitErr   error
	registerErr     error
	registerWaitErr error
	committedAt     map[common.Hash]time.Time

	calls      []string
	commits    []common.Hash
	registers  []registerCall
	priceCalls int
}

func newFakeChain(quotes ...schema.PriceQuote) *fakeChain {
	if len(quotes) == 0 {
		quotes = []schema.PriceQuote{quote(1000, 0)}
	}
	return &fakeChain{
		taken:       map[string]bool{},
		quotes:      quotes,
		addrs:       map[string]common.Address{},
		signer:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		hasSigner:   true,
		balance:     big.NewInt(1e18),
		committedAt: map[common.Hash]time.Time{},
	}
}

func quote(base, premium int64) schema.PriceQuote {
	return schema.PriceQuote{Base: big.NewInt(base), Premium: big.NewInt(premium)}
}

func (f *fakeChain) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeChain) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChain) IsAvailable(ctx context.Context, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("available")
	if f.availErr != nil {
		return false, f.availErr
	}
	return !f.taken[label], nil
}

func (f *fakeChain) RentPrice(ctx context.Context, label string, duration *big.Int) (*big.Int, *big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rentPrice")
	if f.priceErr != nil {
		return nil, nil, f.priceErr
	}
	i := f.priceCalls
	if i >= len(f.quotes) {
		i = len(f.quotes) - 1
	}
	f.priceCalls++
	q := f.quotes[i]
	return q.Base, q.Premium, nil
}

func (f *fakeChain) ResolveForward(ctx context.Context, name string) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("resolve")
	addr, ok := f.addrs[name]
	if !ok {
		return common.Address{}, ens.ErrNotFound
	}
	return addr, nil
}

func (f *fakeChain) SubmitCommit(ctx context.Context, commitment common.Hash) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("commit")
	if f.commitErr != nil {
		return common.Hash{}, f.commitErr
	}
	f.commits = append(f.commits, commitment)
	return common.BytesToHash(append([]byte("commit"), commitment[:4]...)), nil
}

func (f *fakeChain) SubmitRegister(ctx context.Context, p ens.RegisterParams, value *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("register")
	if f.registerErr != nil {
		return common.Hash{}, f.registerErr
	}
	f.registers = append(f.registers, registerCall{params: p, value: new(big.Int).Set(value)})
	return common.BytesToHash([]byte("register")), nil
}

func (f *fakeChain) WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("confirm")
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if txHash == common.BytesToHash([]byte("register")) {
		if f.registerWaitErr != nil {
			return nil, f.registerWaitErr
		}
	} else if f.commitWaitErr != nil {
		return nil, f.commitWaitErr
	}
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func (f *fakeChain) CommitmentTimestamp(ctx context.Context, commitment common.Hash) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("commitmentTimestamp")
	at, ok := f.committedAt[commitment]
	if !ok {
		return time.Time{}, ens.ErrNotFound
	}
	return at, nil
}

func (f *fakeChain) Signer() (common.Address, bool) {
	return f.signer, f.hasSigner
}

func (f *fakeChain) SignerBalance(ctx context.Context) (*big.Int, error) {
	return f.balance, nil
}

// memSink is a RecoverySink that remembers what it was told.
type memSink struct {
	mu      sync.Mutex
	chain   *fakeChain
	saved   []schema.PendingCommitment
	deleted []common.Hash
}

func (m *memSink) SavePending(p schema.PendingCommitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chain != nil {
		m.chain.mu.Lock()
		m.chain.record("savePending")
		m.chain.mu.Unlock()
	}
	m.saved = append(m.saved, p)
	return nil
}

func (m *memSink) DeletePending(commitment common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, commitment)
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []schema.KafkaRegistrationEvent
}

func (m *memEvents) Publish(ev schema.KafkaRegistrationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memEvents) stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		res = append(res, ev.Stage)
	}
	return res
}

// recordWait returns immediately and remembers the requested delays.
type recordWait struct {
	mu     sync.Mutex
	chain  *fakeChain
	delays []time.Duration
	err    error
}

func (w *recordWait) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chain != nil {
		w.chain.mu.Lock()
		w.chain.record("wait")
		w.chain.mu.Unlock()
	}
	w.delays = append(w.delays, d)
	return w.err
}

func sepolia() ens.Network {
	n, err := ens.GetNetwork(ens.Sepolia)
	if err != nil {
		panic(err)
	}
	return n
}

const ownerHex = "0x0000000000000000000000000000000000000001"
