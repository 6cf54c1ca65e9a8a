package ensagent

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/ensagent/ens"
	"github.com/everFinance/ensagent/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registrarFixture struct {
	chain  *fakeChain
	sink   *memSink
	events *memEvents
	waiter *recordWait
	r      *Registrar
}

func newRegistrarFixture(quotes ...schema.PriceQuote) *registrarFixture {
	chain := newFakeChain(quotes...)
	f := &registrarFixture{
		chain:  chain,
		sink:   &memSink{chain: chain},
		events: &memEvents{},
		waiter: &recordWait{chain: chain},
	}
	f.r = NewRegistrar(sepolia(), chain, chain, chain,
		WithRecoverySink(f.sink),
		WithEventSink(f.events),
		WithWait(f.waiter.wait),
		WithCommitmentReader(chain),
	)
	return f
}

func aliceRequest(maxPrice int64) schema.RegistrationRequest {
	req := schema.RegistrationRequest{
		Name:           "alice12345.eth",
		DurationYears:  1,
		OwnerSpecifier: ownerHex,
		Network:        ens.Sepolia,
	}
	if maxPrice > 0 {
		req.MaxPriceWei = big.NewInt(maxPrice)
	}
	return req
}

func TestRegister_EndToEnd(t *testing.T) {
	f := newRegistrarFixture(quote(1000, 0))

	res, err := f.r.Register(context.Background(), aliceRequest(1100))
	require.NoError(t, err)

	assert.Equal(t, "alice12345.eth", res.Name)
	assert.Equal(t, common.HexToAddress(ownerHex), res.Owner)
	assert.Equal(t, int64(31536000), res.Duration)
	assert.Equal(t, int64(1000), res.Cost.Int64())
	assert.NotEqual(t, common.Hash{}, res.CommitTxHash)
	assert.NotEqual(t, common.Hash{}, res.RegisterTxHash)

	require.Len(t, f.chain.commits, 1)
	require.Len(t, f.chain.registers, 1)
	reg := f.chain.registers[0]
	assert.True(t, reg.value.Cmp(big.NewInt(1000)) >= 0)
	assert.True(t, reg.value.Cmp(big.NewInt(1100)) <= 0)
	assert.Equal(t, "alice12345", reg.params.Label)
	assert.Equal(t, sepolia().PublicResolver, reg.params.Resolver)

	// the register call reveals exactly what was committed
	commitment, err := ens.MakeCommitment(reg.params)
	assert.NoError(t, err)
	assert.Equal(t, f.chain.commits[0], commitment)

	assert.Equal(t, []time.Duration{65 * time.Second}, f.waiter.delays)
	assert.Equal(t, []string{
		"available", "rentPrice", "commit", "savePending", "confirm", "wait", "rentPrice", "register", "confirm",
	}, f.chain.Calls())

	require.Len(t, f.sink.saved, 1)
	assert.Equal(t, []common.Hash{commitment}, f.sink.deleted)
	assert.Equal(t, []string{
		schema.StageValidated, schema.StageCommitted, schema.StageMatured,
		schema.StagePriceChecked, schema.StageRegistered, schema.StageDone,
	}, f.events.stages())
}

func TestRegister_PriceRiseAfterCommit(t *testing.T) {
	f := newRegistrarFixture(quote(1000, 0), quote(1200, 0))

	_, err := f.r.Register(context.Background(), aliceRequest(1100))
	assert.True(t, errors.Is(err, ErrPriceExceededLimit))
	assert.Len(t, f.chain.commits, 1)
	assert.Empty(t, f.chain.registers)

	// still recoverable
	p := Pending(err)
	require.NotNil(t, p)
	assert.Equal(t, f.chain.commits[0], p.Commitment)
	assert.Empty(t, f.sink.deleted)
}

func TestRegister_PremiumAfterCommit(t *testing.T) {
	f := newRegistrarFixture(quote(1000, 0), quote(1000, 5))

	_, err := f.r.Register(context.Background(), aliceRequest(0))
	assert.True(t, errors.Is(err, ErrTemporaryPremiumActive))
	assert.Empty(t, f.chain.registers)
	assert.NotNil(t, Pending(err))
}

func TestRegister_RejectedBeforeCommit(t *testing.T) {
	t.Run("price over limit", func(t *testing.T) {
		f := newRegistrarFixture(quote(1000, 0))
		_, err := f.r.Register(context.Background(), aliceRequest(999))
		assert.True(t, errors.Is(err, ErrPriceExceededLimit))
		assert.Empty(t, f.chain.commits)
		assert.Nil(t, Pending(err))
	})
	t.Run("premium", func(t *testing.T) {
		f := newRegistrarFixture(quote(1000, 1))
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrTemporaryPremiumActive))
		assert.Empty(t, f.chain.commits)
	})
	t.Run("unavailable", func(t *testing.T) {
		f := newRegistrarFixture()
		f.chain.taken["alice12345"] = true
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrNameUnavailable))
		assert.Equal(t, []string{"available"}, f.chain.Calls())
	})
	t.Run("availability query failed", func(t *testing.T) {
		f := newRegistrarFixture()
		f.chain.availErr = errors.New("rpc down")
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrAvailabilityQueryFailed))
		assert.Empty(t, f.chain.commits)
	})
}

func TestRegister_ValidationBeforeNetwork(t *testing.T) {
	cases := map[string]struct {
		mutate func(*schema.RegistrationRequest)
		kind   error
	}{
		"no suffix":       {func(r *schema.RegistrationRequest) { r.Name = "alice12345" }, ErrInvalidNameFormat},
		"short label":     {func(r *schema.RegistrationRequest) { r.Name = "ab.eth" }, ErrInvalidNameFormat},
		"zero years":      {func(r *schema.RegistrationRequest) { r.DurationYears = 0 }, ErrInvalidDuration},
		"negative years":  {func(r *schema.RegistrationRequest) { r.DurationYears = -1 }, ErrInvalidDuration},
		"under 28 days":   {func(r *schema.RegistrationRequest) { r.DurationYears = 0.05 }, ErrInvalidDuration},
		"bad owner":       {func(r *schema.RegistrationRequest) { r.OwnerSpecifier = "0x1234" }, ErrInvalidOwnerAddress},
		"empty owner":     {func(r *schema.RegistrationRequest) { r.OwnerSpecifier = "" }, ErrInvalidOwnerAddress},
		"zero owner":      {func(r *schema.RegistrationRequest) { r.OwnerSpecifier = common.Address{}.Hex() }, ErrInvalidOwnerAddress},
		"other network":   {func(r *schema.RegistrationRequest) { r.Network = ens.Mainnet }, ens.ErrUnsupportedNetwork},
		"bad name + owner": {func(r *schema.RegistrationRequest) { r.Name = "x"; r.OwnerSpecifier = "0x1" }, ErrInvalidNameFormat},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newRegistrarFixture()
			req := aliceRequest(0)
			tc.mutate(&req)
			_, err := f.r.Register(context.Background(), req)
			assert.True(t, errors.Is(err, tc.kind), "%v", err)
			assert.Empty(t, f.chain.Calls())
			assert.Equal(t, []string{schema.StageFailed}, f.events.stages())
		})
	}
}

func TestRegister_OwnerByName(t *testing.T) {
	f := newRegistrarFixture()
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	f.chain.addrs["bob.eth"] = bob

	req := aliceRequest(0)
	req.OwnerSpecifier = "bob.eth"
	res, err := f.r.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, bob, res.Owner)
	assert.Equal(t, bob, f.chain.registers[0].params.Owner)

	req.OwnerSpecifier = "nobody.eth"
	_, err = f.r.Register(context.Background(), req)
	assert.True(t, errors.Is(err, ErrOwnerResolutionFailed))
	assert.Contains(t, err.Error(), "Could not resolve: nobody.eth")
	assert.Len(t, f.chain.commits, 1)
}

func TestRegister_Interrupted(t *testing.T) {
	f := newRegistrarFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.r.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.r.Register(ctx, aliceRequest(0))
	assert.True(t, errors.Is(err, ErrRegistrationInterrupted))
	assert.True(t, errors.Is(err, context.Canceled))
	p := Pending(err)
	require.NotNil(t, p)
	assert.Len(t, p.Secret, 32)
	assert.Empty(t, f.chain.registers)
	// the journal keeps the entry for a later reveal
	assert.Len(t, f.sink.saved, 1)
	assert.Empty(t, f.sink.deleted)
}

func TestRegister_CommitFailures(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		f := newRegistrarFixture()
		f.chain.commitErr = errors.New("insufficient funds")
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrCommitTransactionFailed))
		assert.Nil(t, Pending(err))
		assert.Empty(t, f.sink.saved)
	})
	t.Run("reverted", func(t *testing.T) {
		f := newRegistrarFixture()
		f.chain.commitWaitErr = ens.ErrTxReverted
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrCommitTransactionFailed))
		assert.True(t, errors.Is(err, ens.ErrTxReverted))
		assert.Len(t, f.sink.saved, 1)
		assert.Len(t, f.sink.deleted, 1)
		assert.Empty(t, f.waiter.delays)
	})
}

func TestRegister_RegisterFailures(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		f := newRegistrarFixture()
		f.chain.registerErr = errors.New("nonce too low")
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrRegisterTransactionFailed))
		assert.NotNil(t, Pending(err))
		assert.Empty(t, f.sink.deleted)
	})
	t.Run("reverted", func(t *testing.T) {
		f := newRegistrarFixture()
		f.chain.registerWaitErr = ens.ErrTxReverted
		_, err := f.r.Register(context.Background(), aliceRequest(0))
		assert.True(t, errors.Is(err, ErrRegisterTransactionFailed))
		assert.NotNil(t, Pending(err))
	})
}

func TestRegister_SecretStaysOutOfErrors(t *testing.T) {
	f := newRegistrarFixture(quote(1000, 0), quote(5000, 0))
	secret := bytes.Repeat([]byte{0xab}, 32)
	f.r.random = bytes.NewReader(secret)

	_, err := f.r.Register(context.Background(), aliceRequest(1100))
	require.Error(t, err)
	p := Pending(err)
	require.NotNil(t, p)
	assert.Equal(t, secret, []byte(p.Secret))
	assert.NotContains(t, err.Error(), hex.EncodeToString(secret))
	assert.Equal(t, secret, []byte(f.sink.saved[0].Secret))
}

func TestRegister_FreshSecretPerRun(t *testing.T) {
	f := newRegistrarFixture()
	_, err := f.r.Register(context.Background(), aliceRequest(0))
	require.NoError(t, err)
	_, err = f.r.Register(context.Background(), aliceRequest(0))
	require.NoError(t, err)
	require.Len(t, f.sink.saved, 2)
	assert.NotEqual(t, f.sink.saved[0].Secret, f.sink.saved[1].Secret)
	assert.NotEqual(t, f.sink.saved[0].Commitment, f.sink.saved[1].Commitment)
}

func TestRegister_NoSigner(t *testing.T) {
	chain := newFakeChain()
	r := NewRegistrar(sepolia(), chain, chain, nil)
	_, err := r.Register(context.Background(), aliceRequest(0))
	assert.True(t, errors.Is(err, ErrSignerRequired))
	assert.Empty(t, chain.Calls())
}

func TestRegisterValue(t *testing.T) {
	assert.Equal(t, int64(1100), registerValue(big.NewInt(1000), nil).Int64())
	assert.Equal(t, int64(1050), registerValue(big.NewInt(1000), big.NewInt(1050)).Int64())
	assert.Equal(t, int64(1000), registerValue(big.NewInt(1000), big.NewInt(1000)).Int64())
}

func pendingFor(t *testing.T, chain *fakeChain, committedAt time.Time) schema.PendingCommitment {
	p := schema.PendingCommitment{
		RunId:    "run-1",
		Network:  ens.Sepolia,
		Name:     "alice12345.eth",
		Owner:    common.HexToAddress(ownerHex),
		Duration: schema.SecondsPerYear,
		Secret:   bytes.Repeat([]byte{1}, 32),
		Resolver: sepolia().PublicResolver,
	}
	commitment, err := ens.MakeCommitment(ens.RegisterParams{
		Label:    "alice12345",
		Owner:    p.Owner,
		Duration: big.NewInt(p.Duration),
		Secret:   p.SecretBytes(),
		Resolver: p.Resolver,
	})
	require.NoError(t, err)
	p.Commitment = commitment
	chain.committedAt[commitment] = committedAt
	return p
}

func TestReveal(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("mature", func(t *testing.T) {
		f := newRegistrarFixture()
		f.r.now = func() time.Time { return now }
		p := pendingFor(t, f.chain, now.Add(-10*time.Minute))

		res, err := f.r.Reveal(context.Background(), p, nil)
		require.NoError(t, err)
		assert.Equal(t, "alice12345.eth", res.Name)
		assert.Empty(t, f.waiter.delays)
		assert.Len(t, f.chain.registers, 1)
		assert.Empty(t, f.chain.commits)
		assert.Equal(t, []common.Hash{p.Commitment}, f.sink.deleted)
	})
	t.Run("waits out the remaining age", func(t *testing.T) {
		f := newRegistrarFixture()
		f.r.now = func() time.Time { return now }
		p := pendingFor(t, f.chain, now.Add(-20*time.Second))

		_, err := f.r.Reveal(context.Background(), p, nil)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{45 * time.Second}, f.waiter.delays)
	})
	t.Run("expired", func(t *testing.T) {
		f := newRegistrarFixture()
		f.r.now = func() time.Time { return now }
		p := pendingFor(t, f.chain, now.Add(-25*time.Hour))

		_, err := f.r.Reveal(context.Background(), p, nil)
		assert.True(t, errors.Is(err, ErrCommitmentExpired))
		assert.Empty(t, f.chain.registers)
		assert.Equal(t, []common.Hash{p.Commitment}, f.sink.deleted)
	})
	t.Run("not on chain", func(t *testing.T) {
		f := newRegistrarFixture()
		p := pendingFor(t, f.chain, now)
		delete(f.chain.committedAt, p.Commitment)

		_, err := f.r.Reveal(context.Background(), p, nil)
		assert.True(t, errors.Is(err, ErrCommitmentNotFound))
	})
	t.Run("tampered record", func(t *testing.T) {
		f := newRegistrarFixture()
		p := pendingFor(t, f.chain, now)
		p.Owner = common.HexToAddress("0x02")

		_, err := f.r.Reveal(context.Background(), p, nil)
		assert.True(t, errors.Is(err, ErrCommitmentNotFound))
		assert.Empty(t, f.chain.Calls())
	})
	t.Run("price guard", func(t *testing.T) {
		f := newRegistrarFixture(quote(5000, 0))
		f.r.now = func() time.Time { return now }
		p := pendingFor(t, f.chain, now.Add(-time.Hour))

		_, err := f.r.Reveal(context.Background(), p, big.NewInt(1000))
		assert.True(t, errors.Is(err, ErrPriceExceededLimit))
		assert.Empty(t, f.chain.registers)
	})
}

func TestRegister_LongDuration(t *testing.T) {
	f := newRegistrarFixture(quote(1000, 0))
	req := aliceRequest(0)
	req.DurationYears = 300

	res, err := f.r.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(300*schema.SecondsPerYear), res.Duration)
	require.Len(t, f.chain.registers, 1)
	assert.Equal(t, int64(300*schema.SecondsPerYear), f.chain.registers[0].params.Duration.Int64())
}

func TestRegister_StageOwner(t *testing.T) {
	f := newRegistrarFixture(quote(1000, 0))
	_, err := f.r.Register(context.Background(), aliceRequest(0))
	require.NoError(t, err)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.NotEmpty(t, f.events.events)
	for _, ev := range f.events.events {
		if ev.Stage == schema.StageValidated {
			// not resolved yet
			assert.Empty(t, ev.Owner)
			continue
		}
		assert.Equal(t, common.HexToAddress(ownerHex).Hex(), ev.Owner, ev.Stage)
	}
}
