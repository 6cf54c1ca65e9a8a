package ensagent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/everFinance/ensagent/ens"
	"github.com/everFinance/ensagent/schema"
	"github.com/google/uuid"
)

type TxSubmitter interface {
	SubmitCommit(ctx context.Context, commitment common.Hash) (common.Hash, error)
	SubmitRegister(ctx context.Context, p ens.RegisterParams, value *big.Int) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type CommitmentReader interface {
	// CommitmentTimestamp returns ens.ErrNotFound for unknown commitments.
	CommitmentTimestamp(ctx context.Context, commitment common.Hash) (time.Time, error)
}

// RecoverySink receives every pending commitment before the maturation wait starts,
// and is told when the commitment no longer needs recovering.
type RecoverySink interface {
	SavePending(p schema.PendingCommitment) error
	DeletePending(commitment common.Hash) error
}

type EventSink interface {
	Publish(ev schema.KafkaRegistrationEvent)
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Option func(*Registrar)

func WithRecoverySink(s RecoverySink) Option {
	return func(r *Registrar) { r.sinks = append(r.sinks, s) }
}

func WithEventSink(s EventSink) Option {
	return func(r *Registrar) { r.events = s }
}

func WithWait(w WaitFunc) Option {
	return func(r *Registrar) { r.wait = w }
}

func WithRandom(rd io.Reader) Option {
	return func(r *Registrar) { r.random = rd }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registrar) { r.now = now }
}

func WithCommitmentReader(c CommitmentReader) Option {
	return func(r *Registrar) { r.commitments = c }
}

// Registrar drives commit, maturation wait, price guard and register for one name at a time.
// Runs share nothing, so concurrent calls only contend on the signer nonce.
type Registrar struct {
	network     ens.Network
	quoter      *Quoter
	owners      *OwnerResolver
	submitter   TxSubmitter
	commitments CommitmentReader
	sinks       []RecoverySink
	events      EventSink
	wait        WaitFunc
	random      io.Reader
	now         func() time.Time
}

func NewRegistrar(network ens.Network, oracle NameOracle, resolver ForwardResolver, submitter TxSubmitter, opts ...Option) *Registrar {
	r := &Registrar{
		network:   network,
		quoter:    NewQuoter(oracle, network.Name),
		owners:    NewOwnerResolver(resolver),
		submitter: submitter,
		wait:      sleep,
		random:    rand.Reader,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type run struct {
	id       string
	name     string
	owner    common.Address
	duration int64
	stage    string
	pending  *schema.PendingCommitment
	start    time.Time
}

// Register takes a name from validation to a confirmed register transaction.
// Every failure after the commit is submitted carries the pending commitment.
func (r *Registrar) Register(ctx context.Context, req schema.RegistrationRequest) (res *schema.RegistrationResult, err error) {
	rn := &run{id: uuid.NewString(), name: req.Name, start: time.Now()}
	defer func() { r.finish(rn, res, err) }()

	if r.submitter == nil {
		return nil, newError(ErrSignerRequired, "registration needs a signing key", nil)
	}
	if req.Network != "" && !strings.EqualFold(req.Network, r.network.Name) {
		return nil, newError(ens.ErrUnsupportedNetwork,
			fmt.Sprintf("registrar is bound to %s, request is for %s", r.network.Name, req.Network), nil)
	}
	canonical, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	rn.name = canonical
	seconds, err := DurationSeconds(req.DurationYears)
	if err != nil {
		return nil, err
	}
	if seconds < int64(ens.MinRegistrationDuration/time.Second) {
		return nil, newError(ErrInvalidDuration,
			fmt.Sprintf("duration must be at least %d days", int(ens.MinRegistrationDuration.Hours()/24)), nil)
	}
	rn.duration = seconds
	if spec := strings.TrimSpace(req.OwnerSpecifier); spec == "" || isAddressLiteral(spec) {
		if _, err := parseOwnerAddress(spec); err != nil {
			return nil, err
		}
	}
	r.stage(rn, schema.StageValidated)

	owner, err := r.owners.ResolveOwner(ctx, req.OwnerSpecifier)
	if err != nil {
		return nil, err
	}
	rn.owner = owner

	available, err := r.quoter.isAvailable(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, newError(ErrNameUnavailable, canonical+" is not available", nil)
	}
	quote, err := r.quoter.QuoteSeconds(ctx, canonical, seconds)
	if err != nil {
		return nil, err
	}
	if e := guardPrice(quote, req.MaxPriceWei); e != nil {
		return nil, e
	}

	var secret [32]byte
	if _, err := io.ReadFull(r.random, secret[:]); err != nil {
		return nil, newError(ErrCommitTransactionFailed, "generate secret failed", err)
	}
	params := ens.RegisterParams{
		Label:    Label(canonical),
		Owner:    owner,
		Duration: big.NewInt(seconds),
		Secret:   secret,
		Resolver: r.network.PublicResolver,
	}
	commitment, err := ens.MakeCommitment(params)
	if err != nil {
		return nil, newError(ErrCommitTransactionFailed, "make commitment failed", err)
	}
	commitTx, err := r.submitter.SubmitCommit(ctx, commitment)
	if err != nil {
		return nil, newError(ErrCommitTransactionFailed, "submit commit failed", err)
	}
	pending := &schema.PendingCommitment{
		RunId:        rn.id,
		Network:      r.network.Name,
		Name:         canonical,
		Owner:        owner,
		Duration:     seconds,
		Secret:       secret[:],
		Resolver:     r.network.PublicResolver,
		Commitment:   commitment,
		CommitTxHash: commitTx,
		CommittedAt:  r.now(),
	}
	rn.pending = pending
	r.savePending(pending)

	if _, err := r.submitter.WaitForConfirmation(ctx, commitTx); err != nil {
		if ctx.Err() != nil {
			return nil, newError(ErrRegistrationInterrupted, "interrupted waiting for commit", err).withPending(pending)
		}
		r.deletePending(pending)
		return nil, newError(ErrCommitTransactionFailed, "commit not confirmed: "+r.network.TxUrl(commitTx), err)
	}
	r.stage(rn, schema.StageCommitted)

	delay := r.network.MaturationDelay()
	log.Info("waiting for commitment to mature", "runId", rn.id, "name", canonical, "wait", delay)
	if err := r.wait(ctx, delay); err != nil {
		return nil, newError(ErrRegistrationInterrupted, "interrupted waiting for maturation", err).withPending(pending)
	}
	r.stage(rn, schema.StageMatured)

	return r.reveal(ctx, rn, params, req.MaxPriceWei)
}

// Reveal finishes a registration from a pending commitment, usually one recovered
// from the journal after an interrupted run.
func (r *Registrar) Reveal(ctx context.Context, pending schema.PendingCommitment, maxPriceWei *big.Int) (res *schema.RegistrationResult, err error) {
	p := &pending
	rn := &run{id: pending.RunId, name: pending.Name, owner: pending.Owner, duration: pending.Duration, pending: p, start: time.Now()}
	if rn.id == "" {
		rn.id = uuid.NewString()
	}
	defer func() { r.finish(rn, res, err) }()

	if r.submitter == nil {
		return nil, newError(ErrSignerRequired, "reveal needs a signing key", nil)
	}
	if r.commitments == nil {
		return nil, newError(ErrCommitmentNotFound, "no commitment reader configured", nil)
	}
	params := ens.RegisterParams{
		Label:    Label(pending.Name),
		Owner:    pending.Owner,
		Duration: big.NewInt(pending.Duration),
		Secret:   pending.SecretBytes(),
		Resolver: pending.Resolver,
	}
	commitment, err := ens.MakeCommitment(params)
	if err != nil || commitment != pending.Commitment {
		return nil, newError(ErrCommitmentNotFound, "pending record does not reproduce its commitment", err).withPending(p)
	}

	committedAt, err := r.commitments.CommitmentTimestamp(ctx, commitment)
	if err != nil {
		if errors.Is(err, ens.ErrNotFound) {
			return nil, newError(ErrCommitmentNotFound, "commitment is not on chain: "+commitment.Hex(), nil).withPending(p)
		}
		return nil, newError(ErrCommitmentNotFound, "read commitment failed", err).withPending(p)
	}
	age := r.now().Sub(committedAt)
	if age > r.network.MaxCommitmentAge {
		r.deletePending(p)
		return nil, newError(ErrCommitmentExpired, fmt.Sprintf("commitment is %s old", age.Truncate(time.Second)), nil).withPending(p)
	}
	if remaining := r.network.MaturationDelay() - age; remaining > 0 {
		log.Info("waiting for commitment to mature", "runId", rn.id, "name", pending.Name, "wait", remaining)
		if err := r.wait(ctx, remaining); err != nil {
			return nil, newError(ErrRegistrationInterrupted, "interrupted waiting for maturation", err).withPending(p)
		}
	}
	r.stage(rn, schema.StageMatured)

	return r.reveal(ctx, rn, params, maxPriceWei)
}

func (r *Registrar) reveal(ctx context.Context, rn *run, params ens.RegisterParams, maxPriceWei *big.Int) (*schema.RegistrationResult, error) {
	pending := rn.pending
	quote, err := r.quoter.QuoteSeconds(ctx, pending.Name, pending.Duration)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.withPending(pending)
		}
		return nil, err
	}
	if e := guardPrice(quote, maxPriceWei); e != nil {
		return nil, e.withPending(pending)
	}
	r.stage(rn, schema.StagePriceChecked)

	value := registerValue(quote.Total(), maxPriceWei)
	registerTx, err := r.submitter.SubmitRegister(ctx, params, value)
	if err != nil {
		return nil, newError(ErrRegisterTransactionFailed, "submit register failed", err).withPending(pending)
	}
	if _, err := r.submitter.WaitForConfirmation(ctx, registerTx); err != nil {
		kind := ErrRegisterTransactionFailed
		if ctx.Err() != nil {
			kind = ErrRegistrationInterrupted
		}
		return nil, newError(kind, "register not confirmed: "+r.network.TxUrl(registerTx), err).withPending(pending)
	}
	r.stage(rn, schema.StageRegistered)
	r.deletePending(pending)

	return &schema.RegistrationResult{
		Name:           pending.Name,
		Owner:          pending.Owner,
		Duration:       pending.Duration,
		CommitTxHash:   pending.CommitTxHash,
		RegisterTxHash: registerTx,
		Cost:           quote.Total(),
	}, nil
}

func guardPrice(quote schema.PriceQuote, maxPriceWei *big.Int) *Error {
	total := quote.Total()
	if maxPriceWei != nil && total.Cmp(maxPriceWei) > 0 {
		return newError(ErrPriceExceededLimit, fmt.Sprintf("price %s wei exceeds limit %s wei", total, maxPriceWei), nil)
	}
	if quote.HasPremium() {
		return newError(ErrTemporaryPremiumActive, fmt.Sprintf("name carries a temporary premium of %s wei", quote.Premium), nil)
	}
	return nil
}

// registerValue pays the quote plus a buffer for price drift, never above the caller's limit.
// The controller refunds the excess.
func registerValue(total, maxPriceWei *big.Int) *big.Int {
	value := new(big.Int).Mul(total, big.NewInt(100+schema.RegisterValueBufferPercent))
	value.Div(value, big.NewInt(100))
	if maxPriceWei != nil && value.Cmp(maxPriceWei) > 0 {
		value.Set(maxPriceWei)
	}
	if value.Cmp(total) < 0 {
		value.Set(total)
	}
	return value
}

func (r *Registrar) savePending(p *schema.PendingCommitment) {
	for _, s := range r.sinks {
		if err := s.SavePending(*p); err != nil {
			log.Error("save pending commitment failed", "err", err, "runId", p.RunId, "name", p.Name)
		}
	}
}

func (r *Registrar) deletePending(p *schema.PendingCommitment) {
	for _, s := range r.sinks {
		if err := s.DeletePending(p.Commitment); err != nil {
			log.Error("delete pending commitment failed", "err", err, "runId", p.RunId, "name", p.Name)
		}
	}
}

func (r *Registrar) stage(rn *run, stage string) {
	rn.stage = stage
	ctx := []interface{}{"runId", rn.id, "stage", stage, "name", rn.name, "duration", rn.duration}
	if rn.owner != (common.Address{}) {
		ctx = append(ctx, "owner", rn.owner.Hex())
	}
	log.Info("registration stage", ctx...)
	r.publish(rn, stage, "", common.Hash{}, nil)
}

func (r *Registrar) finish(rn *run, res *schema.RegistrationResult, err error) {
	if err == nil {
		metricRegistration(r.network.Name, "success", rn.start)
		log.Info("registration done", "runId", rn.id, "name", res.Name, "owner", res.Owner.Hex(),
			"registerTx", res.RegisterTxHash.Hex(), "cost", FormatEther(res.Cost))
		r.publish(rn, schema.StageDone, "", res.RegisterTxHash, res.Cost)
		return
	}
	kind := Kind(err)
	if kind == "" {
		kind = "unknown"
	}
	metricRegistration(r.network.Name, kind, rn.start)
	log.Error("registration failed", "runId", rn.id, "name", rn.name, "stage", rn.stage, "kind", kind, "err", err)
	r.publish(rn, schema.StageFailed, kind, common.Hash{}, nil)
}

func (r *Registrar) publish(rn *run, stage, kind string, registerTx common.Hash, cost *big.Int) {
	if r.events == nil {
		return
	}
	ev := schema.KafkaRegistrationEvent{
		RunId:     rn.id,
		Network:   r.network.Name,
		Name:      rn.name,
		Duration:  rn.duration,
		Stage:     stage,
		Kind:      kind,
		Timestamp: time.Now().Unix(),
	}
	if rn.owner != (common.Address{}) {
		ev.Owner = rn.owner.Hex()
	}
	if rn.pending != nil {
		ev.CommitTxHash = rn.pending.CommitTxHash.Hex()
	}
	if registerTx != (common.Hash{}) {
		ev.RegisterTxHash = registerTx.Hex()
	}
	if cost != nil {
		ev.CostWei = cost.String()
	}
	r.events.Publish(ev)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
