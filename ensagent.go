package ensagent

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/ensagent/cache"
	"github.com/everFinance/ensagent/common"
	"github.com/everFinance/ensagent/config"
	"github.com/everFinance/ensagent/ens"
	"github.com/everFinance/ensagent/schema"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/panjf2000/ants/v2"
)

var log = common.NewLog("ensagent")

const (
	ServiceName = "ensagent"

	batchPoolSize = 8
)

// Chain is everything the agent needs from one ENS deployment. *ens.Client implements it.
type Chain interface {
	NameOracle
	ForwardResolver
	TxSubmitter
	CommitmentReader
	Signer() (ethCommon.Address, bool)
	SignerBalance(ctx context.Context) (*big.Int, error)
}

var _ Chain = (*ens.Client)(nil)

type Agent struct {
	config     *config.Config
	network    ens.Network
	chain      Chain
	closeChain func()

	quoter    *Quoter
	registrar *Registrar // nil without a signer
	signerErr error

	store    *Store // nil when the journal is disabled
	recovery *RecoveryLog
	kWriter  *KWriter
	events   *EventPublisher
	cache    *ResponseCache
	pool     *ants.Pool

	engine    *gin.Engine
	server    *http.Server
	scheduler *gocron.Scheduler
	closeOnce sync.Once
}

// New dials the configured rpc. A missing or bad private key only disables registration.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	resolved, err := cfg.ResolveRead()
	if err != nil {
		return nil, err
	}
	client, err := ens.Dial(ctx, resolved.RpcUrl, resolved.Network)
	if err != nil {
		return nil, err
	}
	client.SetConfirmations(resolved.Confirmations)

	signing, signerErr := cfg.ResolveSigning()
	if signerErr == nil {
		client = client.WithSigner(signing.Signer)
		log.Info("signer loaded", "address", signing.Signer.Address.Hex())
	} else {
		log.Warn("no usable signer, registration disabled", "err", signerErr)
	}

	a, err := NewWithChain(cfg, resolved.Network, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	if signerErr != nil {
		a.signerErr = signerErr
	}
	a.closeChain = client.Close
	return a, nil
}

func NewWithChain(cfg *config.Config, network ens.Network, chain Chain) (*Agent, error) {
	a := &Agent{
		config:    cfg,
		network:   network,
		chain:     chain,
		quoter:    NewQuoter(chain, network.Name),
		engine:    gin.New(),
		scheduler: gocron.NewScheduler(time.UTC),
	}

	var err error
	if a.pool, err = ants.NewPool(batchPoolSize); err != nil {
		return nil, err
	}
	if cfg.CacheTTL > 0 {
		c, err := cache.NewLocalCache(time.Duration(cfg.CacheTTL) * time.Second)
		if err != nil {
			return nil, err
		}
		a.cache = NewResponseCache(c)
	}
	if cfg.Kafka.Start {
		a.kWriter, err = NewKWriter(RegistrationTopic, cfg.Kafka.Uri)
		if err != nil {
			return nil, err
		}
		a.events = NewEventPublisher(a.kWriter)
	}
	if cfg.Recovery.BoltDir != "" {
		if a.store, err = NewBoltStore(cfg.Recovery.BoltDir); err != nil {
			return nil, err
		}
	}

	if _, ok := chain.Signer(); !ok {
		a.signerErr = config.ErrMissingPrivateKey
		return a, nil
	}
	if a.recovery, err = NewRecoveryLog(cfg.Recovery.LogPath); err != nil {
		return nil, err
	}
	opts := []Option{WithRecoverySink(a.recovery), WithCommitmentReader(chain)}
	if a.store != nil {
		opts = append(opts, WithRecoverySink(a.store))
	}
	if a.events != nil {
		opts = append(opts, WithEventSink(a.events))
	}
	a.registrar = NewRegistrar(network, chain, chain, chain, opts...)
	return a, nil
}

func (a *Agent) Network() ens.Network {
	return a.network
}

func (a *Agent) CheckAvailability(ctx context.Context, name string) (bool, error) {
	return a.quoter.CheckAvailability(ctx, name)
}

// CheckAvailabilityBatch answers every name; a failed name carries its error in the result.
func (a *Agent) CheckAvailabilityBatch(ctx context.Context, names []string) []schema.RespAvailability {
	res := make([]schema.RespAvailability, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		err := a.pool.Submit(func() {
			defer wg.Done()
			res[i], _ = a.availability(ctx, name)
		})
		if err != nil {
			wg.Done()
			res[i] = schema.RespAvailability{Name: name, Error: err.Error()}
		}
	}
	wg.Wait()
	return res
}

func (a *Agent) availability(ctx context.Context, name string) (schema.RespAvailability, error) {
	canonical, err := NormalizeName(name)
	if err != nil {
		return schema.RespAvailability{Name: name, Error: err.Error()}, err
	}
	if resp, ok := a.cache.GetAvailability(canonical); ok {
		return resp, nil
	}
	ok, err := a.quoter.isAvailable(ctx, canonical)
	if err != nil {
		return schema.RespAvailability{Name: canonical, Error: err.Error()}, err
	}
	resp := schema.RespAvailability{Name: canonical, Available: ok}
	a.cache.SetAvailability(resp)
	return resp, nil
}

func (a *Agent) Quote(ctx context.Context, name string, years float64) (schema.PriceQuote, error) {
	return a.quoter.Quote(ctx, name, years)
}

// CanRegister reports the configuration error that disables registration, if any.
func (a *Agent) CanRegister() error {
	if a.registrar == nil {
		return newError(ErrSignerRequired, "registration is disabled", a.signerErr)
	}
	return nil
}

// Register needs a signer; without one it fails before looking at the request.
func (a *Agent) Register(ctx context.Context, req schema.RegistrationRequest) (*schema.RegistrationResult, error) {
	if err := a.CanRegister(); err != nil {
		return nil, err
	}
	if req.Network == "" {
		req.Network = a.network.Name
	}
	res, err := a.registrar.Register(ctx, req)
	if err == nil {
		a.cache.Forget(res.Name)
	}
	return res, err
}

// Reveal finishes a journaled commitment. ref is a commitment hash, commit tx hash, run id or name.
// Without maxPriceWei the ceiling is the current quote plus the usual buffer.
func (a *Agent) Reveal(ctx context.Context, ref string, maxPriceWei *big.Int) (*schema.RegistrationResult, error) {
	if err := a.CanRegister(); err != nil {
		return nil, err
	}
	if a.store == nil {
		return nil, newError(ErrCommitmentNotFound, "recovery journal is not configured", nil)
	}
	pending, err := a.store.FindPending(ref)
	if err != nil {
		if errors.Is(err, schema.ErrNotExist) {
			return nil, newError(ErrCommitmentNotFound, "no journaled commitment for "+ref, nil)
		}
		return nil, err
	}
	if maxPriceWei == nil {
		quote, err := a.quoter.QuoteSeconds(ctx, pending.Name, pending.Duration)
		if err != nil {
			return nil, err
		}
		if quote.HasPremium() {
			return nil, guardPrice(quote, nil).withPending(pending)
		}
		maxPriceWei = registerValue(quote.Total(), nil)
	}
	return a.registrar.Reveal(ctx, *pending, maxPriceWei)
}

func (a *Agent) ListPending() ([]schema.PendingCommitment, error) {
	if a.store == nil {
		return nil, errors.New("recovery journal is not configured")
	}
	return a.store.ListPending()
}

// Run starts jobs, the metric server and the api. It does not block.
func (a *Agent) Run(port string) error {
	if err := a.runJobs(); err != nil {
		return err
	}
	if a.config.MetricPort != "" {
		common.NewMetricServer(a.config.MetricPort)
	}
	return a.runAPI(port)
}

func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.server.Shutdown(ctx); err != nil {
				log.Error("api server shutdown", "err", err)
			}
			cancel()
		}
		a.scheduler.Stop()
		if a.events != nil {
			a.events.Close()
		}
		if a.kWriter != nil {
			a.kWriter.Close()
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				log.Error("close recovery journal", "err", err)
			}
		}
		a.pool.Release()
		if a.closeChain != nil {
			a.closeChain()
		}
	})
}
