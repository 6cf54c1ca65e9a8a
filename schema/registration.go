package schema

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	EthSuffix      = ".eth"
	SecondsPerYear = 31536000 // 365 days

	// RegisterValueBufferPercent is added on top of the quoted total when paying for register.
	// The controller refunds anything above the actual price.
	RegisterValueBufferPercent = 10
)

// registration stages
const (
	StageValidated    = "validated"
	StageCommitted    = "committed"
	StageMatured      = "matured"
	StagePriceChecked = "price_checked"
	StageRegistered   = "registered"
	StageDone         = "done"
	StageFailed       = "failed"
)

type RegistrationRequest struct {
	Name           string   `json:"name"`
	DurationYears  float64  `json:"durationYears"`
	OwnerSpecifier string   `json:"owner"`
	Network        string   `json:"network"`
	MaxPriceWei    *big.Int `json:"maxPriceWei,omitempty"` // optional; nil means no bound
}

type PriceQuote struct {
	Base    *big.Int `json:"base"`
	Premium *big.Int `json:"premium"`
}

func (p PriceQuote) Total() *big.Int {
	total := new(big.Int)
	if p.Base != nil {
		total.Add(total, p.Base)
	}
	if p.Premium != nil {
		total.Add(total, p.Premium)
	}
	return total
}

func (p PriceQuote) HasPremium() bool {
	return p.Premium != nil && p.Premium.Sign() > 0
}

type RegistrationResult struct {
	Name           string         `json:"name"`
	Owner          common.Address `json:"owner"`
	Duration       int64          `json:"durationSeconds"`
	CommitTxHash   common.Hash    `json:"commitTxHash"`
	RegisterTxHash common.Hash    `json:"registerTxHash"`
	Cost           *big.Int       `json:"costWei"` // total of the guard quote
}

// PendingCommitment is everything needed to reveal a commitment by hand.
// It carries the secret, so it only ever goes to the recovery sink and the recovery journal.
type PendingCommitment struct {
	RunId        string         `json:"runId"`
	Network      string         `json:"network"`
	Name         string         `json:"name"`
	Owner        common.Address `json:"owner"`
	Duration     int64          `json:"duration"`
	Secret       hexutil.Bytes  `json:"secret"`
	Resolver     common.Address `json:"resolver"`
	Commitment   common.Hash    `json:"commitment"`
	CommitTxHash common.Hash    `json:"commitTxHash"`
	CommittedAt  time.Time      `json:"committedAt"`
}

func (p PendingCommitment) SecretBytes() (secret [32]byte) {
	copy(secret[:], p.Secret)
	return
}
