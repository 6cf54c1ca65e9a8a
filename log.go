package ensagent

import (
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/ensagent/schema"
	"github.com/inconshreveable/log15"
)

// RecoveryLog is a RecoverySink writing pending commitments, secret included,
// to its own handler. It never shares a handler with the service log or sentry.
type RecoveryLog struct {
	lg log15.Logger
}

// NewRecoveryLog writes json lines to path, or to stderr when path is empty.
func NewRecoveryLog(path string) (*RecoveryLog, error) {
	lg := log15.New("module", "recovery")
	if path == "" {
		lg.SetHandler(log15.StreamHandler(os.Stderr, log15.JsonFormat()))
		return &RecoveryLog{lg: lg}, nil
	}
	h, err := log15.FileHandler(path, log15.JsonFormat())
	if err != nil {
		return nil, err
	}
	lg.SetHandler(h)
	return &RecoveryLog{lg: lg}, nil
}

func newRecoveryLogWithHandler(h log15.Handler) *RecoveryLog {
	lg := log15.New("module", "recovery")
	lg.SetHandler(h)
	return &RecoveryLog{lg: lg}
}

func (r *RecoveryLog) SavePending(p schema.PendingCommitment) error {
	r.lg.Warn("commitment pending, keep this record to finish registration manually",
		"runId", p.RunId,
		"network", p.Network,
		"name", p.Name,
		"owner", p.Owner.Hex(),
		"duration", p.Duration,
		"secret", p.Secret.String(),
		"resolver", p.Resolver.Hex(),
		"commitment", p.Commitment.Hex(),
		"commitTx", p.CommitTxHash.Hex(),
		"committedAt", p.CommittedAt.Unix(),
	)
	return nil
}

func (r *RecoveryLog) DeletePending(commitment common.Hash) error {
	r.lg.Info("commitment settled", "commitment", commitment.Hex())
	return nil
}
