package ensagent

import (
	"context"
	"time"
)

func (a *Agent) runJobs() error {
	if _, ok := a.chain.Signer(); ok {
		if _, err := a.scheduler.Every(1).Minute().SingletonMode().Do(a.updateSignerBalance); err != nil {
			return err
		}
	}
	if a.store != nil {
		if _, err := a.scheduler.Every(10).Minute().SingletonMode().Do(a.sweepJournal); err != nil {
			return err
		}
	}
	a.scheduler.StartAsync()
	return nil
}

func (a *Agent) updateSignerBalance() {
	addr, ok := a.chain.Signer()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	bal, err := a.chain.SignerBalance(ctx)
	if err != nil {
		log.Error("a.chain.SignerBalance(ctx)", "err", err)
		return
	}
	metricSignerBalance(a.network.Name, addr.Hex(), bal)
}

// sweepJournal drops commitments past MaxCommitmentAge; they can no longer be revealed.
func (a *Agent) sweepJournal() {
	removed, err := a.store.SweepExpired(a.network.MaxCommitmentAge, time.Now())
	if err != nil {
		log.Error("a.store.SweepExpired", "err", err)
		return
	}
	if removed > 0 {
		log.Info("swept expired commitments", "removed", removed)
	}
	pending, err := a.store.ListPending()
	if err != nil {
		log.Error("a.store.ListPending()", "err", err)
		return
	}
	metricPendingCommitments(a.network.Name, len(pending))
}
