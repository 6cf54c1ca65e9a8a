package ensagent

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/ensagent/rawdb"
	"github.com/everFinance/ensagent/schema"
)

// Store is the recovery journal: one entry per commitment that has been sent
// but not yet registered or abandoned.
type Store struct {
	KVDb rawdb.KeyValueDB
}

func NewBoltStore(boltDirPath string) (*Store, error) {
	Db, err := rawdb.NewBoltDB(boltDirPath)
	if err != nil {
		return nil, err
	}
	return &Store{KVDb: Db}, nil
}

func NewStore(db rawdb.KeyValueDB) *Store {
	return &Store{KVDb: db}
}

func (s *Store) Close() error {
	return s.KVDb.Close()
}

func (s *Store) SavePending(p schema.PendingCommitment) error {
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.KVDb.Put(schema.PendingCommitmentBucket, p.Commitment.Hex(), val)
}

func (s *Store) DeletePending(commitment common.Hash) error {
	return s.KVDb.Delete(schema.PendingCommitmentBucket, commitment.Hex())
}

func (s *Store) LoadPending(commitment common.Hash) (*schema.PendingCommitment, error) {
	val, err := s.KVDb.Get(schema.PendingCommitmentBucket, commitment.Hex())
	if err != nil {
		return nil, err
	}
	p := &schema.PendingCommitment{}
	err = json.Unmarshal(val, p)
	return p, err
}

// FindPending accepts a commitment hash, a commit tx hash, a run id or a name.
// A name matches its most recent commitment.
func (s *Store) FindPending(ref string) (*schema.PendingCommitment, error) {
	if p, err := s.LoadPending(common.HexToHash(ref)); err == nil {
		return p, nil
	}
	all, err := s.ListPending()
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		p := all[i]
		if p.RunId == ref || strings.EqualFold(p.CommitTxHash.Hex(), ref) || p.Name == ref {
			return &p, nil
		}
	}
	return nil, schema.ErrNotExist
}

// ListPending returns journal entries oldest first.
func (s *Store) ListPending() ([]schema.PendingCommitment, error) {
	keys, err := s.KVDb.GetAllKey(schema.PendingCommitmentBucket)
	if err != nil {
		return nil, err
	}
	res := make([]schema.PendingCommitment, 0, len(keys))
	for _, key := range keys {
		p, err := s.LoadPending(common.HexToHash(key))
		if err != nil {
			log.Warn("skip broken journal entry", "key", key, "err", err)
			continue
		}
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CommittedAt.Before(res[j].CommittedAt)
	})
	return res, nil
}

// SweepExpired drops entries older than maxAge; their commitments can no longer be revealed.
func (s *Store) SweepExpired(maxAge time.Duration, now time.Time) (removed int, err error) {
	all, err := s.ListPending()
	if err != nil {
		return 0, err
	}
	for _, p := range all {
		if now.Sub(p.CommittedAt) <= maxAge {
			continue
		}
		if err := s.DeletePending(p.Commitment); err != nil && !errors.Is(err, schema.ErrNotExist) {
			return removed, err
		}
		log.Info("expired commitment removed from journal", "name", p.Name, "commitment", p.Commitment.Hex())
		removed++
	}
	return removed, nil
}
