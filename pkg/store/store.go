// Package store persists vault checkpoints in a luxfi database. Every
// checkpoint is written as one batch and round prices are write-once.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/fault"
	"github.com/luxfi/thetavault/pkg/vault"
)

var (
	stateKey    = []byte("vault/state")
	optionKey   = []byte("vault/option")
	booksKey    = []byte("vault/books")
	settingsKey = []byte("vault/settings")

	ppsPrefix        = []byte("pps/")
	withdrawalPrefix = []byte("withdrawal/")
	receiptPrefix    = []byte("receipt/")
)

var (
	ErrPricePerShareExists = fault.New(fault.StateConflict, "round price per share already stored")
	ErrEmpty               = errors.New("store: no vault state")
)

// Store is a vault.Persister backed by a luxfi database.
type Store struct {
	mu     sync.Mutex
	db     database.Database
	logger log.Logger
}

func New(db database.Database, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root().New("module", "store")
	}
	return &Store{db: db, logger: logger}
}

func ppsKey(round uint16) []byte {
	key := make([]byte, len(ppsPrefix)+2)
	copy(key, ppsPrefix)
	binary.BigEndian.PutUint16(key[len(ppsPrefix):], round)
	return key
}

func accountKey(prefix []byte, account common.Address) []byte {
	return append(append([]byte(nil), prefix...), account.Bytes()...)
}

// Commit writes a checkpoint atomically. A checkpoint that would overwrite
// a stored round price is rejected whole.
func (s *Store) Commit(c *vault.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Reset()

	for round, pps := range c.PricePerShare {
		key := ppsKey(round)
		has, err := s.db.Has(key)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: round %d", ErrPricePerShareExists, round)
		}
		value := pps.Bytes32()
		if err := batch.Put(key, value[:]); err != nil {
			return err
		}
	}

	for key, v := range map[string]any{
		string(stateKey):    c.State,
		string(optionKey):   c.Option,
		string(booksKey):    c.Books,
		string(settingsKey): c.Settings,
	} {
		if err := putJSON(batch, []byte(key), v); err != nil {
			return err
		}
	}
	for account, w := range c.Withdrawals {
		if err := putJSON(batch, accountKey(withdrawalPrefix, account), w); err != nil {
			return err
		}
	}
	for account, r := range c.Receipts {
		if err := putJSON(batch, accountKey(receiptPrefix, account), r); err != nil {
			return err
		}
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	s.logger.Debug("Committed checkpoint",
		"round", c.State.Round,
		"prices", len(c.PricePerShare),
		"withdrawals", len(c.Withdrawals),
		"receipts", len(c.Receipts),
	)
	return nil
}

func putJSON(batch database.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return batch.Put(key, data)
}

func (s *Store) getJSON(key []byte, v any) error {
	data, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Load reads the full engine state. It returns ErrEmpty if nothing has
// been committed yet.
func (s *Store) Load() (*vault.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &vault.Snapshot{
		Withdrawals: make(map[common.Address]vault.Withdrawal),
		Receipts:    make(map[common.Address]vault.DepositReceipt),
	}
	if err := s.getJSON(stateKey, &snap.State); err != nil {
		if err == database.ErrNotFound {
			return nil, ErrEmpty
		}
		return nil, err
	}
	for key, v := range map[string]any{
		string(optionKey):   &snap.Option,
		string(booksKey):    &snap.Books,
		string(settingsKey): &snap.Settings,
	} {
		if err := s.getJSON([]byte(key), v); err != nil {
			return nil, err
		}
	}

	var err error
	if snap.PricePerShare, err = s.history(); err != nil {
		return nil, err
	}
	if err := s.scan(withdrawalPrefix, func(account common.Address, data []byte) error {
		var w vault.Withdrawal
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		snap.Withdrawals[account] = w
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load withdrawals: %w", err)
	}
	if err := s.scan(receiptPrefix, func(account common.Address, data []byte) error {
		var r vault.DepositReceipt
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		snap.Receipts[account] = r
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}

	s.logger.Info("Loaded vault state",
		"round", snap.State.Round,
		"prices", len(snap.PricePerShare),
		"withdrawals", len(snap.Withdrawals),
		"receipts", len(snap.Receipts),
	)
	return snap, nil
}

func (s *Store) scan(prefix []byte, fn func(common.Address, []byte) error) error {
	it := s.db.NewIteratorWithPrefix(prefix)
	defer it.Release()
	for it.Next() {
		account := common.BytesToAddress(it.Key()[len(prefix):])
		if err := fn(account, it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// RoundPricePerShare returns the stored price of a closed round.
func (s *Store) RoundPricePerShare(round uint16) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.db.Get(ppsKey(round))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(data), nil
}

// PricePerShareHistory returns every stored round price.
func (s *Store) PricePerShareHistory() (map[uint16]*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history()
}

func (s *Store) history() (map[uint16]*uint256.Int, error) {
	out := make(map[uint16]*uint256.Int)
	it := s.db.NewIteratorWithPrefix(ppsPrefix)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(ppsPrefix)+2 {
			continue
		}
		round := binary.BigEndian.Uint16(key[len(ppsPrefix):])
		out[round] = new(uint256.Int).SetBytes(it.Value())
	}
	return out, it.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}
