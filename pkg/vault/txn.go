package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/thetavault/pkg/fault"
)

// Checkpoint is what one committed transaction changed.
type Checkpoint struct {
	State         State
	Option        OptionState
	Books         Books
	Settings      Settings
	PricePerShare map[uint16]*uint256.Int
	Withdrawals   map[common.Address]Withdrawal
	Receipts      map[common.Address]DepositReceipt
}

// Snapshot is the complete engine state, as loaded from a Persister.
type Snapshot = Checkpoint

type txn struct {
	journal     int
	state       State
	option      OptionState
	books       Books
	settings    Settings
	undo        []func()
	events      []Event
	pps         map[uint16]*uint256.Int
	withdrawals map[common.Address]struct{}
	receipts    map[common.Address]struct{}
}

// exec runs fn as one transaction.
func (v *Vault) exec(op string, fn func() error) error {
	if !v.entered.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", op, ErrReentrantCall)
	}
	defer v.entered.Store(false)

	v.tx = &txn{
		journal:     v.deps.Journal.Snapshot(),
		state:       v.state.clone(),
		option:      v.option,
		books:       v.books.clone(),
		settings:    v.settings.clone(),
		pps:         make(map[uint16]*uint256.Int),
		withdrawals: make(map[common.Address]struct{}),
		receipts:    make(map[common.Address]struct{}),
	}
	defer func() { v.tx = nil }()

	err := fn()
	if err == nil && v.deps.Store != nil {
		if perr := v.deps.Store.Commit(v.checkpoint()); perr != nil {
			err = fmt.Errorf("persist: %w", perr)
		}
	}
	if err != nil {
		v.rollback()
		kind := fault.KindOf(err)
		v.logger.Debug("Vault transaction reverted", "op", op, "kind", kind, "error", err)
		if v.deps.Observer != nil {
			v.deps.Observer.ObserveRevert(op, kind)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	v.deps.Journal.Commit(v.tx.journal)
	events := v.tx.events
	if v.deps.Observer != nil {
		v.deps.Observer.ObserveCommit(op, v.stats())
	}
	if v.deps.Events != nil {
		for _, ev := range events {
			v.deps.Events.Publish(ev)
		}
	}
	return nil
}

func (v *Vault) rollback() {
	v.deps.Journal.RevertToSnapshot(v.tx.journal)
	for i := len(v.tx.undo) - 1; i >= 0; i-- {
		v.tx.undo[i]()
	}
	v.state = v.tx.state
	v.option = v.tx.option
	v.books = v.tx.books
	v.settings = v.tx.settings
}

func (v *Vault) checkpoint() *Checkpoint {
	c := &Checkpoint{
		State:         v.state.clone(),
		Option:        v.option,
		Books:         v.books.clone(),
		Settings:      v.settings.clone(),
		PricePerShare: make(map[uint16]*uint256.Int, len(v.tx.pps)),
		Withdrawals:   make(map[common.Address]Withdrawal, len(v.tx.withdrawals)),
		Receipts:      make(map[common.Address]DepositReceipt, len(v.tx.receipts)),
	}
	for r, p := range v.tx.pps {
		c.PricePerShare[r] = p.Clone()
	}
	for a := range v.tx.withdrawals {
		c.Withdrawals[a] = v.withdrawals[a].clone()
	}
	for a := range v.tx.receipts {
		c.Receipts[a] = v.receipts[a].clone()
	}
	return c
}

func (v *Vault) emit(ev Event) {
	v.tx.events = append(v.tx.events, ev)
}

func (v *Vault) setWithdrawal(account common.Address, w Withdrawal) {
	old, had := v.withdrawals[account]
	v.tx.undo = append(v.tx.undo, func() {
		if had {
			v.withdrawals[account] = old
		} else {
			delete(v.withdrawals, account)
		}
	})
	v.withdrawals[account] = w
	v.tx.withdrawals[account] = struct{}{}
}

func (v *Vault) setReceipt(account common.Address, r DepositReceipt) {
	old, had := v.receipts[account]
	v.tx.undo = append(v.tx.undo, func() {
		if had {
			v.receipts[account] = old
		} else {
			delete(v.receipts, account)
		}
	})
	v.receipts[account] = r
	v.tx.receipts[account] = struct{}{}
}

// finalizePricePerShare writes the price of a closed round. A round is
// priced exactly once.
func (v *Vault) finalizePricePerShare(round uint16, pps *uint256.Int) error {
	if _, ok := v.pps[round]; ok {
		return fmt.Errorf("%w: round %d", ErrPricePerShareFinalized, round)
	}
	v.tx.undo = append(v.tx.undo, func() { delete(v.pps, round) })
	v.pps[round] = pps.Clone()
	v.tx.pps[round] = pps.Clone()
	return nil
}
