// Package chain is an in-process simulation of the contracts a theta vault
// talks to: native ETH, WETH, a rebasing liquid staking token and its
// wrapper, a stETH/ETH pool, an options protocol with its oracle, a batch
// auction, and simple strike selection and premium pricing.
//
// Every contract shares one Chain whose journal lets a caller snapshot the
// whole simulated state and revert it, the way an EVM transaction reverts.
// A Chain is not safe for concurrent use; callers serialise access.
package chain

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Clock supplies block time.
type Clock interface {
	Now() time.Time
}

// SystemClock follows the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Chain holds the clock and the revert journal shared by all contracts.
type Chain struct {
	clock   Clock
	journal []func()
	marks   []int
}

func New(clock Clock) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Chain{clock: clock}
}

func (c *Chain) Clock() Clock   { return c.clock }
func (c *Chain) Now() time.Time { return c.clock.Now() }

// Snapshot opens a revert point. Snapshots nest; ids are only valid until
// the snapshot is reverted or committed.
func (c *Chain) Snapshot() int {
	c.marks = append(c.marks, len(c.journal))
	return len(c.marks) - 1
}

// RevertToSnapshot undoes every change made since the snapshot was taken.
func (c *Chain) RevertToSnapshot(id int) {
	if id < 0 || id >= len(c.marks) {
		return
	}
	mark := c.marks[id]
	for i := len(c.journal) - 1; i >= mark; i-- {
		c.journal[i]()
	}
	c.journal = c.journal[:mark]
	c.marks = c.marks[:id]
}

// Commit closes a snapshot keeping its changes. Committing the outermost
// snapshot drops the journal.
func (c *Chain) Commit(id int) {
	if id < 0 || id >= len(c.marks) {
		return
	}
	c.marks = c.marks[:id]
	if id == 0 {
		c.journal = c.journal[:0]
	}
}

// record registers an undo step. Outside a snapshot nothing is journaled.
func (c *Chain) record(undo func()) {
	if len(c.marks) > 0 {
		c.journal = append(c.journal, undo)
	}
}

// NewAddress derives a deterministic address from a label.
func NewAddress(label string) common.Address {
	return common.BytesToAddress(keccak([]byte(label))[12:])
}

func keccak(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
