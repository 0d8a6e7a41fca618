package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the round accounting of the vault.
type State struct {
	Round                       uint16       `json:"round"`
	LockedAmount                *uint256.Int `json:"lockedAmount"`
	LastLockedAmount            *uint256.Int `json:"lastLockedAmount"`
	TotalPending                *uint256.Int `json:"totalPending"`
	QueuedWithdrawShares        *uint256.Int `json:"queuedWithdrawShares"`
	CurrentQueuedWithdrawAmount *uint256.Int `json:"currentQueuedWithdrawAmount"`
}

func newState() State {
	return State{
		Round:                       1,
		LockedAmount:                new(uint256.Int),
		LastLockedAmount:            new(uint256.Int),
		TotalPending:                new(uint256.Int),
		QueuedWithdrawShares:        new(uint256.Int),
		CurrentQueuedWithdrawAmount: new(uint256.Int),
	}
}

func (s State) clone() State {
	s.LockedAmount = s.LockedAmount.Clone()
	s.LastLockedAmount = s.LastLockedAmount.Clone()
	s.TotalPending = s.TotalPending.Clone()
	s.QueuedWithdrawShares = s.QueuedWithdrawShares.Clone()
	s.CurrentQueuedWithdrawAmount = s.CurrentQueuedWithdrawAmount.Clone()
	return s
}

// OptionState tracks the live and the committed option. A zero address
// means none.
type OptionState struct {
	CurrentOption     common.Address `json:"currentOption"`
	NextOption        common.Address `json:"nextOption"`
	NextOptionReadyAt time.Time      `json:"nextOptionReadyAt"`
}

// Withdrawal is an account's queued withdrawal. Round is kept after the
// withdrawal completes; Shares drops to zero.
type Withdrawal struct {
	Shares *uint256.Int `json:"shares"`
	Round  uint16       `json:"round"`
}

func (w Withdrawal) clone() Withdrawal {
	w.Shares = orZero(w.Shares)
	return w
}

// DepositReceipt records an account's pending deposit and the shares it
// has earned but not yet redeemed.
type DepositReceipt struct {
	Round            uint16       `json:"round"`
	Amount           *uint256.Int `json:"amount"`
	UnredeemedShares *uint256.Int `json:"unredeemedShares"`
}

func (r DepositReceipt) clone() DepositReceipt {
	r.Amount = orZero(r.Amount)
	r.UnredeemedShares = orZero(r.UnredeemedShares)
	return r
}

// Books is engine bookkeeping that lives beside State.
type Books struct {
	CurrentRoundQueuedShares *uint256.Int `json:"currentRoundQueuedShares"`
	CurrentOtokenPremium     *uint256.Int `json:"currentOtokenPremium"`
	OptionAuctionID          uint64       `json:"optionAuctionId"`
	LastRollAt               time.Time    `json:"lastRollAt"`
	StrikeOverrideRound      uint16       `json:"strikeOverrideRound"`
	OverriddenStrike         *uint256.Int `json:"overriddenStrike"`
}

func newBooks() Books {
	return Books{
		CurrentRoundQueuedShares: new(uint256.Int),
		CurrentOtokenPremium:     new(uint256.Int),
		OverriddenStrike:         new(uint256.Int),
	}
}

func (b Books) clone() Books {
	b.CurrentRoundQueuedShares = orZero(b.CurrentRoundQueuedShares)
	b.CurrentOtokenPremium = orZero(b.CurrentOtokenPremium)
	b.OverriddenStrike = orZero(b.OverriddenStrike)
	return b
}

// Phase is the position of the vault in its weekly cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCommitted
	PhaseActive
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCommitted:
		return "committed"
	case PhaseActive:
		return "active"
	case PhaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}
