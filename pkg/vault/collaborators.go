package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/thetavault/pkg/fault"
)

type Clock interface {
	Now() time.Time
}

// StateJournal snapshots and reverts the external state the vault touches.
type StateJournal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}

type StrikeSelector interface {
	GetStrikePrice(expiry time.Time, isPut bool) (strike *uint256.Int, delta uint64, err error)
}

type PremiumPricer interface {
	GetPremium(strike *uint256.Int, expiry time.Time, isPut bool) (*uint256.Int, error)
}

// OptionsProtocol issues and settles the vault's short positions.
type OptionsProtocol interface {
	GetOrDeployOtoken(underlying, strikeAsset, collateral common.Address, strike *uint256.Int, expiry time.Time, isPut bool) (common.Address, error)
	Expiry(otoken common.Address) (time.Time, error)
	OtokenBalance(otoken, holder common.Address) *uint256.Int
	CreateShort(owner, otoken common.Address, collateral *uint256.Int) (*uint256.Int, error)
	SettleVault(owner common.Address) (*uint256.Int, error)
	BurnOtokens(owner common.Address, amount *uint256.Int) (*uint256.Int, error)
	ShortPosition(owner common.Address) (otoken common.Address, collateral, short *uint256.Int, ok bool)
}

// Auctioneer sells option tokens for the asset.
type Auctioneer interface {
	StartAuction(seller, otoken common.Address, amount, minPrice *uint256.Int, duration time.Duration) (uint64, error)
}

// ShareToken is the vault's share ledger.
type ShareToken interface {
	BalanceOf(account common.Address) *uint256.Int
	TotalSupply() *uint256.Int
	Mint(to common.Address, amount *uint256.Int) error
	Burn(from common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
}

type Token interface {
	BalanceOf(account common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// YieldToken is the wrapped collateral token.
type YieldToken interface {
	Token
	StETHByWstETH(wst *uint256.Int) *uint256.Int
	WstETHByStETH(stAmount *uint256.Int) *uint256.Int
}

// Persister makes committed transactions durable.
type Persister interface {
	Commit(c *Checkpoint) error
}

type EventSink interface {
	Publish(ev Event)
}

// Stats is what an Observer sees after each committed transaction.
type Stats struct {
	State         State
	TotalBalance  *uint256.Int
	PricePerShare *uint256.Int
	Decimals      uint8
}

type Observer interface {
	ObserveCommit(op string, s Stats)
	ObserveRevert(op string, kind fault.Kind)
}
