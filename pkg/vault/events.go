package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is emitted once the transaction that raised it commits.
type Event interface {
	EventName() string
}

type DepositEvent struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
	Round   uint16         `json:"round"`
}

type InitiateWithdrawEvent struct {
	Account common.Address `json:"account"`
	Shares  *uint256.Int   `json:"shares"`
	Round   uint16         `json:"round"`
}

type WithdrawEvent struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
	Shares  *uint256.Int   `json:"shares"`
}

type InstantWithdrawEvent struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
	Round   uint16         `json:"round"`
}

type RedeemEvent struct {
	Account common.Address `json:"account"`
	Shares  *uint256.Int   `json:"shares"`
	Round   uint16         `json:"round"`
}

type NewOptionStrikeSelectedEvent struct {
	Option      common.Address `json:"option"`
	StrikePrice *uint256.Int   `json:"strikePrice"`
	Delta       uint64         `json:"delta"`
	Premium     *uint256.Int   `json:"premium"`
}

type CloseShortEvent struct {
	Option         common.Address `json:"option"`
	WithdrawAmount *uint256.Int   `json:"withdrawAmount"`
	Caller         common.Address `json:"caller"`
}

type OpenShortEvent struct {
	Option        common.Address `json:"option"`
	DepositAmount *uint256.Int   `json:"depositAmount"`
	Caller        common.Address `json:"caller"`
}

type AuctionStartedEvent struct {
	AuctionID uint64         `json:"auctionId"`
	Option    common.Address `json:"option"`
	Amount    *uint256.Int   `json:"amount"`
	MinPrice  *uint256.Int   `json:"minPrice"`
}

type CollectVaultFeesEvent struct {
	PerformanceFee *uint256.Int   `json:"performanceFee"`
	VaultFee       *uint256.Int   `json:"vaultFee"`
	Round          uint16         `json:"round"`
	FeeRecipient   common.Address `json:"feeRecipient"`
}

type RoundClosedEvent struct {
	Round                uint16       `json:"round"`
	PricePerShare        *uint256.Int `json:"pricePerShare"`
	MintedShares         *uint256.Int `json:"mintedShares"`
	LockedAmount         *uint256.Int `json:"lockedAmount"`
	QueuedWithdrawAmount *uint256.Int `json:"queuedWithdrawAmount"`
}

type BurnOtokensEvent struct {
	Option   common.Address `json:"option"`
	Burned   *uint256.Int   `json:"burned"`
	Unlocked *uint256.Int   `json:"unlocked"`
}

type SettingsChangedEvent struct {
	Setting string `json:"setting"`
	Value   string `json:"value"`
}

func (DepositEvent) EventName() string                 { return "Deposit" }
func (InitiateWithdrawEvent) EventName() string        { return "InitiateWithdraw" }
func (WithdrawEvent) EventName() string                { return "Withdraw" }
func (InstantWithdrawEvent) EventName() string         { return "InstantWithdraw" }
func (RedeemEvent) EventName() string                  { return "Redeem" }
func (NewOptionStrikeSelectedEvent) EventName() string { return "NewOptionStrikeSelected" }
func (CloseShortEvent) EventName() string              { return "CloseShort" }
func (OpenShortEvent) EventName() string               { return "OpenShort" }
func (AuctionStartedEvent) EventName() string          { return "AuctionStarted" }
func (CollectVaultFeesEvent) EventName() string        { return "CollectVaultFees" }
func (RoundClosedEvent) EventName() string             { return "RoundClosed" }
func (BurnOtokensEvent) EventName() string             { return "BurnOtokens" }
func (SettingsChangedEvent) EventName() string         { return "SettingsChanged" }
