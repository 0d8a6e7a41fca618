package chain

import "github.com/luxfi/thetavault/pkg/fault"

var (
	ErrInsufficientBalance   = fault.New(fault.InsufficientBalance, "insufficient balance")
	ErrZeroAmount            = fault.New(fault.InvalidArgument, "amount is zero")
	ErrOverflow              = fault.New(fault.InvalidArgument, "amount overflows")
	ErrExchangeSlippage      = fault.New(fault.SlippageViolation, "exchange resulted in fewer coins than expected")
	ErrInsufficientLiquidity = fault.New(fault.InsufficientBalance, "pool liquidity too low")
	ErrLockingPeriod         = fault.New(fault.Timing, "oracle locking period not over")
	ErrPriceAlreadySet       = fault.New(fault.StateConflict, "expiry price already set")
	ErrPriceNotSet           = fault.New(fault.Timing, "expiry price not set")
	ErrPriceNotFinalized     = fault.New(fault.Timing, "expiry price dispute period not over")
	ErrNoSpotPrice           = fault.New(fault.Timing, "no spot price")
	ErrUnknownOtoken         = fault.New(fault.InvalidArgument, "unknown otoken")
	ErrUnknownCollateral     = fault.New(fault.InvalidArgument, "collateral not whitelisted")
	ErrExpiryPassed          = fault.New(fault.InvalidArgument, "expiry in the past")
	ErrOptionExpired         = fault.New(fault.Timing, "option expired")
	ErrOptionNotExpired      = fault.New(fault.Timing, "option not expired")
	ErrVaultOpen             = fault.New(fault.StateConflict, "short vault already open")
	ErrNoVault               = fault.New(fault.StateConflict, "no short vault")
	ErrUnknownAuction        = fault.New(fault.InvalidArgument, "unknown auction")
	ErrAuctionEnded          = fault.New(fault.Timing, "auction ended")
	ErrAuctionNotEnded       = fault.New(fault.Timing, "auction not ended")
	ErrAuctionSettled        = fault.New(fault.StateConflict, "auction already settled")
	ErrBidTooLow             = fault.New(fault.InvalidArgument, "bid below minimum price")
)
