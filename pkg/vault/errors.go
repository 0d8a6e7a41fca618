package vault

import "github.com/luxfi/thetavault/pkg/fault"

var (
	// Timing
	ErrRoundNotClosed      = fault.New(fault.Timing, "round not closed")
	ErrOptionNotReady      = fault.New(fault.Timing, "next option not ready")
	ErrInstantWithdrawLate = fault.New(fault.Timing, "deposit already rolled into a round")

	// Insufficient balance
	ErrInsufficientShares  = fault.New(fault.InsufficientBalance, "insufficient shares")
	ErrExceedsDeposit      = fault.New(fault.InsufficientBalance, "exceeds deposited amount")
	ErrExceedsAvailable    = fault.New(fault.InsufficientBalance, "exceeds available shares")
	ErrInsufficientBalance = fault.New(fault.InsufficientBalance, "insufficient balance")

	// State conflicts
	ErrExistingWithdraw       = fault.New(fault.StateConflict, "existing withdraw from an earlier round")
	ErrWithdrawNotInitiated   = fault.New(fault.StateConflict, "withdraw not initiated")
	ErrOptionAlreadyCommitted = fault.New(fault.StateConflict, "next option already committed")
	ErrOptionNotExpired       = fault.New(fault.StateConflict, "current option not expired")
	ErrNoNextOption           = fault.New(fault.StateConflict, "no next option")
	ErrNoActiveOption         = fault.New(fault.StateConflict, "no active option")
	ErrNothingToBurn          = fault.New(fault.StateConflict, "no option tokens to burn")
	ErrPricePerShareFinalized = fault.New(fault.StateConflict, "round price per share already written")
	ErrAccountingUnderflow    = fault.New(fault.StateConflict, "vault accounting underflow")
	ErrRoundOverflow          = fault.New(fault.StateConflict, "round number exhausted")
	ErrAlreadyInitialized     = fault.New(fault.StateConflict, "vault already has state")

	// Invalid arguments
	ErrZeroAmount           = fault.New(fault.InvalidArgument, "amount is zero")
	ErrExceedsCap           = fault.New(fault.InvalidArgument, "exceeds vault cap")
	ErrBelowMinimumSupply   = fault.New(fault.InvalidArgument, "insufficient balance for minimum supply")
	ErrInvalidPricePerShare = fault.New(fault.InvalidArgument, "invalid price per share")
	ErrOverflow             = fault.New(fault.InvalidArgument, "amount overflows")
	ErrZeroStrike           = fault.New(fault.InvalidArgument, "strike price is zero")
	ErrZeroPremium          = fault.New(fault.InvalidArgument, "premium is zero")
	ErrInvalidFee           = fault.New(fault.InvalidArgument, "invalid fee")
	ErrInvalidDiscount      = fault.New(fault.InvalidArgument, "invalid premium discount")
	ErrInvalidDelay         = fault.New(fault.InvalidArgument, "commit delay must be positive")
	ErrInvalidDuration      = fault.New(fault.InvalidArgument, "invalid auction duration")
	ErrInvalidParams        = fault.New(fault.InvalidArgument, "invalid vault params")
	ErrMissingDependency    = fault.New(fault.InvalidArgument, "missing dependency")

	ErrUnauthorized  = fault.New(fault.Unauthorized, "caller not authorized")
	ErrReentrantCall = fault.New(fault.Reentrancy, "reentrant call")
)
