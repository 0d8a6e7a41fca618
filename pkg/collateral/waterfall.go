// Package collateral converts the vault's mix of native ETH, stETH and
// wstETH back into a target amount of ETH or stETH.
package collateral

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/fault"
)

const (
	// DefaultSlippageFloorBps is the lowest minOut accepted by
	// UnwrapYieldToken, as basis points of the requested amount.
	DefaultSlippageFloorBps = 9_500
	// RoundingTolerance bounds the wei lost to share rounding when a
	// target amount of stETH is delivered.
	RoundingTolerance = 3

	// native and wrapped draws overshoot the shortfall by these many wei so
	// that share rounding on the way in does not leave the holder short.
	nativeDrawMargin  = 3
	wrappedDrawMargin = 4
)

var (
	ErrZeroAmount        = fault.New(fault.InvalidArgument, "amount is zero")
	ErrAmountBelowMinOut = fault.New(fault.SlippageViolation, "amount withdrawn smaller than minOut")
	ErrSlippageTooHigh   = fault.New(fault.SlippageViolation, "slippage on minOut too high")
	ErrOutputBelowMinOut = fault.New(fault.SlippageViolation, "output amount smaller than minOut")
	ErrInsufficientFunds = fault.New(fault.InsufficientBalance, "not enough funds")
)

type NativeToken interface {
	BalanceOf(account common.Address) *uint256.Int
}

type WrappedNative interface {
	BalanceOf(account common.Address) *uint256.Int
	Withdraw(from common.Address, amount *uint256.Int) error
}

type LiquidStaking interface {
	BalanceOf(account common.Address) *uint256.Int
	SharesOf(account common.Address) *uint256.Int
	GetSharesByPooledEth(amount *uint256.Int) *uint256.Int
	GetPooledEthByShares(shares *uint256.Int) *uint256.Int
	Submit(from common.Address, amount *uint256.Int) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferShares(from, to common.Address, shares *uint256.Int) error
}

type YieldWrapper interface {
	BalanceOf(account common.Address) *uint256.Int
	Wrap(from common.Address, stAmount *uint256.Int) (*uint256.Int, error)
	Unwrap(from common.Address, wst *uint256.Int) (*uint256.Int, error)
	StETHByWstETH(wst *uint256.Int) *uint256.Int
	WstETHByStETH(stAmount *uint256.Int) *uint256.Int
}

type LiquidityPool interface {
	Exchange(from common.Address, stIn, minDy *uint256.Int) (*uint256.Int, error)
}

// Sources are the contracts holding the vault's collateral. WETH is
// optional.
type Sources struct {
	Native NativeToken
	WETH   WrappedNative
	StETH  LiquidStaking
	WstETH YieldWrapper
	Pool   LiquidityPool
}

type Config struct {
	SlippageFloorBps uint64
}

func DefaultConfig() Config {
	return Config{SlippageFloorBps: DefaultSlippageFloorBps}
}

// Balances is a breakdown of the holder's collateral.
type Balances struct {
	ETH    *uint256.Int
	WETH   *uint256.Int
	StETH  *uint256.Int
	WstETH *uint256.Int
}

// Waterfall draws collateral held by one account.
type Waterfall struct {
	holder common.Address
	src    Sources
	cfg    Config
	logger log.Logger
}

func New(holder common.Address, src Sources, cfg Config, logger log.Logger) *Waterfall {
	if cfg.SlippageFloorBps == 0 {
		cfg.SlippageFloorBps = DefaultSlippageFloorBps
	}
	return &Waterfall{holder: holder, src: src, cfg: cfg, logger: logger}
}

func (w *Waterfall) Holder() common.Address { return w.holder }

func (w *Waterfall) Balances() Balances {
	b := Balances{
		ETH:    w.src.Native.BalanceOf(w.holder),
		WETH:   new(uint256.Int),
		StETH:  w.src.StETH.BalanceOf(w.holder),
		WstETH: w.src.WstETH.BalanceOf(w.holder),
	}
	if w.src.WETH != nil {
		b.WETH = w.src.WETH.BalanceOf(w.holder)
	}
	return b
}

// TotalBalance values everything the holder has in ETH terms, wstETH at
// its stETH redemption value.
func (w *Waterfall) TotalBalance() *uint256.Int {
	b := w.Balances()
	total := new(uint256.Int).Add(b.ETH, b.WETH)
	total.Add(total, b.StETH)
	return total.Add(total, w.src.WstETH.StETHByWstETH(b.WstETH))
}

// UnwrapYieldToken makes amount of ETH available to the holder, using held
// ETH first, then stETH swapped on the pool, unwrapping wstETH when stETH is
// short. It returns the ETH available for the withdrawal: at least minOut,
// and including any swap output above amount.
func (w *Waterfall) UnwrapYieldToken(amount, minOut *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if amount.Lt(minOut) {
		return nil, ErrAmountBelowMinOut
	}
	floor := new(uint256.Int).Mul(amount, uint256.NewInt(w.cfg.SlippageFloorBps))
	if new(uint256.Int).Mul(minOut, uint256.NewInt(10_000)).Lt(floor) {
		return nil, ErrSlippageTooHigh
	}

	ethBal := w.src.Native.BalanceOf(w.holder)
	if !ethBal.Lt(amount) {
		return amount.Clone(), nil
	}

	stBal := w.src.StETH.BalanceOf(w.holder)
	if held := new(uint256.Int).Add(ethBal, stBal); held.Lt(amount) {
		need := new(uint256.Int).Sub(amount, held)
		if err := w.unwrapFor(need); err != nil {
			return nil, fmt.Errorf("unwrap yield token: %w", err)
		}
		stBal = w.src.StETH.BalanceOf(w.holder)
	}

	toSwap := minU(new(uint256.Int).Sub(amount, ethBal), stBal)
	received := new(uint256.Int)
	if !toSwap.IsZero() {
		swapMin := new(uint256.Int)
		if ethBal.Lt(minOut) {
			swapMin.Sub(minOut, ethBal)
		}
		out, err := w.src.Pool.Exchange(w.holder, toSwap, swapMin)
		if err != nil {
			return nil, fmt.Errorf("unwrap yield token: %w", err)
		}
		received = out
	}

	total := new(uint256.Int).Add(ethBal, received)
	if total.Lt(minOut) {
		return nil, fmt.Errorf("got %s want %s: %w", total.Dec(), minOut.Dec(), ErrOutputBelowMinOut)
	}
	w.logger.Debug("Unwrapped yield token",
		"amount", amount.Dec(),
		"swapped", toSwap.Dec(),
		"received", received.Dec(),
	)
	return total, nil
}

// WithdrawTargetAsset sends amount of stETH to recipient, drawing native
// ETH first, then held stETH, then unwrapping wstETH as needed. It returns
// what the recipient actually received. The transfer moves the shares
// worth amount rounded up, so only rounding while gathering the stETH can
// leave the recipient short. Holdings short of amount by no more than the
// rounding tolerance are paid out in full.
func (w *Waterfall) WithdrawTargetAsset(recipient common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if total := w.TotalBalance(); new(uint256.Int).AddUint64(total, RoundingTolerance).Lt(amount) {
		return nil, fmt.Errorf("have %s want %s: %w", total.Dec(), amount.Dec(), ErrInsufficientFunds)
	}

	b := w.Balances()
	stBal := b.StETH
	if stBal.Lt(amount) {
		native := b.ETH.Clone()
		want := new(uint256.Int).Sub(amount, stBal)
		want.AddUint64(want, nativeDrawMargin)
		if native.Lt(want) && !b.WETH.IsZero() {
			unwrap := minU(b.WETH, new(uint256.Int).Sub(want, native))
			if err := w.src.WETH.Withdraw(w.holder, unwrap); err != nil {
				return nil, fmt.Errorf("withdraw target asset: %w", err)
			}
			native.Add(native, unwrap)
		}
		if draw := minU(native, want); !draw.IsZero() {
			if _, err := w.src.StETH.Submit(w.holder, draw); err != nil {
				return nil, fmt.Errorf("withdraw target asset: %w", err)
			}
		}
		stBal = w.src.StETH.BalanceOf(w.holder)
	}
	if stBal.Lt(amount) {
		if err := w.unwrapFor(new(uint256.Int).Sub(amount, stBal)); err != nil {
			return nil, fmt.Errorf("withdraw target asset: %w", err)
		}
	}

	shares := minU(w.sharesFor(amount), w.src.StETH.SharesOf(w.holder))
	before := w.src.StETH.BalanceOf(recipient)
	if err := w.src.StETH.TransferShares(w.holder, recipient, shares); err != nil {
		return nil, fmt.Errorf("withdraw target asset: %w", err)
	}
	received := w.src.StETH.BalanceOf(recipient)
	if received.Lt(before) {
		return new(uint256.Int), nil
	}
	return received.Sub(received, before), nil
}

// WrapToYieldToken converts all WETH, ETH and stETH held into wstETH.
func (w *Waterfall) WrapToYieldToken() error {
	b := w.Balances()
	if !b.WETH.IsZero() {
		if err := w.src.WETH.Withdraw(w.holder, b.WETH); err != nil {
			return fmt.Errorf("wrap to yield token: %w", err)
		}
	}
	if eth := w.src.Native.BalanceOf(w.holder); !eth.IsZero() {
		if _, err := w.src.StETH.Submit(w.holder, eth); err != nil {
			return fmt.Errorf("wrap to yield token: %w", err)
		}
	}
	st := w.src.StETH.BalanceOf(w.holder)
	if st.IsZero() || w.src.WstETH.WstETHByStETH(st).IsZero() {
		return nil
	}
	if _, err := w.src.WstETH.Wrap(w.holder, st); err != nil {
		return fmt.Errorf("wrap to yield token: %w", err)
	}
	return nil
}

// sharesFor is the smallest stETH share amount worth at least amount.
func (w *Waterfall) sharesFor(amount *uint256.Int) *uint256.Int {
	shares := w.src.StETH.GetSharesByPooledEth(amount)
	if w.src.StETH.GetPooledEthByShares(shares).Lt(amount) {
		shares.AddUint64(shares, 1)
	}
	return shares
}

// unwrapFor unwraps enough wstETH to yield need stETH, capped at the held
// balance.
func (w *Waterfall) unwrapFor(need *uint256.Int) error {
	held := w.src.WstETH.BalanceOf(w.holder)
	if held.IsZero() {
		return nil
	}
	wst := w.src.WstETH.WstETHByStETH(need)
	wst = minU(wst.AddUint64(wst, wrappedDrawMargin), held)
	_, err := w.src.WstETH.Unwrap(w.holder, wst)
	return err
}

func minU(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
