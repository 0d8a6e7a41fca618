package collateral

import (
	"fmt"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/fault"
)

var (
	holder    = chain.NewAddress("account:vault")
	recipient = chain.NewAddress("account:recipient")
)

func ether(milli uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(milli), uint256.NewInt(1_000_000_000_000_000))
}

type fixture struct {
	world *chain.World
	wf    *Waterfall
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := chain.NewManualClock(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC))
	w, err := chain.NewWorld(clock, chain.DefaultWorldConfig())
	require.NoError(t, err)
	level, _ := log.ToLevel("info")
	src := Sources{Native: w.ETH, WETH: w.WETH, StETH: w.StETH, WstETH: w.WstETH, Pool: w.Pool}
	return &fixture{world: w, wf: New(holder, src, DefaultConfig(), log.NewTestLogger(level))}
}

func (f *fixture) giveETH(t *testing.T, amount *uint256.Int) {
	require.NoError(t, f.world.Fund(holder, amount))
}

// giveStETH hands the holder stETH shares worth at least amount.
func (f *fixture) giveStETH(t *testing.T, amount *uint256.Int) {
	src := chain.NewAddress("account:staker")
	stake := new(uint256.Int).Mul(amount, uint256.NewInt(2))
	require.NoError(t, f.world.Fund(src, stake))
	_, err := f.world.StETH.Submit(src, stake)
	require.NoError(t, err)
	require.NoError(t, f.world.StETH.TransferShares(src, holder, f.sharesWorth(amount)))
}

// giveWstETH hands the holder wstETH redeemable for at least amount.
func (f *fixture) giveWstETH(t *testing.T, amount *uint256.Int) {
	src := chain.NewAddress("account:wrapper")
	stake := new(uint256.Int).Mul(amount, uint256.NewInt(2))
	require.NoError(t, f.world.Fund(src, stake))
	_, err := f.world.StETH.Submit(src, stake)
	require.NoError(t, err)
	_, err = f.world.WstETH.Wrap(src, f.world.StETH.BalanceOf(src))
	require.NoError(t, err)
	require.NoError(t, f.world.WstETH.Transfer(src, holder, f.sharesWorth(amount)))
}

func (f *fixture) sharesWorth(amount *uint256.Int) *uint256.Int {
	shares := f.world.StETH.GetSharesByPooledEth(amount)
	if f.world.StETH.GetPooledEthByShares(shares).Lt(amount) {
		shares.AddUint64(shares, 1)
	}
	return shares
}

// split funds the holder with exactly total spread evenly over the sources
// selected by mask: native, stETH, wstETH.
func (f *fixture) split(t *testing.T, mask int, total *uint256.Int) {
	var give []func(*testing.T, *uint256.Int)
	for i, fn := range []func(*testing.T, *uint256.Int){f.giveETH, f.giveStETH, f.giveWstETH} {
		if mask&(1<<i) != 0 {
			give = append(give, fn)
		}
	}
	n := uint64(len(give))
	part := new(uint256.Int).Div(total, uint256.NewInt(n))
	last := new(uint256.Int).Sub(total, new(uint256.Int).Mul(part, uint256.NewInt(n-1)))
	for i, fn := range give {
		if uint64(i) == n-1 {
			fn(t, last)
		} else {
			fn(t, part)
		}
	}
}

func sources(mask int) string {
	return fmt.Sprintf("eth=%v steth=%v wsteth=%v", mask&1 != 0, mask&2 != 0, mask&4 != 0)
}

func diff(a, b *uint256.Int) uint64 {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a).Uint64()
	}
	return new(uint256.Int).Sub(a, b).Uint64()
}

func TestWithdrawTargetAssetCombinations(t *testing.T) {
	for mask := 1; mask < 8; mask++ {
		t.Run(sources(mask), func(t *testing.T) {
			f := newFixture(t)
			f.split(t, mask, ether(1_000))
			total := f.wf.TotalBalance()
			require.False(t, total.Lt(ether(1_000)), "total %s", total.Dec())
			require.LessOrEqual(t, diff(total, ether(1_000)), uint64(3))

			got, err := f.wf.WithdrawTargetAsset(recipient, ether(1_000))
			require.NoError(t, err)
			assert.LessOrEqual(t, diff(got, ether(1_000)), uint64(RoundingTolerance), "got %s", got.Dec())
			assert.Equal(t, got, f.world.StETH.BalanceOf(recipient))
		})
	}
}

func TestWithdrawTargetAssetInHalves(t *testing.T) {
	for mask := 1; mask < 8; mask++ {
		t.Run(sources(mask), func(t *testing.T) {
			f := newFixture(t)
			f.split(t, mask, ether(1_000))

			for i := 0; i < 2; i++ {
				got, err := f.wf.WithdrawTargetAsset(recipient, ether(500))
				require.NoError(t, err, "draw %d", i)
				assert.LessOrEqual(t, diff(got, ether(500)), uint64(RoundingTolerance), "draw %d got %s", i, got.Dec())
			}
		})
	}
}

func TestWithdrawTargetAssetLargeDraw(t *testing.T) {
	for mask := 1; mask < 8; mask++ {
		t.Run(sources(mask), func(t *testing.T) {
			f := newFixture(t)
			f.split(t, mask, ether(2_333))
			amount := f.wf.TotalBalance()

			got, err := f.wf.WithdrawTargetAsset(recipient, amount)
			require.NoError(t, err)
			assert.LessOrEqual(t, diff(got, amount), uint64(RoundingTolerance), "got %s want %s", got.Dec(), amount.Dec())
		})
	}
}

func TestWithdrawTargetAssetPriority(t *testing.T) {
	f := newFixture(t)
	f.giveETH(t, ether(1_000))
	f.giveWstETH(t, ether(1_000))
	wst := f.world.WstETH.BalanceOf(holder)

	got, err := f.wf.WithdrawTargetAsset(recipient, ether(500))
	require.NoError(t, err)
	assert.LessOrEqual(t, diff(got, ether(500)), uint64(RoundingTolerance))
	// native covered it, the wrapped balance was not touched
	assert.Equal(t, wst, f.world.WstETH.BalanceOf(holder))
	assert.Equal(t, uint64(0), diff(f.world.ETH.BalanceOf(holder), new(uint256.Int).SubUint64(ether(500), nativeDrawMargin)))
}

func TestWithdrawTargetAssetWETH(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.world.Fund(holder, ether(1_000)))
	require.NoError(t, f.world.WETH.Deposit(holder, ether(1_000)))

	got, err := f.wf.WithdrawTargetAsset(recipient, ether(700))
	require.NoError(t, err)
	assert.LessOrEqual(t, diff(got, ether(700)), uint64(RoundingTolerance))
	assert.Equal(t, new(uint256.Int).SubUint64(ether(300), nativeDrawMargin), f.world.WETH.BalanceOf(holder))
}

func TestWithdrawTargetAssetInsufficient(t *testing.T) {
	f := newFixture(t)
	f.giveETH(t, ether(500))
	f.giveWstETH(t, ether(400))

	_, err := f.wf.WithdrawTargetAsset(recipient, ether(1_000))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, fault.InsufficientBalance, fault.KindOf(err))
	assert.Equal(t, ether(500), f.world.ETH.BalanceOf(holder))

	_, err = f.wf.WithdrawTargetAsset(recipient, new(uint256.Int))
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestWithdrawTargetAssetRoundingShortfall(t *testing.T) {
	f := newFixture(t)
	f.giveWstETH(t, ether(1_000))
	total := f.wf.TotalBalance()

	got, err := f.wf.WithdrawTargetAsset(recipient, new(uint256.Int).AddUint64(total, 2))
	require.NoError(t, err)
	assert.LessOrEqual(t, diff(got, total), uint64(2*RoundingTolerance))

	_, err = f.wf.WithdrawTargetAsset(recipient, new(uint256.Int).AddUint64(total, 10))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestUnwrapYieldTokenBounds(t *testing.T) {
	f := newFixture(t)
	f.giveWstETH(t, ether(2_000))

	t.Run("amount below minOut", func(t *testing.T) {
		_, err := f.wf.UnwrapYieldToken(ether(900), ether(1_000))
		require.ErrorIs(t, err, ErrAmountBelowMinOut)
		assert.Equal(t, fault.SlippageViolation, fault.KindOf(err))
	})

	t.Run("minOut below floor", func(t *testing.T) {
		_, err := f.wf.UnwrapYieldToken(ether(1_000), ether(949))
		require.ErrorIs(t, err, ErrSlippageTooHigh)

		// exactly 95% is accepted by the floor check
		_, err = f.wf.UnwrapYieldToken(ether(1_000), ether(950))
		require.NoError(t, err)
	})
}

func TestUnwrapYieldToken(t *testing.T) {
	t.Run("native covers", func(t *testing.T) {
		f := newFixture(t)
		f.giveETH(t, ether(2_000))
		f.giveStETH(t, ether(1_000))
		st := f.world.StETH.BalanceOf(holder)

		got, err := f.wf.UnwrapYieldToken(ether(1_000), ether(1_000))
		require.NoError(t, err)
		assert.Equal(t, ether(1_000), got)
		assert.Equal(t, st, f.world.StETH.BalanceOf(holder))
	})

	t.Run("swaps steth", func(t *testing.T) {
		f := newFixture(t)
		f.giveStETH(t, ether(1_000))

		got, err := f.wf.UnwrapYieldToken(ether(1_000), ether(990))
		require.NoError(t, err)
		assert.False(t, got.Lt(ether(990)))
		assert.Equal(t, got, f.world.ETH.BalanceOf(holder))
	})

	t.Run("unwraps then swaps", func(t *testing.T) {
		f := newFixture(t)
		f.giveWstETH(t, ether(2_000))

		got, err := f.wf.UnwrapYieldToken(ether(1_000), ether(990))
		require.NoError(t, err)
		assert.False(t, got.Lt(ether(990)))
		assert.False(t, f.world.WstETH.BalanceOf(holder).IsZero())
	})

	t.Run("partial native", func(t *testing.T) {
		f := newFixture(t)
		f.giveETH(t, ether(500))
		f.giveStETH(t, ether(500))

		got, err := f.wf.UnwrapYieldToken(ether(1_000), ether(995))
		require.NoError(t, err)
		assert.False(t, got.Lt(ether(995)))
		assert.False(t, ether(1_000).Lt(got))
	})

	t.Run("swap surplus is returned", func(t *testing.T) {
		f := newFixture(t)
		f.giveStETH(t, ether(1_000))
		f.world.Pool.SetRate(10_100)

		got, err := f.wf.UnwrapYieldToken(ether(1_000), ether(1_000))
		require.NoError(t, err)
		assert.True(t, ether(1_000).Lt(got), "got %s", got.Dec())
		assert.Equal(t, got, f.world.ETH.BalanceOf(holder))
	})

	t.Run("pool slippage", func(t *testing.T) {
		f := newFixture(t)
		f.giveStETH(t, ether(1_000))
		f.world.Pool.SetRate(9_600)

		_, err := f.wf.UnwrapYieldToken(ether(1_000), ether(990))
		require.ErrorIs(t, err, chain.ErrExchangeSlippage)
		assert.Equal(t, fault.SlippageViolation, fault.KindOf(err))
	})

	t.Run("output below minOut", func(t *testing.T) {
		f := newFixture(t)
		f.giveETH(t, ether(500))

		_, err := f.wf.UnwrapYieldToken(ether(1_000), ether(960))
		require.ErrorIs(t, err, ErrOutputBelowMinOut)
	})
}

func TestWrapToYieldToken(t *testing.T) {
	f := newFixture(t)
	f.giveETH(t, ether(1_000))
	f.giveStETH(t, ether(1_000))
	require.NoError(t, f.world.Fund(holder, ether(500)))
	require.NoError(t, f.world.WETH.Deposit(holder, ether(500)))

	before := f.wf.TotalBalance()
	require.NoError(t, f.wf.WrapToYieldToken())

	b := f.wf.Balances()
	assert.True(t, b.ETH.IsZero())
	assert.True(t, b.WETH.IsZero())
	assert.LessOrEqual(t, b.StETH.Uint64(), uint64(RoundingTolerance))
	assert.LessOrEqual(t, diff(f.wf.TotalBalance(), before), uint64(2*RoundingTolerance))
}
