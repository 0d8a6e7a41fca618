package vault_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/fault"
	"github.com/luxfi/thetavault/pkg/vault"
)

func TestRollLifecycle(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(1_000))
	assert.Equal(t, vault.PhaseIdle, h.v.Phase())

	err := h.v.RollToNextOption(keeper)
	require.ErrorIs(t, err, vault.ErrNoNextOption)

	require.NoError(t, h.v.CommitAndClose(keeper))
	assert.Equal(t, vault.PhaseCommitted, h.v.Phase())
	next := h.v.OptionState().NextOption
	require.NotEqual(t, common.Address{}, next)
	assert.Equal(t, start.Add(vault.DefaultCommitDelay), h.v.OptionState().NextOptionReadyAt)

	otoken, err := h.world.Options.Otoken(next)
	require.NoError(t, err)
	assert.Equal(t, price(2_800), otoken.Strike)
	assert.Equal(t, time.Date(2026, time.January, 9, 8, 0, 0, 0, time.UTC), otoken.Expiry)
	assert.Equal(t, h.world.WstETH.Address(), otoken.Collateral)

	// all deposits are wrapped once the option is committed
	assert.True(t, h.world.ETH.BalanceOf(h.dep.Address).IsZero())
	assert.False(t, h.world.WstETH.BalanceOf(h.dep.Address).IsZero())

	err = h.v.CommitAndClose(keeper)
	require.ErrorIs(t, err, vault.ErrOptionAlreadyCommitted)

	err = h.v.RollToNextOption(keeper)
	require.ErrorIs(t, err, vault.ErrOptionNotReady)
	assert.Equal(t, fault.Timing, fault.KindOf(err))

	h.clock.Advance(vault.DefaultCommitDelay)
	h.rec.reset()
	require.NoError(t, h.v.RollToNextOption(keeper))
	assert.Equal(t, vault.PhaseActive, h.v.Phase())
	assert.Equal(t, []string{"RoundClosed", "OpenShort", "AuctionStarted"}, h.rec.names())

	s := h.v.VaultState()
	assert.Equal(t, uint16(2), s.Round)
	assert.True(t, s.TotalPending.IsZero())
	assert.LessOrEqual(t, diff(s.LockedAmount, ether(1_000)), uint64(3))
	assert.Equal(t, next, h.v.CurrentOption())
	assert.Equal(t, ether(1_000), h.dep.Shares.TotalSupply())

	pps, ok := h.v.RoundPricePerShare(1)
	require.True(t, ok)
	assert.Equal(t, ether(1_000), pps)

	_, collateral, short, open := h.world.Options.ShortPosition(h.dep.Address)
	require.True(t, open)
	assert.False(t, collateral.IsZero())
	details, err := h.world.Auction.Details(h.v.Books().OptionAuctionID)
	require.NoError(t, err)
	assert.Equal(t, short, details.Amount)
	assert.Equal(t, h.v.Books().CurrentOtokenPremium, details.MinPrice)

	err = h.v.CommitAndClose(keeper)
	require.ErrorIs(t, err, vault.ErrOptionNotExpired)

	h.clock.Set(otoken.Expiry)
	assert.Equal(t, vault.PhaseExpired, h.v.Phase())
}

func TestCommitWithoutExpiryPriceReverts(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(1_000))
	h.roll()
	h.sellOptions()

	expiry, err := h.world.Options.Expiry(h.v.CurrentOption())
	require.NoError(t, err)
	h.clock.Set(expiry.Add(time.Hour))

	state := h.v.VaultState()
	option := h.v.OptionState()
	wst := h.world.WstETH.BalanceOf(h.dep.Address)
	weth := h.world.WETH.BalanceOf(h.dep.Address)
	h.rec.reset()

	err = h.v.CommitAndClose(keeper)
	require.ErrorIs(t, err, chain.ErrPriceNotSet)
	assert.Equal(t, fault.Timing, fault.KindOf(err))

	assert.Equal(t, state, h.v.VaultState())
	assert.Equal(t, option, h.v.OptionState())
	assert.Equal(t, wst, h.world.WstETH.BalanceOf(h.dep.Address))
	assert.Equal(t, weth, h.world.WETH.BalanceOf(h.dep.Address))
	assert.Empty(t, h.rec.events)
	_, _, _, open := h.world.Options.ShortPosition(h.dep.Address)
	assert.True(t, open)
}

func TestOperatorRoles(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(1_000))

	err := h.v.CommitAndClose(alice)
	require.ErrorIs(t, err, vault.ErrUnauthorized)
	assert.Equal(t, fault.Unauthorized, fault.KindOf(err))

	require.NoError(t, h.v.CommitAndClose(owner))
	h.clock.Advance(vault.DefaultCommitDelay)

	err = h.v.RollToNextOption(owner)
	require.ErrorIs(t, err, vault.ErrUnauthorized)
	require.NoError(t, h.v.RollToNextOption(keeper))

	err = h.v.BurnRemainingOTokens(alice)
	require.ErrorIs(t, err, vault.ErrUnauthorized)
}

func TestBurnRemainingOTokens(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(2_000))

	err := h.v.BurnRemainingOTokens(keeper)
	require.ErrorIs(t, err, vault.ErrNoActiveOption)

	h.roll()
	// still escrowed in the auction
	err = h.v.BurnRemainingOTokens(keeper)
	require.ErrorIs(t, err, vault.ErrNothingToBurn)

	h.clock.Advance(vault.DefaultAuctionDuration)
	result, err := h.world.Auction.SettleAuction(h.v.Books().OptionAuctionID)
	require.NoError(t, err)
	assert.True(t, result.Sold.IsZero())

	before := h.v.TotalBalance()
	h.rec.reset()
	require.NoError(t, h.v.BurnRemainingOTokens(keeper))
	assert.LessOrEqual(t, h.v.VaultState().LockedAmount.Uint64(), uint64(3))
	assert.LessOrEqual(t, diff(h.v.TotalBalance(), before), uint64(3))
	assert.Equal(t, []string{"BurnOtokens"}, h.rec.names())
	_, _, _, open := h.world.Options.ShortPosition(h.dep.Address)
	assert.False(t, open)

	err = h.v.BurnRemainingOTokens(keeper)
	require.ErrorIs(t, err, vault.ErrNothingToBurn)

	// the unwritten round still closes at expiry
	expiry, err := h.world.Options.Expiry(h.v.CurrentOption())
	require.NoError(t, err)
	h.clock.Set(expiry)
	h.roll()
	assert.Equal(t, uint16(3), h.v.Round())
}

func TestRollBelowMinimumSupplyLocksNothing(t *testing.T) {
	h := newHarness(t)
	minimum := h.v.Params().MinimumSupply
	h.depositETH(alice, minimum)

	require.NoError(t, h.v.CommitAndClose(keeper))
	h.clock.Advance(vault.DefaultCommitDelay)
	h.rec.reset()
	require.NoError(t, h.v.RollToNextOption(keeper))
	assert.Equal(t, []string{"RoundClosed"}, h.rec.names())

	_, _, _, open := h.world.Options.ShortPosition(h.dep.Address)
	assert.False(t, open)
	assert.True(t, h.v.VaultState().LockedAmount.IsZero())

	// the collateral is counted once, as held balance
	assert.Equal(t, h.held(), h.v.TotalBalance())
	assert.LessOrEqual(t, diff(h.v.TotalBalance(), minimum), uint64(3))

	pps, err := h.v.PricePerShare()
	require.NoError(t, err)
	assert.False(t, ether(1_000).Lt(pps), "pps %s", pps.Dec())
	assert.Less(t, diff(pps, ether(1_000)), uint64(1_000_000_000))

	value, err := h.v.AccountVaultBalance(alice)
	require.NoError(t, err)
	assert.LessOrEqual(t, diff(value, minimum), uint64(3))
}

func TestRollLocksPostedCollateral(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(1_500))
	h.roll()

	_, posted, _, open := h.world.Options.ShortPosition(h.dep.Address)
	require.True(t, open)
	s := h.v.VaultState()
	assert.Equal(t, h.world.WstETH.StETHByWstETH(posted), s.LockedAmount)

	assert.Equal(t, new(uint256.Int).Add(s.LockedAmount, h.held()), h.v.TotalBalance())
	assert.LessOrEqual(t, diff(h.v.TotalBalance(), ether(1_500)), uint64(3))
}

func TestPricePerShareHistory(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(1_000))
	h.roll()
	first, ok := h.v.RoundPricePerShare(1)
	require.True(t, ok)

	h.depositETH(bob, ether(1_000))
	h.cycle(price(2_000))

	again, ok := h.v.RoundPricePerShare(1)
	require.True(t, ok)
	assert.Equal(t, first, again)

	history := h.v.PricePerShareHistory()
	assert.Len(t, history, 2)
	_, ok = h.v.RoundPricePerShare(3)
	assert.False(t, ok)

	// bob's round 2 deposit converts at the round 2 price
	_, unredeemed, err := h.v.ShareBalances(bob)
	require.NoError(t, err)
	want, err := vault.AssetToShares(ether(1_000), history[2], 18)
	require.NoError(t, err)
	assert.Equal(t, want, unredeemed)
	assert.True(t, unredeemed.Lt(ether(1_000)))
}

func TestIdleVaultSkipsMissedWeeks(t *testing.T) {
	h := newHarness(t)
	h.depositETH(alice, ether(1_000))
	h.roll()
	h.sellOptions()
	expiry, err := h.dep.SettleExpiry(h.clock, price(2_000))
	require.NoError(t, err)

	h.clock.Set(expiry.Add(10 * 24 * time.Hour))
	require.NoError(t, h.v.CommitAndClose(keeper))
	otoken, err := h.world.Options.Otoken(h.v.OptionState().NextOption)
	require.NoError(t, err)
	assert.Equal(t, vault.NextFriday(h.clock.Now()), otoken.Expiry)
	assert.True(t, otoken.Expiry.After(h.clock.Now()))
}

func TestAdminSettings(t *testing.T) {
	h := newHarness(t)

	err := h.v.SetManagementFee(alice, uint256.NewInt(1))
	require.ErrorIs(t, err, vault.ErrUnauthorized)

	err = h.v.SetManagementFee(owner, uint256.NewInt(100*vault.FeeMultiplier))
	require.ErrorIs(t, err, vault.ErrInvalidFee)

	require.NoError(t, h.v.SetManagementFee(owner, uint256.NewInt(vault.FeeMultiplier)))
	require.NoError(t, h.v.SetPerformanceFee(owner, uint256.NewInt(10*vault.FeeMultiplier)))
	assert.Equal(t, uint256.NewInt(vault.FeeMultiplier), h.v.Settings().ManagementFee)
	assert.Equal(t, uint256.NewInt(10*vault.FeeMultiplier), h.v.Settings().PerformanceFee)

	err = h.v.SetPremiumDiscount(owner, 0)
	require.ErrorIs(t, err, vault.ErrInvalidDiscount)
	require.NoError(t, h.v.SetPremiumDiscount(owner, 900))

	err = h.v.SetAuctionDuration(owner, time.Minute)
	require.ErrorIs(t, err, vault.ErrInvalidDuration)
	require.NoError(t, h.v.SetAuctionDuration(owner, time.Hour))
	assert.Equal(t, time.Hour, h.v.Settings().AuctionDuration)

	err = h.v.SetStrikePrice(owner, new(uint256.Int))
	require.ErrorIs(t, err, vault.ErrZeroStrike)
	require.NoError(t, h.v.SetStrikePrice(owner, price(3_100)))

	h.depositETH(alice, ether(1_000))
	require.NoError(t, h.v.CommitAndClose(keeper))
	otoken, err := h.world.Options.Otoken(h.v.OptionState().NextOption)
	require.NoError(t, err)
	assert.Equal(t, price(3_100), otoken.Strike)
	// 1% quote with a 90% discount
	assert.Equal(t, uint256.NewInt(9_000_000_000_000_000), h.v.Books().CurrentOtokenPremium)

	assert.Contains(t, h.rec.names(), "SettingsChanged")
}

func TestNewRejectsBadConfig(t *testing.T) {
	clock := chain.NewManualClock(start)
	w, err := chain.NewWorld(clock, chain.DefaultWorldConfig())
	require.NoError(t, err)

	_, err = vault.New(alice, vault.Params{Decimals: 18}, vault.Config{}, vault.Deps{})
	require.ErrorIs(t, err, vault.ErrInvalidParams)

	params := vault.Params{
		Decimals:      18,
		Asset:         w.WETH.Address(),
		MinimumSupply: uint256.NewInt(1),
		Cap:           ether(1_000),
	}
	_, err = vault.New(alice, params, vault.Config{CommitDelay: 0}, vault.Deps{})
	require.ErrorIs(t, err, vault.ErrInvalidDelay)

	cfg := vault.Config{
		ManagementFee:   new(uint256.Int),
		PerformanceFee:  new(uint256.Int),
		PremiumDiscount: vault.DefaultPremiumDiscount,
		AuctionDuration: vault.DefaultAuctionDuration,
		CommitDelay:     time.Hour,
	}
	_, err = vault.New(alice, params, cfg, vault.Deps{})
	require.ErrorIs(t, err, vault.ErrMissingDependency)
}

func TestSequencerOrdersConcurrentCallers(t *testing.T) {
	h := newHarness(t)
	seq := vault.NewSequencer(h.v)

	const depositors = 16
	var wg sync.WaitGroup
	errs := make([]error, depositors)
	for i := 0; i < depositors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := chain.NewAddress("account:depositor-" + string(rune('a'+i)))
			errs[i] = seq.Do(func(v *vault.Vault) error {
				if err := h.world.Fund(account, ether(1_000)); err != nil {
					return err
				}
				return v.DepositETH(account, ether(1_000))
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, ether(depositors*1_000), h.v.VaultState().TotalPending)
	assert.Len(t, h.rec.events, depositors)
}
