package vault

import (
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NextFriday returns the first Friday 08:00 UTC strictly after t.
func NextFriday(t time.Time) time.Time {
	t = t.UTC()
	days := (int(time.Friday) - int(t.Weekday()) + 7) % 7
	friday := time.Date(t.Year(), t.Month(), t.Day()+days, 8, 0, 0, 0, time.UTC)
	if !friday.After(t) {
		friday = friday.AddDate(0, 0, 7)
	}
	return friday
}

// nextExpiry follows the previous option's weekly schedule unless the vault
// has been idle for more than a week.
func nextExpiry(now time.Time, previous time.Time) time.Time {
	if previous.IsZero() || now.After(previous.Add(7*24*time.Hour)) {
		return NextFriday(now)
	}
	return NextFriday(previous)
}

// CommitAndClose settles the expired option, if any, and commits the
// option for the next round. It may run when no option is live or once the
// live option has expired and its settlement price is final.
func (v *Vault) CommitAndClose(caller common.Address) error {
	return v.exec("commitAndClose", func() error {
		if err := v.onlyOperator(caller); err != nil {
			return err
		}
		if v.option.NextOption != (common.Address{}) {
			return ErrOptionAlreadyCommitted
		}
		now := v.deps.Clock.Now()
		old := v.option.CurrentOption
		var oldExpiry time.Time
		if old != (common.Address{}) {
			expiry, err := v.deps.Options.Expiry(old)
			if err != nil {
				return err
			}
			if now.Before(expiry) {
				return fmt.Errorf("%w: expires %s", ErrOptionNotExpired, expiry.Format(time.RFC3339))
			}
			oldExpiry = expiry
		}

		expiry := nextExpiry(now, oldExpiry)
		strike, delta, err := v.selectStrike(expiry)
		if err != nil {
			return err
		}
		p := v.params
		otoken, err := v.deps.Options.GetOrDeployOtoken(p.Underlying, p.StrikeAsset, p.Collateral, strike, expiry, p.IsPut)
		if err != nil {
			return err
		}
		quote, err := v.deps.Pricer.GetPremium(strike, expiry, p.IsPut)
		if err != nil {
			return err
		}
		premium := mulDiv(quote, uint256.NewInt(v.settings.PremiumDiscount), uint256.NewInt(PremiumDiscountMultiplier))
		if premium.IsZero() {
			return ErrZeroPremium
		}
		if maxPremium.Lt(premium) {
			return ErrOverflow
		}

		v.books.CurrentOtokenPremium = premium
		v.option.NextOption = otoken
		v.option.NextOptionReadyAt = now.Add(v.delay)
		if old != (common.Address{}) {
			v.state.LastLockedAmount = v.state.LockedAmount.Clone()
		}
		v.state.LockedAmount = new(uint256.Int)
		v.option.CurrentOption = common.Address{}
		v.emit(NewOptionStrikeSelectedEvent{Option: otoken, StrikePrice: strike, Delta: delta, Premium: premium.Clone()})

		if old != (common.Address{}) {
			if err := v.closeShort(caller, old); err != nil {
				return err
			}
		}
		return v.deps.Collateral.WrapToYieldToken()
	})
}

func (v *Vault) selectStrike(expiry time.Time) (*uint256.Int, uint64, error) {
	if v.books.StrikeOverrideRound == v.state.Round && !v.books.OverriddenStrike.IsZero() {
		return v.books.OverriddenStrike.Clone(), 0, nil
	}
	strike, delta, err := v.deps.Strikes.GetStrikePrice(expiry, v.params.IsPut)
	if err != nil {
		return nil, 0, err
	}
	if strike == nil || strike.IsZero() {
		return nil, 0, ErrZeroStrike
	}
	return strike, delta, nil
}

// closeShort redeems the collateral of an expired short.
func (v *Vault) closeShort(caller, otoken common.Address) error {
	if _, _, _, open := v.deps.Options.ShortPosition(v.self); !open {
		return nil
	}
	returned, err := v.deps.Options.SettleVault(v.self)
	if err != nil {
		return fmt.Errorf("settle short: %w", err)
	}
	v.emit(CloseShortEvent{Option: otoken, WithdrawAmount: returned, Caller: caller})
	return nil
}

type rolloverResult struct {
	pricePerShare        *uint256.Int
	mintShares           *uint256.Int
	lockedAmount         *uint256.Int
	queuedWithdrawAmount *uint256.Int
	fees                 VaultFees
}

// rollover computes the closing round's price per share, fees, shares to
// mint for pending deposits and the amount to lock in the next option.
func (v *Vault) rollover(now time.Time) (rolloverResult, error) {
	var res rolloverResult
	total := v.TotalBalance()
	lastQueued := v.state.CurrentQueuedWithdrawAmount

	balanceForFees, err := sub(total, lastQueued, "balance for fees")
	if err != nil {
		return res, err
	}
	var elapsed time.Duration
	if !v.books.LastRollAt.IsZero() {
		elapsed = now.Sub(v.books.LastRollAt)
	}
	res.fees = ComputeVaultFees(balanceForFees, v.state.LastLockedAmount, v.state.TotalPending,
		v.settings.PerformanceFee, v.settings.ManagementFee, elapsed)
	balance, err := sub(total, res.fees.Total, "balance after fees")
	if err != nil {
		return res, err
	}

	closedQueued, err := sub(v.state.QueuedWithdrawShares, v.books.CurrentRoundQueuedShares, "queued shares")
	if err != nil {
		return res, err
	}
	supply, err := sub(v.deps.Shares.TotalSupply(), closedQueued, "share supply")
	if err != nil {
		return res, err
	}
	unreserved, err := sub(balance, lastQueued, "unreserved balance")
	if err != nil {
		return res, err
	}
	dec := v.params.Decimals
	if res.pricePerShare, err = PricePerShare(supply, unreserved, v.state.TotalPending, dec); err != nil {
		return res, err
	}
	queued, err := SharesToAsset(v.books.CurrentRoundQueuedShares, res.pricePerShare, dec)
	if err != nil {
		return res, err
	}
	res.queuedWithdrawAmount = queued.Add(queued, lastQueued)
	if res.mintShares, err = AssetToShares(v.state.TotalPending, res.pricePerShare, dec); err != nil {
		return res, err
	}
	if res.lockedAmount, err = sub(balance, res.queuedWithdrawAmount, "locked amount"); err != nil {
		return res, err
	}
	if maxUint104.Lt(res.lockedAmount) {
		return res, ErrOverflow
	}
	return res, nil
}

// RollToNextOption closes the round, prices its shares, mints shares for
// pending deposits, pays fees, opens the committed short and auctions it.
func (v *Vault) RollToNextOption(caller common.Address) error {
	return v.exec("rollToNextOption", func() error {
		if err := v.onlyKeeper(caller); err != nil {
			return err
		}
		next := v.option.NextOption
		if next == (common.Address{}) {
			return ErrNoNextOption
		}
		now := v.deps.Clock.Now()
		if now.Before(v.option.NextOptionReadyAt) {
			return fmt.Errorf("%w: ready at %s", ErrOptionNotReady, v.option.NextOptionReadyAt.Format(time.RFC3339))
		}
		closing := v.state.Round
		if closing == math.MaxUint16 {
			return ErrRoundOverflow
		}

		res, err := v.rollover(now)
		if err != nil {
			return err
		}
		if err := v.finalizePricePerShare(closing, res.pricePerShare); err != nil {
			return err
		}
		v.option.CurrentOption = next
		v.option.NextOption = common.Address{}
		v.option.NextOptionReadyAt = time.Time{}
		v.state.TotalPending = new(uint256.Int)
		v.state.Round = closing + 1
		v.state.CurrentQueuedWithdrawAmount = res.queuedWithdrawAmount
		// set by openShort once collateral is posted
		v.state.LockedAmount = new(uint256.Int)
		v.books.CurrentRoundQueuedShares = new(uint256.Int)
		v.books.LastRollAt = now
		v.emit(RoundClosedEvent{
			Round:                closing,
			PricePerShare:        res.pricePerShare.Clone(),
			MintedShares:         res.mintShares.Clone(),
			LockedAmount:         res.lockedAmount.Clone(),
			QueuedWithdrawAmount: res.queuedWithdrawAmount.Clone(),
		})

		if !res.mintShares.IsZero() {
			if err := v.deps.Shares.Mint(v.self, res.mintShares); err != nil {
				return err
			}
		}
		if !res.fees.Total.IsZero() {
			v.emit(CollectVaultFeesEvent{
				PerformanceFee: res.fees.Performance.Clone(),
				VaultFee:       res.fees.Total.Clone(),
				Round:          closing,
				FeeRecipient:   v.feeTo,
			})
			if _, err := v.deps.Collateral.WithdrawTargetAsset(v.feeTo, res.fees.Total); err != nil {
				return fmt.Errorf("pay fees: %w", err)
			}
		}
		if err := v.deps.Collateral.WrapToYieldToken(); err != nil {
			return err
		}
		return v.openShort(caller, next, res.lockedAmount)
	})
}

// openShort locks collateral worth locked into the option and auctions the
// minted option tokens. LockedAmount becomes the stETH value actually
// posted, or stays zero when the option is left unwritten.
func (v *Vault) openShort(caller, otoken common.Address, locked *uint256.Int) error {
	held := v.deps.WstETH.BalanceOf(v.self)
	wst := v.deps.WstETH.WstETHByStETH(locked)
	if v.deps.WstETH.StETHByWstETH(wst).Lt(locked) {
		wst.AddUint64(wst, 1)
	}
	collateralAmount := minU(wst, held)
	if collateralAmount.Lt(v.params.MinimumSupply) {
		v.logger.Warn("Nothing to lock, option left unwritten",
			"round", v.state.Round,
			"option", otoken.Hex(),
			"collateral", collateralAmount.Dec(),
		)
		return nil
	}
	minted, err := v.deps.Options.CreateShort(v.self, otoken, collateralAmount)
	if err != nil {
		return fmt.Errorf("open short: %w", err)
	}
	posted := v.deps.WstETH.StETHByWstETH(collateralAmount)
	v.state.LockedAmount = posted
	v.emit(OpenShortEvent{Option: otoken, DepositAmount: posted.Clone(), Caller: caller})

	premium := v.books.CurrentOtokenPremium
	id, err := v.deps.Auction.StartAuction(v.self, otoken, minted, premium, v.settings.AuctionDuration)
	if err != nil {
		return fmt.Errorf("start auction: %w", err)
	}
	v.books.OptionAuctionID = id
	v.emit(AuctionStartedEvent{AuctionID: id, Option: otoken, Amount: minted, MinPrice: premium.Clone()})
	return nil
}

// BurnRemainingOTokens burns option tokens the auction did not sell and
// unlocks their collateral.
func (v *Vault) BurnRemainingOTokens(caller common.Address) error {
	return v.exec("burnRemainingOTokens", func() error {
		if err := v.onlyKeeper(caller); err != nil {
			return err
		}
		current := v.option.CurrentOption
		if current == (common.Address{}) {
			return ErrNoActiveOption
		}
		unsold := v.deps.Options.OtokenBalance(current, v.self)
		if unsold.IsZero() {
			return ErrNothingToBurn
		}
		released, err := v.deps.Options.BurnOtokens(v.self, unsold)
		if err != nil {
			return err
		}
		unlocked := minU(v.deps.WstETH.StETHByWstETH(released), v.state.LockedAmount)
		v.state.LockedAmount = new(uint256.Int).Sub(v.state.LockedAmount, unlocked)
		v.emit(BurnOtokensEvent{Option: current, Burned: unsold, Unlocked: unlocked})
		return nil
	})
}
