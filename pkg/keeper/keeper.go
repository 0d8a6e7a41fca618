// Package keeper drives a vault through its weekly cycle: it settles the
// option auction, reports the expiry price, commits the next option and
// rolls into it.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/fault"
	"github.com/luxfi/thetavault/pkg/vault"
)

// Action names, also used as metric labels.
const (
	ActionSettleAuction = "settleAuction"
	ActionReportExpiry  = "reportExpiry"
	ActionCommit        = "commitAndClose"
	ActionRoll          = "rollToNextOption"
)

// Results of an action.
const (
	ResultOK    = "ok"
	ResultRetry = "retry"
	ResultError = "error"
)

const DefaultInterval = 30 * time.Second

// Recorder counts keeper actions. *metrics.VaultMetrics satisfies it.
type Recorder interface {
	RecordKeeperAction(action, result string)
}

// SpotReporter supplies the settlement price of an expired option. The
// default reports the oracle's spot price at the time of the report.
type SpotReporter func(w *chain.World, underlying common.Address, expiry time.Time) (*uint256.Int, error)

type Config struct {
	// Account is the vault's keeper role.
	Account  common.Address
	Interval time.Duration
	// MinimumPending is the pending balance an idle vault needs before its
	// first option is committed.
	MinimumPending *uint256.Int
	Reporter       SpotReporter
	Recorder       Recorder
}

type Keeper struct {
	seq      *vault.Sequencer
	world    *chain.World
	cfg      Config
	interval time.Duration
	logger   log.Logger
}

func New(seq *vault.Sequencer, world *chain.World, cfg Config, logger log.Logger) *Keeper {
	if logger == nil {
		logger = log.Root().New("module", "keeper")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cfg.Reporter == nil {
		cfg.Reporter = ReportSpot
	}
	return &Keeper{seq: seq, world: world, cfg: cfg, interval: interval, logger: logger}
}

// ReportSpot reports the current spot price as the expiry price.
func ReportSpot(w *chain.World, underlying common.Address, _ time.Time) (*uint256.Int, error) {
	return w.Oracle.SpotPrice(underlying)
}

// Run calls Step every interval until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("Keeper started", "account", k.cfg.Account, "interval", k.interval)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Keeper stopped")
			return
		case <-ticker.C:
			if err := k.Step(ctx); err != nil {
				k.logger.Warn("Keeper step failed", "error", err)
			}
		}
	}
}

// Step runs every action that is due. Timing errors mean an action is not
// due yet and are retried on the next step; other errors are returned.
func (k *Keeper) Step(ctx context.Context) error {
	var errs []error
	for _, action := range []struct {
		name string
		fn   func(v *vault.Vault) (bool, error)
	}{
		{ActionSettleAuction, k.settleAuction},
		{ActionReportExpiry, k.reportExpiry},
		{ActionCommit, k.commit},
		{ActionRoll, k.roll},
	} {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ran bool
		err := k.seq.Do(func(v *vault.Vault) error {
			var err error
			ran, err = action.fn(v)
			return err
		})
		switch {
		case err == nil && !ran:
		case err == nil:
			k.record(action.name, ResultOK)
			k.logger.Info("Keeper action done", "action", action.name)
		case fault.Is(err, fault.Timing):
			k.record(action.name, ResultRetry)
			k.logger.Debug("Keeper action not due", "action", action.name, "error", err)
		default:
			k.record(action.name, ResultError)
			errs = append(errs, fmt.Errorf("%s: %w", action.name, err))
		}
	}
	return errors.Join(errs...)
}

func (k *Keeper) record(action, result string) {
	if k.cfg.Recorder != nil {
		k.cfg.Recorder.RecordKeeperAction(action, result)
	}
}

// settleAuction clears the round's auction once bidding has closed.
func (k *Keeper) settleAuction(v *vault.Vault) (bool, error) {
	id := v.Books().OptionAuctionID
	if id == 0 {
		return false, nil
	}
	ended, settled, err := k.world.Auction.Ended(id)
	if err != nil || !ended || settled {
		return false, err
	}
	res, err := k.world.Auction.SettleAuction(id)
	if err != nil {
		return false, err
	}
	k.logger.Info("Auction settled",
		"auction", id,
		"sold", res.Sold,
		"clearingPrice", res.ClearingPrice,
		"proceeds", res.Proceeds)
	return true, nil
}

// reportExpiry posts the settlement price of the live option once the
// oracle locking period after its expiry has passed.
func (k *Keeper) reportExpiry(v *vault.Vault) (bool, error) {
	current := v.CurrentOption()
	if current == (common.Address{}) {
		return false, nil
	}
	expiry, err := k.world.Options.Expiry(current)
	if err != nil {
		return false, err
	}
	underlying := v.Params().Underlying
	if !k.world.Oracle.IsLockingPeriodOver(expiry) {
		return false, nil
	}
	if _, _, err := k.world.Oracle.ExpiryPrice(underlying, expiry); !errors.Is(err, chain.ErrPriceNotSet) {
		return false, err
	}
	price, err := k.cfg.Reporter(k.world, underlying, expiry)
	if err != nil {
		return false, err
	}
	if err := k.world.Oracle.SetExpiryPrice(underlying, expiry, price); err != nil {
		return false, err
	}
	k.logger.Info("Expiry price reported", "option", current, "expiry", expiry, "price", price)
	return true, nil
}

// commit closes an expired round once its price is final, or opens the
// first round once enough has been deposited.
func (k *Keeper) commit(v *vault.Vault) (bool, error) {
	switch v.Phase() {
	case vault.PhaseIdle:
		threshold := k.cfg.MinimumPending
		if threshold == nil {
			threshold = v.Params().MinimumSupply
		}
		if v.VaultState().TotalPending.Lt(threshold) {
			return false, nil
		}
	case vault.PhaseExpired:
		expiry, err := k.world.Options.Expiry(v.CurrentOption())
		if err != nil {
			return false, err
		}
		if !k.world.Oracle.IsDisputePeriodOver(v.Params().Underlying, expiry) {
			return false, nil
		}
	default:
		return false, nil
	}
	if err := v.CommitAndClose(k.cfg.Account); err != nil {
		return false, err
	}
	return true, nil
}

func (k *Keeper) roll(v *vault.Vault) (bool, error) {
	if v.Phase() != vault.PhaseCommitted {
		return false, nil
	}
	if k.world.Chain.Now().Before(v.OptionState().NextOptionReadyAt) {
		return false, nil
	}
	if err := v.RollToNextOption(k.cfg.Account); err != nil {
		return false, err
	}
	return true, nil
}
