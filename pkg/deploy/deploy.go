// Package deploy wires a vault to a simulated chain.
package deploy

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/collateral"
	"github.com/luxfi/thetavault/pkg/vault"
)

var (
	// MinimumSupply and Cap match the mainnet stETH theta vault.
	MinimumSupply = uint256.NewInt(10_000_000_000)
	Cap           = uint256.MustFromDecimal("500000000000000000000")

	ManagementFee  = uint256.NewInt(2 * vault.FeeMultiplier)
	PerformanceFee = uint256.NewInt(20 * vault.FeeMultiplier)
)

// DefaultParams is a covered call on ETH collateralised with wstETH.
func DefaultParams(w *chain.World) vault.Params {
	return vault.Params{
		Decimals:      18,
		Asset:         w.WETH.Address(),
		Underlying:    w.WETH.Address(),
		Collateral:    w.WstETH.Address(),
		StrikeAsset:   w.StrikeAsset,
		MinimumSupply: MinimumSupply.Clone(),
		Cap:           Cap.Clone(),
	}
}

func DefaultConfig(owner, keeper, feeRecipient common.Address) vault.Config {
	return vault.Config{
		Owner:           owner,
		Keeper:          keeper,
		FeeRecipient:    feeRecipient,
		ManagementFee:   ManagementFee.Clone(),
		PerformanceFee:  PerformanceFee.Clone(),
		PremiumDiscount: vault.DefaultPremiumDiscount,
		AuctionDuration: vault.DefaultAuctionDuration,
		CommitDelay:     vault.DefaultCommitDelay,
	}
}

// Options are the optional parts of a deployment.
type Options struct {
	Collateral collateral.Config
	Store      vault.Persister
	Events     vault.EventSink
	Observer   vault.Observer
	Logger     log.Logger
}

// Deployment is a vault and the simulated chain it runs on.
type Deployment struct {
	World   *chain.World
	Vault   *vault.Vault
	Shares  *chain.Token
	Address common.Address
}

func NewVault(w *chain.World, params vault.Params, cfg vault.Config, opts Options) (*Deployment, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Root()
	}
	self := chain.NewAddress("vault:theta-steth-call")
	shares := chain.NewToken(w.Chain, "rETH-THETA", params.Decimals)

	wf := collateral.New(self, collateral.Sources{
		Native: w.ETH,
		WETH:   w.WETH,
		StETH:  w.StETH,
		WstETH: w.WstETH,
		Pool:   w.Pool,
	}, opts.Collateral, logger.New("module", "collateral"))

	v, err := vault.New(self, params, cfg, vault.Deps{
		Journal:    w.Chain,
		Clock:      w.Chain.Clock(),
		Shares:     shares,
		ETH:        w.ETH,
		WETH:       w.WETH,
		WstETH:     w.WstETH,
		Collateral: wf,
		Options:    w.Options,
		Auction:    w.Auction,
		Strikes:    w.Strikes,
		Pricer:     w.Pricer,
		Store:      opts.Store,
		Events:     opts.Events,
		Observer:   opts.Observer,
		Logger:     logger.New("module", "vault"),
	})
	if err != nil {
		return nil, fmt.Errorf("deploy vault: %w", err)
	}
	return &Deployment{World: w, Vault: v, Shares: shares, Address: self}, nil
}

// SettleExpiry posts the expiry price of the vault's live option, waits
// out the dispute period on a manual clock and returns the expiry.
func (d *Deployment) SettleExpiry(clock *chain.ManualClock, price *uint256.Int) (time.Time, error) {
	current := d.Vault.CurrentOption()
	expiry, err := d.World.Options.Expiry(current)
	if err != nil {
		return time.Time{}, err
	}
	if settle := expiry.Add(chain.OracleLockingPeriod); clock.Now().Before(settle) {
		clock.Set(settle)
	}
	if err := d.World.Oracle.SetExpiryPrice(d.Vault.Params().Underlying, expiry, price); err != nil {
		return time.Time{}, err
	}
	clock.Advance(chain.OracleDisputePeriod)
	return expiry, nil
}
