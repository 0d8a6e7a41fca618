// Package config loads thetavaultd settings from THETAVAULT_* environment
// variables. Amounts are given in whole units and fees in percent.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/collateral"
	"github.com/luxfi/thetavault/pkg/vault"
)

// Database backends.
const (
	DatabaseBadger = "badgerdb"
	DatabaseMemory = "memory"
)

var (
	ErrInvalidConfig = errors.New("invalid config")

	hundred = decimal.NewFromInt(100)
)

type Config struct {
	// Paths and logging
	DataDir  string `env:"THETAVAULT_DATA_DIR" envDefault:".thetavault"`
	Database string `env:"THETAVAULT_DATABASE" envDefault:"badgerdb"`
	LogLevel string `env:"THETAVAULT_LOG_LEVEL" envDefault:"info"`

	// Network
	HTTPAddr      string `env:"THETAVAULT_HTTP_ADDR" envDefault:":8080"`
	WSAddr        string `env:"THETAVAULT_WS_ADDR" envDefault:":8081"`
	MetricsAddr   string `env:"THETAVAULT_METRICS_ADDR" envDefault:":9090"`
	EnableMetrics bool   `env:"THETAVAULT_ENABLE_METRICS" envDefault:"true"`
	NATSURL       string `env:"THETAVAULT_NATS_URL"`
	NATSPrefix    string `env:"THETAVAULT_NATS_PREFIX" envDefault:"thetavault"`

	// Keeper
	EnableKeeper   bool          `env:"THETAVAULT_ENABLE_KEEPER" envDefault:"true"`
	KeeperInterval time.Duration `env:"THETAVAULT_KEEPER_INTERVAL" envDefault:"30s"`
	// ManualClock runs the simulation on a clock that only moves through
	// dev_advanceTime.
	ManualClock bool `env:"THETAVAULT_MANUAL_CLOCK" envDefault:"false"`
	// Restore resumes from the state in the database. Without it a database
	// that already holds vault state is refused.
	Restore bool `env:"THETAVAULT_RESTORE" envDefault:"false"`

	// Roles are hex addresses or labels hashed into addresses.
	Owner        string `env:"THETAVAULT_OWNER" envDefault:"account:owner"`
	Keeper       string `env:"THETAVAULT_KEEPER" envDefault:"account:keeper"`
	FeeRecipient string `env:"THETAVAULT_FEE_RECIPIENT" envDefault:"account:owner"`

	// Vault
	ManagementFee    decimal.Decimal `env:"THETAVAULT_MANAGEMENT_FEE" envDefault:"2"`
	PerformanceFee   decimal.Decimal `env:"THETAVAULT_PERFORMANCE_FEE" envDefault:"20"`
	PremiumDiscount  uint64          `env:"THETAVAULT_PREMIUM_DISCOUNT" envDefault:"997"`
	AuctionDuration  time.Duration   `env:"THETAVAULT_AUCTION_DURATION" envDefault:"6h"`
	CommitDelay      time.Duration   `env:"THETAVAULT_COMMIT_DELAY" envDefault:"1h"`
	Cap              decimal.Decimal `env:"THETAVAULT_CAP" envDefault:"500"`
	MinimumSupply    decimal.Decimal `env:"THETAVAULT_MINIMUM_SUPPLY" envDefault:"0.00000001"`
	SlippageFloorBps uint64          `env:"THETAVAULT_SLIPPAGE_FLOOR_BPS" envDefault:"9500"`
}

// Load parses the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Database != DatabaseBadger && c.Database != DatabaseMemory:
		return fmt.Errorf("%w: unknown database %q", ErrInvalidConfig, c.Database)
	case c.CommitDelay <= 0:
		return fmt.Errorf("%w: commit delay must be positive", ErrInvalidConfig)
	case c.ManagementFee.IsNegative() || c.ManagementFee.GreaterThanOrEqual(hundred):
		return fmt.Errorf("%w: management fee %s%%", ErrInvalidConfig, c.ManagementFee)
	case c.PerformanceFee.IsNegative() || c.PerformanceFee.GreaterThanOrEqual(hundred):
		return fmt.Errorf("%w: performance fee %s%%", ErrInvalidConfig, c.PerformanceFee)
	case c.PremiumDiscount == 0 || c.PremiumDiscount > vault.PremiumDiscountMultiplier:
		return fmt.Errorf("%w: premium discount %d", ErrInvalidConfig, c.PremiumDiscount)
	case c.SlippageFloorBps > 10_000:
		return fmt.Errorf("%w: slippage floor %d bps", ErrInvalidConfig, c.SlippageFloorBps)
	case !c.MinimumSupply.IsPositive():
		return fmt.Errorf("%w: minimum supply must be positive", ErrInvalidConfig)
	case c.Cap.LessThan(c.MinimumSupply):
		return fmt.Errorf("%w: cap below minimum supply", ErrInvalidConfig)
	case c.EnableKeeper && c.KeeperInterval <= 0:
		return fmt.Errorf("%w: keeper interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// Address resolves a role: a hex address is used as is, anything else is
// hashed into a deterministic address.
func Address(role string) common.Address {
	if common.IsHexAddress(role) {
		return common.HexToAddress(role)
	}
	return chain.NewAddress(role)
}

// Wei converts whole units into fixed point with the given decimals,
// truncating any remainder.
func Wei(amount decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidConfig, amount)
	}
	scaled := amount.Shift(int32(decimals)).Truncate(0)
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: amount %s overflows", ErrInvalidConfig, amount)
	}
	return v, nil
}

// Fee converts a percentage into vault fee units.
func Fee(percent decimal.Decimal) (*uint256.Int, error) {
	return Wei(percent, 6)
}

// VaultParams overlays the configured cap and minimum supply on base.
func (c *Config) VaultParams(base vault.Params) (vault.Params, error) {
	var err error
	if base.Cap, err = Wei(c.Cap, base.Decimals); err != nil {
		return base, err
	}
	if base.MinimumSupply, err = Wei(c.MinimumSupply, base.Decimals); err != nil {
		return base, err
	}
	return base, base.Validate()
}

// VaultConfig builds the vault's roles and initial settings.
func (c *Config) VaultConfig() (vault.Config, error) {
	management, err := Fee(c.ManagementFee)
	if err != nil {
		return vault.Config{}, err
	}
	performance, err := Fee(c.PerformanceFee)
	if err != nil {
		return vault.Config{}, err
	}
	cfg := vault.Config{
		Owner:           Address(c.Owner),
		Keeper:          Address(c.Keeper),
		FeeRecipient:    Address(c.FeeRecipient),
		ManagementFee:   management,
		PerformanceFee:  performance,
		PremiumDiscount: c.PremiumDiscount,
		AuctionDuration: c.AuctionDuration,
		CommitDelay:     c.CommitDelay,
	}
	return cfg, cfg.Validate()
}

func (c *Config) CollateralConfig() collateral.Config {
	return collateral.Config{SlippageFloorBps: c.SlippageFloorBps}
}

// String renders the config for startup logs.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database=%s dataDir=%s http=%s ws=%s", c.Database, c.DataDir, c.HTTPAddr, c.WSAddr)
	if c.EnableMetrics {
		fmt.Fprintf(&b, " metrics=%s", c.MetricsAddr)
	}
	if c.NATSURL != "" {
		fmt.Fprintf(&b, " nats=%s", c.NATSURL)
	}
	fmt.Fprintf(&b, " fees=%s%%/%s%% cap=%s", c.ManagementFee, c.PerformanceFee, c.Cap)
	return b.String()
}
