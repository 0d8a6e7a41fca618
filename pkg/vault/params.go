package vault

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// FeeMultiplier scales fee percentages: 2% is 2 * FeeMultiplier.
	FeeMultiplier = 1_000_000
	// PremiumDiscountMultiplier scales the premium discount: 997 is 99.7%.
	PremiumDiscountMultiplier = 1_000
	SecondsPerYear            = 31_536_000

	DefaultCommitDelay     = time.Hour
	DefaultAuctionDuration = 6 * time.Hour
	DefaultPremiumDiscount = 997
)

var (
	maxUint104 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 104), 1)
	maxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	maxPremium = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 96), 1)
	maxFee     = uint256.NewInt(100 * FeeMultiplier)
)

// Params are fixed for the life of a vault.
type Params struct {
	IsPut         bool           `json:"isPut"`
	Decimals      uint8          `json:"decimals"`
	Asset         common.Address `json:"asset"`
	Underlying    common.Address `json:"underlying"`
	Collateral    common.Address `json:"collateral"`
	StrikeAsset   common.Address `json:"strikeAsset"`
	MinimumSupply *uint256.Int   `json:"minimumSupply"`
	Cap           *uint256.Int   `json:"cap"`
}

func (p Params) Validate() error {
	switch {
	case p.Decimals == 0:
		return fmt.Errorf("%w: zero decimals", ErrInvalidParams)
	case p.MinimumSupply == nil || p.MinimumSupply.IsZero():
		return fmt.Errorf("%w: zero minimum supply", ErrInvalidParams)
	case p.Cap == nil || p.Cap.IsZero():
		return fmt.Errorf("%w: zero cap", ErrInvalidParams)
	case p.Cap.Lt(p.MinimumSupply):
		return fmt.Errorf("%w: cap below minimum supply", ErrInvalidParams)
	}
	return nil
}

// Config carries roles and the initial owner-adjustable settings.
type Config struct {
	Owner           common.Address
	Keeper          common.Address
	FeeRecipient    common.Address
	ManagementFee   *uint256.Int // annual percent x FeeMultiplier
	PerformanceFee  *uint256.Int // percent x FeeMultiplier
	PremiumDiscount uint64
	AuctionDuration time.Duration
	CommitDelay     time.Duration
}

func (c Config) Validate() error {
	if c.CommitDelay <= 0 {
		return ErrInvalidDelay
	}
	return c.settings().validate()
}

func (c Config) settings() Settings {
	return Settings{
		ManagementFee:   orZero(c.ManagementFee),
		PerformanceFee:  orZero(c.PerformanceFee),
		PremiumDiscount: c.PremiumDiscount,
		AuctionDuration: c.AuctionDuration,
	}
}

// Settings are the parameters the owner may change between rounds.
type Settings struct {
	ManagementFee   *uint256.Int  `json:"managementFee"`
	PerformanceFee  *uint256.Int  `json:"performanceFee"`
	PremiumDiscount uint64        `json:"premiumDiscount"`
	AuctionDuration time.Duration `json:"auctionDuration"`
}

func (s Settings) validate() error {
	if !s.ManagementFee.Lt(maxFee) || !s.PerformanceFee.Lt(maxFee) {
		return ErrInvalidFee
	}
	if s.PremiumDiscount == 0 || s.PremiumDiscount > PremiumDiscountMultiplier {
		return ErrInvalidDiscount
	}
	if s.AuctionDuration < 5*time.Minute {
		return ErrInvalidDuration
	}
	return nil
}

func (s Settings) clone() Settings {
	s.ManagementFee = s.ManagementFee.Clone()
	s.PerformanceFee = s.PerformanceFee.Clone()
	return s
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
