package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SetManagementFee sets the annual management fee, in percent scaled by
// FeeMultiplier.
func (v *Vault) SetManagementFee(caller common.Address, fee *uint256.Int) error {
	return v.exec("setManagementFee", func() error {
		if err := v.onlyOwner(caller); err != nil {
			return err
		}
		next := v.settings.clone()
		next.ManagementFee = fee.Clone()
		return v.applySettings(next, "managementFee", fee.Dec())
	})
}

func (v *Vault) SetPerformanceFee(caller common.Address, fee *uint256.Int) error {
	return v.exec("setPerformanceFee", func() error {
		if err := v.onlyOwner(caller); err != nil {
			return err
		}
		next := v.settings.clone()
		next.PerformanceFee = fee.Clone()
		return v.applySettings(next, "performanceFee", fee.Dec())
	})
}

func (v *Vault) SetPremiumDiscount(caller common.Address, discount uint64) error {
	return v.exec("setPremiumDiscount", func() error {
		if err := v.onlyOwner(caller); err != nil {
			return err
		}
		next := v.settings.clone()
		next.PremiumDiscount = discount
		return v.applySettings(next, "premiumDiscount", uint256.NewInt(discount).Dec())
	})
}

func (v *Vault) SetAuctionDuration(caller common.Address, d time.Duration) error {
	return v.exec("setAuctionDuration", func() error {
		if err := v.onlyOwner(caller); err != nil {
			return err
		}
		next := v.settings.clone()
		next.AuctionDuration = d
		return v.applySettings(next, "auctionDuration", d.String())
	})
}

// SetStrikePrice overrides strike selection for the option committed in
// the current round.
func (v *Vault) SetStrikePrice(caller common.Address, strike *uint256.Int) error {
	return v.exec("setStrikePrice", func() error {
		if err := v.onlyOwner(caller); err != nil {
			return err
		}
		if strike.IsZero() {
			return ErrZeroStrike
		}
		v.books.StrikeOverrideRound = v.state.Round
		v.books.OverriddenStrike = strike.Clone()
		v.emit(SettingsChangedEvent{Setting: "strikePrice", Value: strike.Dec()})
		return nil
	})
}

func (v *Vault) applySettings(next Settings, name, value string) error {
	if err := next.validate(); err != nil {
		return err
	}
	v.settings = next
	v.emit(SettingsChangedEvent{Setting: name, Value: value})
	return nil
}
