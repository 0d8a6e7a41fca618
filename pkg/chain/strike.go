package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StrikeSelector picks a strike a fixed distance out of the money from
// spot, rounded to the step away from spot.
type StrikeSelector struct {
	oracle    *Oracle
	asset     common.Address
	offsetBps uint64
	step      *uint256.Int
	delta     uint64
}

func NewStrikeSelector(oracle *Oracle, asset common.Address, offsetBps uint64, step *uint256.Int, delta uint64) *StrikeSelector {
	return &StrikeSelector{oracle: oracle, asset: asset, offsetBps: offsetBps, step: step.Clone(), delta: delta}
}

func (s *StrikeSelector) GetStrikePrice(_ time.Time, isPut bool) (*uint256.Int, uint64, error) {
	spot, err := s.oracle.SpotPrice(s.asset)
	if err != nil {
		return nil, 0, err
	}
	var target *uint256.Int
	if isPut {
		if s.offsetBps >= 10_000 {
			return new(uint256.Int), s.delta, nil
		}
		target = mulDiv(spot, uint256.NewInt(10_000-s.offsetBps), bps10000)
		target.Sub(target, new(uint256.Int).Mod(target, s.step))
	} else {
		target = mulDiv(spot, uint256.NewInt(10_000+s.offsetBps), bps10000)
		if rem := new(uint256.Int).Mod(target, s.step); !rem.IsZero() {
			target.Add(target, new(uint256.Int).Sub(s.step, rem))
		}
	}
	return target, s.delta, nil
}

// PremiumPricer quotes a premium per whole option token as a fixed
// fraction of one unit of the asset.
type PremiumPricer struct {
	bps      uint64
	decimals uint8
}

func NewPremiumPricer(bps uint64, decimals uint8) *PremiumPricer {
	return &PremiumPricer{bps: bps, decimals: decimals}
}

func (p *PremiumPricer) GetPremium(_ *uint256.Int, _ time.Time, _ bool) (*uint256.Int, error) {
	return mulDiv(pow10(p.decimals), uint256.NewInt(p.bps), bps10000), nil
}
