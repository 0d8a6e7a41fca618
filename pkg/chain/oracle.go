package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	OracleLockingPeriod = 300 * time.Second
	OracleDisputePeriod = 7200 * time.Second
)

// PriceDecimals is the precision of oracle prices and strikes.
const PriceDecimals = 8

type expiryKey struct {
	asset  common.Address
	expiry int64
}

type expiryPrice struct {
	price      *uint256.Int
	reportedAt time.Time
}

// Oracle stores spot prices and the settlement prices of expiries. An
// expiry price can be reported once the locking period after expiry has
// passed and becomes final after the dispute period.
type Oracle struct {
	chain   *Chain
	locking time.Duration
	dispute time.Duration
	spot    map[common.Address]*uint256.Int
	expiry  map[expiryKey]expiryPrice
}

func NewOracle(c *Chain) *Oracle {
	return &Oracle{
		chain:   c,
		locking: OracleLockingPeriod,
		dispute: OracleDisputePeriod,
		spot:    make(map[common.Address]*uint256.Int),
		expiry:  make(map[expiryKey]expiryPrice),
	}
}

func (o *Oracle) SetSpotPrice(asset common.Address, price *uint256.Int) {
	old, had := o.spot[asset]
	o.chain.record(func() {
		if had {
			o.spot[asset] = old
		} else {
			delete(o.spot, asset)
		}
	})
	o.spot[asset] = price.Clone()
}

func (o *Oracle) SpotPrice(asset common.Address) (*uint256.Int, error) {
	p, ok := o.spot[asset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset.Hex(), ErrNoSpotPrice)
	}
	return p.Clone(), nil
}

func (o *Oracle) SetExpiryPrice(asset common.Address, expiry time.Time, price *uint256.Int) error {
	if !o.IsLockingPeriodOver(expiry) {
		return ErrLockingPeriod
	}
	key := expiryKey{asset, expiry.Unix()}
	if _, ok := o.expiry[key]; ok {
		return ErrPriceAlreadySet
	}
	o.chain.record(func() { delete(o.expiry, key) })
	o.expiry[key] = expiryPrice{price: price.Clone(), reportedAt: o.chain.Now()}
	return nil
}

// ExpiryPrice returns the reported price and whether it is final.
func (o *Oracle) ExpiryPrice(asset common.Address, expiry time.Time) (*uint256.Int, bool, error) {
	p, ok := o.expiry[expiryKey{asset, expiry.Unix()}]
	if !ok {
		return nil, false, ErrPriceNotSet
	}
	final := !o.chain.Now().Before(p.reportedAt.Add(o.dispute))
	return p.price.Clone(), final, nil
}

func (o *Oracle) IsLockingPeriodOver(expiry time.Time) bool {
	return !o.chain.Now().Before(expiry.Add(o.locking))
}

func (o *Oracle) IsDisputePeriodOver(asset common.Address, expiry time.Time) bool {
	_, final, err := o.ExpiryPrice(asset, expiry)
	return err == nil && final
}
