package chain

import "github.com/holiman/uint256"

var (
	bps10000 = uint256.NewInt(10_000)
	wad      = uint256.NewInt(1_000_000_000_000_000_000)
)

// mulDiv returns floor(x*y/d); zero when d is zero.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

func minU(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
