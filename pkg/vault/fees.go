package vault

import (
	"time"

	"github.com/holiman/uint256"
)

// VaultFees is the fee taken when a round closes.
type VaultFees struct {
	Performance *uint256.Int
	Management  *uint256.Int
	Total       *uint256.Int
}

// ComputeVaultFees charges the performance fee on the gain of the locked
// balance (net of pending deposits) over the last locked amount, and the
// annual management fee on the same balance prorated over elapsed.
func ComputeVaultFees(balance, lastLocked, pending, performanceFee, managementFee *uint256.Int, elapsed time.Duration) VaultFees {
	sansPending := new(uint256.Int)
	if pending.Lt(balance) {
		sansPending.Sub(balance, pending)
	}

	performance := new(uint256.Int)
	if lastLocked.Lt(sansPending) && !performanceFee.IsZero() {
		gain := new(uint256.Int).Sub(sansPending, lastLocked)
		performance = mulDiv(gain, performanceFee, maxFee)
	}

	management := new(uint256.Int)
	if secs := uint64(elapsed / time.Second); elapsed > 0 && !managementFee.IsZero() && secs > 0 {
		rate := new(uint256.Int).Mul(managementFee, uint256.NewInt(secs))
		denom := new(uint256.Int).Mul(maxFee, uint256.NewInt(SecondsPerYear))
		management = mulDiv(sansPending, rate, denom)
	}

	total := new(uint256.Int).Add(performance, management)
	if sansPending.Lt(total) {
		total = sansPending.Clone()
	}
	return VaultFees{Performance: performance, Management: management, Total: total}
}
