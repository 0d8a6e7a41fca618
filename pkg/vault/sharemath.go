package vault

import (
	"fmt"

	"github.com/holiman/uint256"
)

var placeholderPricePerShare = uint256.NewInt(1)

// AssetToShares converts an asset amount into shares at pps, rounding down.
func AssetToShares(assetAmount, pps *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if !pps.Gt(placeholderPricePerShare) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPricePerShare, pps.Dec())
	}
	return mulDiv(assetAmount, pow10(decimals), pps), nil
}

// SharesToAsset converts shares into an asset amount at pps, rounding down.
func SharesToAsset(shares, pps *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if !pps.Gt(placeholderPricePerShare) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPricePerShare, pps.Dec())
	}
	return mulDiv(shares, pps, pow10(decimals)), nil
}

// PricePerShare values one share as the balance net of pending deposits
// spread over supply. An empty supply prices shares at one unit.
func PricePerShare(totalSupply, totalBalance, pendingAmount *uint256.Int, decimals uint8) (*uint256.Int, error) {
	single := pow10(decimals)
	if totalSupply.IsZero() {
		return single, nil
	}
	if totalBalance.Lt(pendingAmount) {
		return nil, fmt.Errorf("%w: balance %s below pending %s", ErrAccountingUnderflow, totalBalance.Dec(), pendingAmount.Dec())
	}
	net := new(uint256.Int).Sub(totalBalance, pendingAmount)
	return mulDiv(single, net, totalSupply), nil
}

// SharesFromReceipt returns the shares a receipt entitles its owner to in
// currentRound. A deposit from an earlier round is converted at that
// round's price per share.
func SharesFromReceipt(r DepositReceipt, currentRound uint16, roundPPS *uint256.Int, decimals uint8) (*uint256.Int, error) {
	unredeemed := orZero(r.UnredeemedShares)
	if r.Round == 0 || r.Round >= currentRound || r.Amount == nil || r.Amount.IsZero() {
		return unredeemed, nil
	}
	if roundPPS == nil {
		return nil, fmt.Errorf("%w: round %d not priced", ErrInvalidPricePerShare, r.Round)
	}
	shares, err := AssetToShares(r.Amount, roundPPS, decimals)
	if err != nil {
		return nil, err
	}
	return shares.Add(shares, unredeemed), nil
}

func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

func minU(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// sub returns a-b or ErrAccountingUnderflow.
func sub(a, b *uint256.Int, what string) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, fmt.Errorf("%w: %s %s < %s", ErrAccountingUnderflow, what, a.Dec(), b.Dec())
	}
	return new(uint256.Int).Sub(a, b), nil
}
