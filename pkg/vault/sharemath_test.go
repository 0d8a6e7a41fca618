package vault

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

func TestShareConversions(t *testing.T) {
	two := wei("2000000000000000000")

	shares, err := AssetToShares(wei("1000000000000000000"), two, 18)
	require.NoError(t, err)
	assert.Equal(t, wei("500000000000000000"), shares)

	asset, err := SharesToAsset(shares, two, 18)
	require.NoError(t, err)
	assert.Equal(t, wei("1000000000000000000"), asset)

	// rounds down
	asset, err = SharesToAsset(uint256.NewInt(7), wei("1500000000000000000"), 18)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), asset)

	for _, pps := range []*uint256.Int{new(uint256.Int), uint256.NewInt(1)} {
		_, err = AssetToShares(two, pps, 18)
		require.ErrorIs(t, err, ErrInvalidPricePerShare)
		_, err = SharesToAsset(two, pps, 18)
		require.ErrorIs(t, err, ErrInvalidPricePerShare)
	}
}

func TestPricePerShare(t *testing.T) {
	tests := []struct {
		name    string
		supply  string
		balance string
		pending string
		want    string
		err     error
	}{
		{"empty supply", "0", "5000", "5000", "1000000000000000000", nil},
		{"net of pending", "2000000000000000000", "3000000000000000000", "1000000000000000000", "1000000000000000000", nil},
		{"gain", "1000000000000000000", "1100000000000000000", "0", "1100000000000000000", nil},
		{"loss floors", "3000000000000000000", "2000000000000000000", "0", "666666666666666666", nil},
		{"pending exceeds balance", "1", "1", "2", "", ErrAccountingUnderflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PricePerShare(wei(tt.supply), wei(tt.balance), wei(tt.pending), 18)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, wei(tt.want), got)
		})
	}
}

func TestSharesFromReceipt(t *testing.T) {
	r := DepositReceipt{Round: 1, Amount: wei("1000000000000000000"), UnredeemedShares: uint256.NewInt(5)}

	got, err := SharesFromReceipt(r, 2, wei("2000000000000000000"), 18)
	require.NoError(t, err)
	assert.Equal(t, wei("500000000000000005"), got)

	got, err = SharesFromReceipt(r, 1, nil, 18)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5), got)

	_, err = SharesFromReceipt(r, 2, nil, 18)
	require.ErrorIs(t, err, ErrInvalidPricePerShare)

	got, err = SharesFromReceipt(DepositReceipt{}, 4, nil, 18)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestComputeVaultFees(t *testing.T) {
	perf := uint256.NewInt(20 * FeeMultiplier)
	mgmt := uint256.NewInt(2 * FeeMultiplier)
	week := 7 * 24 * time.Hour

	fees := ComputeVaultFees(wei("110000000000000000000"), wei("100000000000000000000"), new(uint256.Int), perf, mgmt, week)
	assert.Equal(t, wei("2000000000000000000"), fees.Performance)
	assert.Equal(t, wei("42191780821917808"), fees.Management)
	assert.Equal(t, wei("2042191780821917808"), fees.Total)

	// pending deposits are not charged
	fees = ComputeVaultFees(wei("120000000000000000000"), wei("100000000000000000000"), wei("10000000000000000000"), perf, mgmt, week)
	assert.Equal(t, wei("2000000000000000000"), fees.Performance)
	assert.Equal(t, wei("42191780821917808"), fees.Management)

	t.Run("loss", func(t *testing.T) {
		fees := ComputeVaultFees(wei("90000000000000000000"), wei("100000000000000000000"), new(uint256.Int), perf, mgmt, week)
		assert.True(t, fees.Performance.IsZero())
		assert.False(t, fees.Management.IsZero())
	})
	t.Run("first round", func(t *testing.T) {
		fees := ComputeVaultFees(wei("90000000000000000000"), new(uint256.Int), wei("90000000000000000000"), perf, mgmt, 0)
		assert.True(t, fees.Total.IsZero())
	})
	t.Run("capped at balance", func(t *testing.T) {
		huge := uint256.NewInt(99 * FeeMultiplier)
		fees := ComputeVaultFees(wei("10"), new(uint256.Int), new(uint256.Int), huge, huge, 10*SecondsPerYear*time.Second)
		assert.Equal(t, wei("10"), fees.Total)
	})
}

func TestNextFriday(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC)},
		{"friday before eight", time.Date(2026, 1, 9, 7, 59, 0, 0, time.UTC), time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC)},
		{"friday at eight", time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC), time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC)},
		{"saturday", time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC), time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)},
		{"other zone", time.Date(2026, 1, 9, 16, 0, 0, 0, tokyo), time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextFriday(tt.now))
		})
	}
}

func TestNextExpiry(t *testing.T) {
	previous := time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC)

	got := nextExpiry(previous.Add(2*time.Hour), previous)
	assert.Equal(t, time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC), got)

	got = nextExpiry(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), previous)
	assert.Equal(t, time.Date(2026, 1, 23, 8, 0, 0, 0, time.UTC), got)

	got = nextExpiry(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), time.Time{})
	assert.Equal(t, previous, got)
}
