package store

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/deploy"
	"github.com/luxfi/thetavault/pkg/vault"
)

var (
	owner  = chain.NewAddress("account:owner")
	keeper = chain.NewAddress("account:keeper")
	alice  = chain.NewAddress("account:alice")
	bob    = chain.NewAddress("account:bob")
)

func newTestDB(t *testing.T) database.Database {
	t.Helper()
	dbManager := manager.NewManager(t.TempDir(), nil)
	db, err := dbManager.New(manager.DefaultMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() log.Logger {
	level, _ := log.ToLevel("info")
	return log.NewTestLogger(level)
}

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func newDeployment(t *testing.T, st vault.Persister) (*deploy.Deployment, *chain.ManualClock) {
	t.Helper()
	clock := chain.NewManualClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	w, err := chain.NewWorld(clock, chain.DefaultWorldConfig())
	require.NoError(t, err)
	d, err := deploy.NewVault(w, deploy.DefaultParams(w), deploy.DefaultConfig(owner, keeper, owner), deploy.Options{
		Store:  st,
		Logger: testLogger(),
	})
	require.NoError(t, err)
	return d, clock
}

func TestLoadEmpty(t *testing.T) {
	st := New(newTestDB(t), testLogger())
	_, err := st.Load()
	require.ErrorIs(t, err, ErrEmpty)

	history, err := st.PricePerShareHistory()
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = st.RoundPricePerShare(1)
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestCommitAndRestore(t *testing.T) {
	st := New(newTestDB(t), testLogger())
	d, clock := newDeployment(t, st)
	v := d.Vault

	for _, account := range []common.Address{alice, bob} {
		require.NoError(t, d.World.Fund(account, ether(3)))
		require.NoError(t, v.DepositETH(account, ether(3)))
	}
	require.NoError(t, v.CommitAndClose(keeper))
	clock.Advance(vault.DefaultCommitDelay)
	require.NoError(t, v.RollToNextOption(keeper))
	require.NoError(t, v.InitiateWithdraw(alice, ether(1)))
	require.NoError(t, d.World.Fund(bob, ether(1)))
	require.NoError(t, v.DepositETH(bob, ether(1)))

	pps, err := st.RoundPricePerShare(1)
	require.NoError(t, err)
	assert.Equal(t, ether(1), pps)

	snap, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, v.VaultState(), snap.State)
	assert.Equal(t, v.OptionState().CurrentOption, snap.Option.CurrentOption)
	assert.Equal(t, v.Withdrawals(alice), snap.Withdrawals[alice])
	assert.Equal(t, v.DepositReceipt(bob), snap.Receipts[bob])
	assert.Len(t, snap.Receipts, 2)
	assert.Equal(t, v.Settings(), snap.Settings)

	fresh, _ := newDeployment(t, nil)
	require.NoError(t, fresh.Vault.Restore(snap))
	assert.Equal(t, v.VaultState(), fresh.Vault.VaultState())
	assert.Equal(t, v.Books(), fresh.Vault.Books())
	assert.Equal(t, v.PricePerShareHistory(), fresh.Vault.PricePerShareHistory())
	assert.Equal(t, v.Withdrawals(alice), fresh.Vault.Withdrawals(alice))
}

func TestPricePerShareWriteOnce(t *testing.T) {
	st := New(newTestDB(t), testLogger())
	first := &vault.Checkpoint{
		State:         vault.State{Round: 2},
		PricePerShare: map[uint16]*uint256.Int{1: ether(1)},
	}
	require.NoError(t, st.Commit(first))

	second := &vault.Checkpoint{
		State:         vault.State{Round: 3},
		PricePerShare: map[uint16]*uint256.Int{1: ether(2)},
	}
	err := st.Commit(second)
	require.ErrorIs(t, err, ErrPricePerShareExists)

	pps, err := st.RoundPricePerShare(1)
	require.NoError(t, err)
	assert.Equal(t, ether(1), pps)

	// nothing from the rejected batch was written
	snap, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), snap.State.Round)
}

func TestPersistFailureRevertsVault(t *testing.T) {
	st := New(newTestDB(t), testLogger())
	require.NoError(t, st.Commit(&vault.Checkpoint{
		State:         vault.State{Round: 1},
		PricePerShare: map[uint16]*uint256.Int{1: ether(5)},
	}))

	d, clock := newDeployment(t, st)
	require.NoError(t, d.World.Fund(alice, ether(2)))
	require.NoError(t, d.Vault.DepositETH(alice, ether(2)))
	require.NoError(t, d.Vault.CommitAndClose(keeper))
	clock.Advance(vault.DefaultCommitDelay)

	// round 1 is already priced in the store, so the roll cannot persist
	err := d.Vault.RollToNextOption(keeper)
	require.ErrorIs(t, err, ErrPricePerShareExists)
	assert.Equal(t, uint16(1), d.Vault.Round())
	_, ok := d.Vault.RoundPricePerShare(1)
	assert.False(t, ok)
	assert.True(t, d.Shares.TotalSupply().IsZero())
}
