package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/collateral"
	"github.com/luxfi/thetavault/pkg/fault"
)

var (
	testOwner  = chain.NewAddress("account:owner")
	testKeeper = chain.NewAddress("account:keeper")
	testAlice  = chain.NewAddress("account:alice")
)

func oneEther() *uint256.Int { return wei("1000000000000000000") }

type testEnv struct {
	v      *Vault
	world  *chain.World
	clock  *chain.ManualClock
	shares *chain.Token
}

func newTestEnv(t *testing.T, store Persister) *testEnv {
	t.Helper()
	clock := chain.NewManualClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	w, err := chain.NewWorld(clock, chain.DefaultWorldConfig())
	require.NoError(t, err)

	self := chain.NewAddress("vault:test")
	shares := chain.NewToken(w.Chain, "rETH-THETA", 18)
	wf := collateral.New(self, collateral.Sources{
		Native: w.ETH,
		WETH:   w.WETH,
		StETH:  w.StETH,
		WstETH: w.WstETH,
		Pool:   w.Pool,
	}, collateral.DefaultConfig(), log.Root().New("module", "collateral"))

	params := Params{
		Decimals:      18,
		Asset:         w.WETH.Address(),
		Underlying:    w.WETH.Address(),
		Collateral:    w.WstETH.Address(),
		StrikeAsset:   w.StrikeAsset,
		MinimumSupply: uint256.NewInt(10_000_000_000),
		Cap:           wei("500000000000000000000"),
	}
	cfg := Config{
		Owner:           testOwner,
		Keeper:          testKeeper,
		FeeRecipient:    testOwner,
		ManagementFee:   uint256.NewInt(2 * FeeMultiplier),
		PerformanceFee:  uint256.NewInt(20 * FeeMultiplier),
		PremiumDiscount: DefaultPremiumDiscount,
		AuctionDuration: DefaultAuctionDuration,
		CommitDelay:     DefaultCommitDelay,
	}
	deps := Deps{
		Journal:    w.Chain,
		Clock:      clock,
		Shares:     shares,
		ETH:        w.ETH,
		WETH:       w.WETH,
		WstETH:     w.WstETH,
		Collateral: wf,
		Options:    w.Options,
		Auction:    w.Auction,
		Strikes:    w.Strikes,
		Pricer:     w.Pricer,
		Store:      store,
	}
	v, err := New(self, params, cfg, deps)
	require.NoError(t, err)
	return &testEnv{v: v, world: w, clock: clock, shares: shares}
}

func (e *testEnv) deposit(t *testing.T, account common.Address, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, e.world.Fund(account, amount))
	require.NoError(t, e.v.DepositETH(account, amount))
}

// reentrantAuction calls back into the vault while a roll is in flight.
type reentrantAuction struct {
	inner   Auctioneer
	v       *Vault
	account common.Address
	calls   int
}

func (a *reentrantAuction) StartAuction(seller, otoken common.Address, amount, minPrice *uint256.Int, duration time.Duration) (uint64, error) {
	a.calls++
	if err := a.v.CompleteWithdraw(a.account); err != nil {
		return 0, err
	}
	return a.inner.StartAuction(seller, otoken, amount, minPrice, duration)
}

func TestReentrantCallRevertsRoll(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(t, testAlice, oneEther())
	require.NoError(t, e.v.CommitAndClose(testKeeper))
	e.clock.Advance(DefaultCommitDelay)

	inner := e.v.deps.Auction
	evil := &reentrantAuction{inner: inner, v: e.v, account: testAlice}
	e.v.deps.Auction = evil

	state := e.v.VaultState()
	option := e.v.OptionState()
	wst := e.world.WstETH.BalanceOf(e.v.Address())

	err := e.v.RollToNextOption(testKeeper)
	require.ErrorIs(t, err, ErrReentrantCall)
	assert.Equal(t, fault.Reentrancy, fault.KindOf(err))
	assert.Equal(t, 1, evil.calls)

	assert.Equal(t, state, e.v.VaultState())
	assert.Equal(t, option, e.v.OptionState())
	assert.Equal(t, wst, e.world.WstETH.BalanceOf(e.v.Address()))
	assert.True(t, e.shares.TotalSupply().IsZero())
	assert.Empty(t, e.v.PricePerShareHistory())
	_, _, _, open := e.world.Options.ShortPosition(e.v.Address())
	assert.False(t, open)
	assert.False(t, e.v.entered.Load())

	e.v.deps.Auction = inner
	require.NoError(t, e.v.RollToNextOption(testKeeper))
	assert.Equal(t, uint16(2), e.v.Round())
}

func TestPricePerShareWrittenOnce(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(t, testAlice, oneEther())
	require.NoError(t, e.v.CommitAndClose(testKeeper))
	e.clock.Advance(DefaultCommitDelay)
	require.NoError(t, e.v.RollToNextOption(testKeeper))
	first, ok := e.v.RoundPricePerShare(1)
	require.True(t, ok)

	err := e.v.exec("rewrite", func() error {
		return e.v.finalizePricePerShare(1, uint256.NewInt(5))
	})
	require.ErrorIs(t, err, ErrPricePerShareFinalized)
	got, _ := e.v.RoundPricePerShare(1)
	assert.Equal(t, first, got)

	// a price written by a reverted transaction is discarded
	err = e.v.exec("revert", func() error {
		if err := e.v.finalizePricePerShare(7, oneEther()); err != nil {
			return err
		}
		return ErrOverflow
	})
	require.ErrorIs(t, err, ErrOverflow)
	_, ok = e.v.RoundPricePerShare(7)
	assert.False(t, ok)
}

type memoryPersister struct {
	fail  error
	saved []*Checkpoint
}

func (p *memoryPersister) Commit(c *Checkpoint) error {
	if p.fail != nil {
		return p.fail
	}
	p.saved = append(p.saved, c)
	return nil
}

func (p *memoryPersister) snapshot() *Snapshot {
	s := &Snapshot{
		PricePerShare: make(map[uint16]*uint256.Int),
		Withdrawals:   make(map[common.Address]Withdrawal),
		Receipts:      make(map[common.Address]DepositReceipt),
	}
	for _, c := range p.saved {
		s.State, s.Option, s.Books, s.Settings = c.State, c.Option, c.Books, c.Settings
		for r, pps := range c.PricePerShare {
			s.PricePerShare[r] = pps
		}
		for a, w := range c.Withdrawals {
			s.Withdrawals[a] = w
		}
		for a, r := range c.Receipts {
			s.Receipts[a] = r
		}
	}
	return s
}

func TestPersisterFailureReverts(t *testing.T) {
	store := &memoryPersister{fail: errors.New("disk full")}
	e := newTestEnv(t, store)
	require.NoError(t, e.world.Fund(testAlice, oneEther()))

	err := e.v.DepositETH(testAlice, oneEther())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, oneEther(), e.world.ETH.BalanceOf(testAlice))
	assert.True(t, e.v.VaultState().TotalPending.IsZero())
	assert.True(t, e.v.DepositReceipt(testAlice).Amount.IsZero())
}

func TestCheckpointsRestore(t *testing.T) {
	store := &memoryPersister{}
	e := newTestEnv(t, store)
	e.deposit(t, testAlice, oneEther())
	require.NoError(t, e.v.CommitAndClose(testKeeper))
	e.clock.Advance(DefaultCommitDelay)
	require.NoError(t, e.v.RollToNextOption(testKeeper))
	require.NoError(t, e.v.InitiateWithdraw(testAlice, wei("400000000000000000")))

	require.Len(t, store.saved, 4)
	deposit := store.saved[0]
	assert.Contains(t, deposit.Receipts, testAlice)
	assert.Empty(t, deposit.PricePerShare)
	roll := store.saved[2]
	assert.Equal(t, oneEther(), roll.PricePerShare[1])
	assert.Empty(t, roll.Receipts)

	restored := newTestEnv(t, nil)
	require.NoError(t, restored.v.Restore(store.snapshot()))
	assert.Equal(t, e.v.VaultState(), restored.v.VaultState())
	assert.Equal(t, e.v.OptionState(), restored.v.OptionState())
	assert.Equal(t, e.v.Withdrawals(testAlice), restored.v.Withdrawals(testAlice))
	assert.Equal(t, e.v.DepositReceipt(testAlice), restored.v.DepositReceipt(testAlice))
	assert.Equal(t, e.v.PricePerShareHistory(), restored.v.PricePerShareHistory())

	err := restored.v.Restore(store.snapshot())
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}
