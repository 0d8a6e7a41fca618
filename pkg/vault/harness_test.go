package vault_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/deploy"
	"github.com/luxfi/thetavault/pkg/fault"
	"github.com/luxfi/thetavault/pkg/vault"
)

var (
	owner  = chain.NewAddress("account:owner")
	keeper = chain.NewAddress("account:keeper")
	feeTo  = chain.NewAddress("account:fees")
	alice  = chain.NewAddress("account:alice")
	bob    = chain.NewAddress("account:bob")
	bidder = chain.NewAddress("account:bidder")

	// a Monday
	start = time.Date(2026, time.January, 5, 12, 0, 0, 0, time.UTC)
)

func ether(milli uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(milli), uint256.NewInt(1_000_000_000_000_000))
}

func price(dollars uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(dollars), uint256.NewInt(100_000_000))
}

func diff(a, b *uint256.Int) uint64 {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a).Uint64()
	}
	return new(uint256.Int).Sub(a, b).Uint64()
}

type recorder struct {
	events []vault.Event
}

func (r *recorder) Publish(ev vault.Event) { r.events = append(r.events, ev) }

func (r *recorder) names() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventName())
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

type observed struct {
	commits []string
	reverts map[string]fault.Kind
}

func (o *observed) ObserveCommit(op string, _ vault.Stats) { o.commits = append(o.commits, op) }

func (o *observed) ObserveRevert(op string, kind fault.Kind) {
	if o.reverts == nil {
		o.reverts = make(map[string]fault.Kind)
	}
	o.reverts[op] = kind
}

type harness struct {
	t     *testing.T
	clock *chain.ManualClock
	world *chain.World
	dep   *deploy.Deployment
	v     *vault.Vault
	rec   *recorder
	obs   *observed
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := chain.NewManualClock(start)
	w, err := chain.NewWorld(clock, chain.DefaultWorldConfig())
	require.NoError(t, err)

	level, _ := log.ToLevel("info")
	h := &harness{t: t, clock: clock, world: w, rec: &recorder{}, obs: &observed{}}
	h.dep, err = deploy.NewVault(w, deploy.DefaultParams(w), deploy.DefaultConfig(owner, keeper, feeTo), deploy.Options{
		Events:   h.rec,
		Observer: h.obs,
		Logger:   log.NewTestLogger(level),
	})
	require.NoError(t, err)
	h.v = h.dep.Vault
	return h
}

func (h *harness) depositETH(account common.Address, amount *uint256.Int) {
	h.t.Helper()
	require.NoError(h.t, h.world.Fund(account, amount))
	require.NoError(h.t, h.v.DepositETH(account, amount))
}

// roll commits the next option and, once the commit delay has passed,
// rolls into it.
func (h *harness) roll() {
	h.t.Helper()
	require.NoError(h.t, h.v.CommitAndClose(keeper))
	h.clock.Advance(vault.DefaultCommitDelay)
	require.NoError(h.t, h.v.RollToNextOption(keeper))
}

// sellOptions fills the live auction at its minimum price and settles it.
func (h *harness) sellOptions() {
	h.t.Helper()
	id := h.v.Books().OptionAuctionID
	details, err := h.world.Auction.Details(id)
	require.NoError(h.t, err)
	cost, _ := new(uint256.Int).MulDivOverflow(details.Amount, details.MinPrice, uint256.NewInt(100_000_000))
	require.NoError(h.t, h.world.Fund(bidder, cost))
	require.NoError(h.t, h.world.WETH.Deposit(bidder, cost))
	require.NoError(h.t, h.world.Auction.PlaceBid(bidder, id, details.Amount, details.MinPrice))
	h.clock.Advance(vault.DefaultAuctionDuration)
	_, err = h.world.Auction.SettleAuction(id)
	require.NoError(h.t, err)
}

// cycle runs a sold option to expiry at the given price and rolls into the
// next round.
func (h *harness) cycle(expiryPrice *uint256.Int) {
	h.t.Helper()
	h.sellOptions()
	_, err := h.dep.SettleExpiry(h.clock, expiryPrice)
	require.NoError(h.t, err)
	h.roll()
}

// held values everything the vault holds outside the options protocol.
func (h *harness) held() *uint256.Int {
	self := h.dep.Address
	total := new(uint256.Int).Add(h.world.ETH.BalanceOf(self), h.world.WETH.BalanceOf(self))
	total.Add(total, h.world.StETH.BalanceOf(self))
	return total.Add(total, h.world.WstETH.StETHByWstETH(h.world.WstETH.BalanceOf(self)))
}
