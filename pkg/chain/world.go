package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WorldConfig parameterises a fresh simulation.
type WorldConfig struct {
	SpotPrice       *uint256.Int // underlying in strike asset, 8 decimals
	GenesisStake    *uint256.Int // ETH staked at genesis
	GenesisRewards  *uint256.Int // rewards accrued on the genesis stake
	PoolLiquidity   *uint256.Int // ETH seeded into the stETH pool
	PoolRateBps     uint64
	PoolFeeBps      uint64
	StrikeOffsetBps uint64
	StrikeStep      *uint256.Int
	StrikeDelta     uint64
	PremiumBps      uint64
}

func DefaultWorldConfig() WorldConfig {
	ether := pow10(18)
	return WorldConfig{
		SpotPrice:       uint256.NewInt(2_500_00000000),
		GenesisStake:    new(uint256.Int).Mul(uint256.NewInt(1_000), ether),
		GenesisRewards:  new(uint256.Int).Mul(uint256.NewInt(100), ether),
		PoolLiquidity:   new(uint256.Int).Mul(uint256.NewInt(10_000), ether),
		PoolRateBps:     9_990,
		PoolFeeBps:      4,
		StrikeOffsetBps: 1_000,
		StrikeStep:      uint256.NewInt(100_00000000),
		StrikeDelta:     1_000,
		PremiumBps:      100,
	}
}

// World is a wired set of simulated contracts.
type World struct {
	Chain       *Chain
	ETH         *Token
	WETH        *WETH
	StETH       *StETH
	WstETH      *WstETH
	Pool        *CurvePool
	Oracle      *Oracle
	Options     *OptionsProtocol
	Auction     *Auction
	Strikes     *StrikeSelector
	Pricer      *PremiumPricer
	StrikeAsset common.Address
	Genesis     common.Address
}

func NewWorld(clock Clock, cfg WorldConfig) (*World, error) {
	c := New(clock)
	eth := NewToken(c, "ETH", 18)
	weth := NewWETH(c, eth)
	steth := NewStETH(c, eth)
	wsteth := NewWstETH(c, steth)
	oracle := NewOracle(c)
	options := NewOptionsProtocol(c, oracle)
	w := &World{
		Chain:       c,
		ETH:         eth,
		WETH:        weth,
		StETH:       steth,
		WstETH:      wsteth,
		Pool:        NewCurvePool(c, eth, steth, cfg.PoolRateBps, cfg.PoolFeeBps),
		Oracle:      oracle,
		Options:     options,
		Auction:     NewAuction(c, weth.Token, options),
		Strikes:     NewStrikeSelector(oracle, weth.Address(), cfg.StrikeOffsetBps, cfg.StrikeStep, cfg.StrikeDelta),
		Pricer:      NewPremiumPricer(cfg.PremiumBps, 18),
		StrikeAsset: NewAddress("token:USDC"),
		Genesis:     NewAddress("account:genesis"),
	}
	options.WhitelistCollateral(wsteth, wsteth.StEthPerToken)
	oracle.SetSpotPrice(weth.Address(), cfg.SpotPrice)

	if cfg.GenesisStake != nil && !cfg.GenesisStake.IsZero() {
		if err := eth.Mint(w.Genesis, cfg.GenesisStake); err != nil {
			return nil, err
		}
		if _, err := steth.Submit(w.Genesis, cfg.GenesisStake); err != nil {
			return nil, fmt.Errorf("genesis stake: %w", err)
		}
		if cfg.GenesisRewards != nil {
			steth.AccrueRewards(cfg.GenesisRewards)
		}
	}
	if cfg.PoolLiquidity != nil {
		if err := eth.Mint(w.Pool.Address(), cfg.PoolLiquidity); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Fund mints native ETH to an account.
func (w *World) Fund(account common.Address, amount *uint256.Int) error {
	return w.ETH.Mint(account, amount)
}
