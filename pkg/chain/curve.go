package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CurvePool swaps stETH for ETH at a configurable rate less a fee.
// Rates and fees are in basis points; 10000 is par.
type CurvePool struct {
	chain   *Chain
	addr    common.Address
	eth     *Token
	steth   *StETH
	rateBps uint64
	feeBps  uint64
}

func NewCurvePool(c *Chain, eth *Token, steth *StETH, rateBps, feeBps uint64) *CurvePool {
	return &CurvePool{
		chain:   c,
		addr:    NewAddress("curve:steth-eth"),
		eth:     eth,
		steth:   steth,
		rateBps: rateBps,
		feeBps:  feeBps,
	}
}

func (p *CurvePool) Address() common.Address { return p.addr }

func (p *CurvePool) SetRate(rateBps uint64) {
	old := p.rateBps
	p.chain.record(func() { p.rateBps = old })
	p.rateBps = rateBps
}

// GetDy quotes the ETH received for stIn stETH.
func (p *CurvePool) GetDy(stIn *uint256.Int) *uint256.Int {
	dy := mulDiv(stIn, uint256.NewInt(p.rateBps), bps10000)
	return mulDiv(dy, uint256.NewInt(10_000-p.feeBps), bps10000)
}

// Exchange sells stIn stETH for at least minDy ETH.
func (p *CurvePool) Exchange(from common.Address, stIn, minDy *uint256.Int) (*uint256.Int, error) {
	if stIn.IsZero() {
		return nil, fmt.Errorf("curve exchange: %w", ErrZeroAmount)
	}
	dy := p.GetDy(stIn)
	if dy.Lt(minDy) {
		return nil, fmt.Errorf("curve exchange: got %s want %s: %w", dy.Dec(), minDy.Dec(), ErrExchangeSlippage)
	}
	if p.eth.BalanceOf(p.addr).Lt(dy) {
		return nil, fmt.Errorf("curve exchange: %w", ErrInsufficientLiquidity)
	}
	if err := p.steth.Transfer(from, p.addr, stIn); err != nil {
		return nil, fmt.Errorf("curve exchange: %w", err)
	}
	if err := p.eth.Transfer(p.addr, from, dy); err != nil {
		return nil, fmt.Errorf("curve exchange: %w", err)
	}
	return dy, nil
}
