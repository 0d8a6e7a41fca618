package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StETH is a rebasing liquid staking token. Balances are derived from
// shares, so transfers by amount round down by up to a couple of wei.
type StETH struct {
	chain       *Chain
	addr        common.Address
	eth         *Token
	shares      map[common.Address]*uint256.Int
	totalShares *uint256.Int
	pooledEther *uint256.Int
}

func NewStETH(c *Chain, eth *Token) *StETH {
	return &StETH{
		chain:       c,
		addr:        NewAddress("token:stETH"),
		eth:         eth,
		shares:      make(map[common.Address]*uint256.Int),
		totalShares: new(uint256.Int),
		pooledEther: new(uint256.Int),
	}
}

func (s *StETH) Address() common.Address { return s.addr }
func (s *StETH) Symbol() string          { return "stETH" }
func (s *StETH) Decimals() uint8         { return 18 }

func (s *StETH) TotalSupply() *uint256.Int { return s.pooledEther.Clone() }

func (s *StETH) SharesOf(account common.Address) *uint256.Int {
	return zeroIfNil(s.shares[account]).Clone()
}

func (s *StETH) BalanceOf(account common.Address) *uint256.Int {
	return s.GetPooledEthByShares(s.SharesOf(account))
}

func (s *StETH) GetSharesByPooledEth(amount *uint256.Int) *uint256.Int {
	if s.totalShares.IsZero() {
		return amount.Clone()
	}
	return mulDiv(amount, s.totalShares, s.pooledEther)
}

func (s *StETH) GetPooledEthByShares(shares *uint256.Int) *uint256.Int {
	if s.totalShares.IsZero() {
		return new(uint256.Int)
	}
	return mulDiv(shares, s.pooledEther, s.totalShares)
}

// Submit stakes ETH and mints the matching shares to the sender.
func (s *StETH) Submit(from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("steth submit: %w", ErrZeroAmount)
	}
	shares := s.GetSharesByPooledEth(amount)
	if err := s.eth.Transfer(from, s.addr, amount); err != nil {
		return nil, fmt.Errorf("steth submit: %w", err)
	}
	s.setShares(from, new(uint256.Int).Add(s.SharesOf(from), shares))
	s.setTotals(new(uint256.Int).Add(s.totalShares, shares), new(uint256.Int).Add(s.pooledEther, amount))
	return shares, nil
}

// Transfer moves the shares worth amount.
func (s *StETH) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := s.TransferShares(from, to, s.GetSharesByPooledEth(amount)); err != nil {
		return fmt.Errorf("steth transfer %s: %w", amount.Dec(), err)
	}
	return nil
}

func (s *StETH) TransferShares(from, to common.Address, shares *uint256.Int) error {
	bal := s.SharesOf(from)
	if bal.Lt(shares) {
		return ErrInsufficientBalance
	}
	if from == to || shares.IsZero() {
		return nil
	}
	s.setShares(from, bal.Sub(bal, shares))
	s.setShares(to, new(uint256.Int).Add(s.SharesOf(to), shares))
	return nil
}

// AccrueRewards rebases every balance up by the given amount of ether.
func (s *StETH) AccrueRewards(amount *uint256.Int) {
	s.setTotals(s.totalShares, new(uint256.Int).Add(s.pooledEther, amount))
}

// Slash rebases every balance down.
func (s *StETH) Slash(amount *uint256.Int) {
	pooled := new(uint256.Int)
	if amount.Lt(s.pooledEther) {
		pooled.Sub(s.pooledEther, amount)
	}
	s.setTotals(s.totalShares, pooled)
}

func (s *StETH) setShares(account common.Address, v *uint256.Int) {
	old, had := s.shares[account]
	s.chain.record(func() {
		if had {
			s.shares[account] = old
		} else {
			delete(s.shares, account)
		}
	})
	s.shares[account] = v
}

func (s *StETH) setTotals(shares, pooled *uint256.Int) {
	oldShares, oldPooled := s.totalShares, s.pooledEther
	s.chain.record(func() {
		s.totalShares, s.pooledEther = oldShares, oldPooled
	})
	s.totalShares, s.pooledEther = shares, pooled
}

// WstETH is the non-rebasing wrapper of StETH; one wstETH is one stETH share.
type WstETH struct {
	*Token
	steth *StETH
}

func NewWstETH(c *Chain, steth *StETH) *WstETH {
	return &WstETH{Token: NewToken(c, "wstETH", 18), steth: steth}
}

func (w *WstETH) Wrap(from common.Address, stAmount *uint256.Int) (*uint256.Int, error) {
	if stAmount.IsZero() {
		return nil, fmt.Errorf("wsteth wrap: %w", ErrZeroAmount)
	}
	wst := w.steth.GetSharesByPooledEth(stAmount)
	if wst.IsZero() {
		return nil, fmt.Errorf("wsteth wrap: %w", ErrZeroAmount)
	}
	if err := w.steth.Transfer(from, w.addr, stAmount); err != nil {
		return nil, fmt.Errorf("wsteth wrap: %w", err)
	}
	if err := w.Mint(from, wst); err != nil {
		return nil, err
	}
	return wst, nil
}

func (w *WstETH) Unwrap(from common.Address, wst *uint256.Int) (*uint256.Int, error) {
	if wst.IsZero() {
		return nil, fmt.Errorf("wsteth unwrap: %w", ErrZeroAmount)
	}
	stAmount := w.steth.GetPooledEthByShares(wst)
	if err := w.Burn(from, wst); err != nil {
		return nil, fmt.Errorf("wsteth unwrap: %w", err)
	}
	if err := w.steth.Transfer(w.addr, from, stAmount); err != nil {
		return nil, fmt.Errorf("wsteth unwrap: %w", err)
	}
	return stAmount, nil
}

func (w *WstETH) StETHByWstETH(wst *uint256.Int) *uint256.Int {
	return w.steth.GetPooledEthByShares(wst)
}

func (w *WstETH) WstETHByStETH(stAmount *uint256.Int) *uint256.Int {
	return w.steth.GetSharesByPooledEth(stAmount)
}

// StEthPerToken is the stETH value of one whole wstETH.
func (w *WstETH) StEthPerToken() *uint256.Int {
	return w.steth.GetPooledEthByShares(wad)
}
