package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is a journaled fungible ledger. Native ETH is modelled as a Token
// too; there is no allowance model, the caller is the spender.
type Token struct {
	chain    *Chain
	addr     common.Address
	symbol   string
	decimals uint8
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

func NewToken(c *Chain, symbol string, decimals uint8) *Token {
	return &Token{
		chain:    c,
		addr:     NewAddress("token:" + symbol),
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.addr }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	return zeroIfNil(t.balances[account]).Clone()
}

func (t *Token) TotalSupply() *uint256.Int { return t.supply.Clone() }

func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	supply, overflow := new(uint256.Int).AddOverflow(t.supply, amount)
	if overflow {
		return fmt.Errorf("%s mint: %w", t.symbol, ErrOverflow)
	}
	t.setSupply(supply)
	t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	return nil
}

func (t *Token) Burn(from common.Address, amount *uint256.Int) error {
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s burn %s from %s: %w", t.symbol, amount.Dec(), from.Hex(), ErrInsufficientBalance)
	}
	t.setBalance(from, bal.Sub(bal, amount))
	t.setSupply(new(uint256.Int).Sub(t.supply, amount))
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s transfer %s from %s: %w", t.symbol, amount.Dec(), from.Hex(), ErrInsufficientBalance)
	}
	if from == to || amount.IsZero() {
		return nil
	}
	t.setBalance(from, bal.Sub(bal, amount))
	t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	return nil
}

func (t *Token) setBalance(account common.Address, v *uint256.Int) {
	old, had := t.balances[account]
	t.chain.record(func() {
		if had {
			t.balances[account] = old
		} else {
			delete(t.balances, account)
		}
	})
	t.balances[account] = v
}

func (t *Token) setSupply(v *uint256.Int) {
	old := t.supply
	t.chain.record(func() { t.supply = old })
	t.supply = v
}

// WETH wraps native ETH one to one.
type WETH struct {
	*Token
	eth *Token
}

func NewWETH(c *Chain, eth *Token) *WETH {
	return &WETH{Token: NewToken(c, "WETH", 18), eth: eth}
}

func (w *WETH) Deposit(from common.Address, amount *uint256.Int) error {
	if err := w.eth.Transfer(from, w.addr, amount); err != nil {
		return fmt.Errorf("weth deposit: %w", err)
	}
	return w.Mint(from, amount)
}

func (w *WETH) Withdraw(from common.Address, amount *uint256.Int) error {
	if err := w.Burn(from, amount); err != nil {
		return fmt.Errorf("weth withdraw: %w", err)
	}
	return w.eth.Transfer(w.addr, from, amount)
}
