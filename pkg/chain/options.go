package chain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OtokenDecimals is the precision of option token amounts.
const OtokenDecimals = 8

// Otoken describes one option series.
type Otoken struct {
	Address     common.Address
	Underlying  common.Address
	StrikeAsset common.Address
	Collateral  common.Address
	Strike      *uint256.Int
	Expiry      time.Time
	IsPut       bool
}

// Collateral is a token the options protocol can hold.
type Collateral interface {
	Address() common.Address
	Decimals() uint8
	Transfer(from, to common.Address, amount *uint256.Int) error
}

type collateralEntry struct {
	token Collateral
	// underlying value of one whole collateral token, 1e18 scaled
	value func() *uint256.Int
}

type shortVault struct {
	otoken     common.Address
	collateral *uint256.Int
	short      *uint256.Int
}

// OptionsProtocol mints fully collateralised short positions, settles them
// against the oracle's expiry price and pays option holders.
type OptionsProtocol struct {
	chain       *Chain
	pool        common.Address
	oracle      *Oracle
	collaterals map[common.Address]collateralEntry
	otokens     map[common.Address]*Otoken
	ledgers     map[common.Address]*Token
	vaults      map[common.Address]*shortVault
}

func NewOptionsProtocol(c *Chain, oracle *Oracle) *OptionsProtocol {
	return &OptionsProtocol{
		chain:       c,
		pool:        NewAddress("gamma:margin-pool"),
		oracle:      oracle,
		collaterals: make(map[common.Address]collateralEntry),
		otokens:     make(map[common.Address]*Otoken),
		ledgers:     make(map[common.Address]*Token),
		vaults:      make(map[common.Address]*shortVault),
	}
}

// MarginPool is the address holding all collateral.
func (p *OptionsProtocol) MarginPool() common.Address { return p.pool }

// WhitelistCollateral registers a collateral token. value returns the
// underlying worth of one whole token scaled by 1e18; nil means par.
func (p *OptionsProtocol) WhitelistCollateral(token Collateral, value func() *uint256.Int) {
	if value == nil {
		value = func() *uint256.Int { return wad.Clone() }
	}
	p.collaterals[token.Address()] = collateralEntry{token: token, value: value}
}

// OtokenAddress derives the address of a series.
func OtokenAddress(underlying, strikeAsset, collateral common.Address, strike *uint256.Int, expiry time.Time, isPut bool) common.Address {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(expiry.Unix()))
	strikeBytes := strike.Bytes32()
	put := []byte{0}
	if isPut {
		put[0] = 1
	}
	return common.BytesToAddress(keccak(underlying[:], strikeAsset[:], collateral[:], strikeBytes[:], ts[:], put)[12:])
}

func (p *OptionsProtocol) GetOrDeployOtoken(underlying, strikeAsset, collateral common.Address, strike *uint256.Int, expiry time.Time, isPut bool) (common.Address, error) {
	addr := OtokenAddress(underlying, strikeAsset, collateral, strike, expiry, isPut)
	if _, ok := p.otokens[addr]; ok {
		return addr, nil
	}
	if strike.IsZero() {
		return common.Address{}, fmt.Errorf("deploy otoken: %w", ErrZeroAmount)
	}
	if !expiry.After(p.chain.Now()) {
		return common.Address{}, fmt.Errorf("deploy otoken: %w", ErrExpiryPassed)
	}
	if _, ok := p.collaterals[collateral]; !ok {
		return common.Address{}, fmt.Errorf("deploy otoken: %w", ErrUnknownCollateral)
	}
	o := &Otoken{
		Address:     addr,
		Underlying:  underlying,
		StrikeAsset: strikeAsset,
		Collateral:  collateral,
		Strike:      strike.Clone(),
		Expiry:      expiry.UTC(),
		IsPut:       isPut,
	}
	ledger := NewToken(p.chain, "oToken", OtokenDecimals)
	ledger.addr = addr
	p.chain.record(func() {
		delete(p.otokens, addr)
		delete(p.ledgers, addr)
	})
	p.otokens[addr] = o
	p.ledgers[addr] = ledger
	return addr, nil
}

func (p *OptionsProtocol) Otoken(addr common.Address) (*Otoken, error) {
	o, ok := p.otokens[addr]
	if !ok {
		return nil, ErrUnknownOtoken
	}
	return o, nil
}

// Ledger returns the balance ledger of a series.
func (p *OptionsProtocol) Ledger(otoken common.Address) (*Token, error) {
	l, ok := p.ledgers[otoken]
	if !ok {
		return nil, ErrUnknownOtoken
	}
	return l, nil
}

// OtokenBalance is holder's balance of a series, zero for unknown series.
func (p *OptionsProtocol) OtokenBalance(otoken, holder common.Address) *uint256.Int {
	l, ok := p.ledgers[otoken]
	if !ok {
		return new(uint256.Int)
	}
	return l.BalanceOf(holder)
}

func (p *OptionsProtocol) Expiry(otoken common.Address) (time.Time, error) {
	o, err := p.Otoken(otoken)
	if err != nil {
		return time.Time{}, err
	}
	return o.Expiry, nil
}

// CreateShort deposits collateral from owner and mints option tokens
// against it. It returns the number of option tokens minted.
func (p *OptionsProtocol) CreateShort(owner, otoken common.Address, collateralAmount *uint256.Int) (*uint256.Int, error) {
	o, err := p.Otoken(otoken)
	if err != nil {
		return nil, err
	}
	if !p.chain.Now().Before(o.Expiry) {
		return nil, ErrOptionExpired
	}
	if _, ok := p.vaults[owner]; ok {
		return nil, ErrVaultOpen
	}
	entry := p.collaterals[o.Collateral]
	mint := p.mintAmount(o, entry.token.Decimals(), collateralAmount)
	if mint.IsZero() {
		return nil, fmt.Errorf("create short: %w", ErrZeroAmount)
	}
	if err := entry.token.Transfer(owner, p.pool, collateralAmount); err != nil {
		return nil, fmt.Errorf("create short: %w", err)
	}
	if err := p.ledgers[otoken].Mint(owner, mint); err != nil {
		return nil, err
	}
	p.setVault(owner, &shortVault{otoken: otoken, collateral: collateralAmount.Clone(), short: mint.Clone()})
	return mint, nil
}

func (p *OptionsProtocol) mintAmount(o *Otoken, collateralDecimals uint8, amount *uint256.Int) *uint256.Int {
	if o.IsPut {
		// collateral is the strike asset
		num := new(uint256.Int).Mul(amount, pow10(OtokenDecimals+PriceDecimals))
		return new(uint256.Int).Div(num, new(uint256.Int).Mul(o.Strike, pow10(collateralDecimals)))
	}
	if collateralDecimals > OtokenDecimals {
		return new(uint256.Int).Div(amount, pow10(collateralDecimals-OtokenDecimals))
	}
	return amount.Clone()
}

// SettleVault closes owner's short after expiry once the expiry price is
// final and returns the collateral left after paying option holders.
func (p *OptionsProtocol) SettleVault(owner common.Address) (*uint256.Int, error) {
	v, ok := p.vaults[owner]
	if !ok {
		return nil, ErrNoVault
	}
	o := p.otokens[v.otoken]
	if p.chain.Now().Before(o.Expiry) {
		return nil, ErrOptionNotExpired
	}
	payout, err := p.payout(o, v.short)
	if err != nil {
		return nil, fmt.Errorf("settle vault: %w", err)
	}
	payout = minU(payout, v.collateral)
	returned := new(uint256.Int).Sub(v.collateral, payout)
	p.setVault(owner, nil)
	if err := p.collaterals[o.Collateral].token.Transfer(p.pool, owner, returned); err != nil {
		return nil, fmt.Errorf("settle vault: %w", err)
	}
	return returned, nil
}

// BurnOtokens burns unsold option tokens before expiry and releases the
// matching share of collateral to owner.
func (p *OptionsProtocol) BurnOtokens(owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	v, ok := p.vaults[owner]
	if !ok {
		return nil, ErrNoVault
	}
	o := p.otokens[v.otoken]
	if !p.chain.Now().Before(o.Expiry) {
		return nil, ErrOptionExpired
	}
	if amount.IsZero() || v.short.Lt(amount) {
		return nil, fmt.Errorf("burn otokens: %w", ErrInsufficientBalance)
	}
	if err := p.ledgers[v.otoken].Burn(owner, amount); err != nil {
		return nil, fmt.Errorf("burn otokens: %w", err)
	}
	released := mulDiv(v.collateral, amount, v.short)
	next := &shortVault{
		otoken:     v.otoken,
		collateral: new(uint256.Int).Sub(v.collateral, released),
		short:      new(uint256.Int).Sub(v.short, amount),
	}
	if next.short.IsZero() {
		next = nil
	}
	p.setVault(owner, next)
	if err := p.collaterals[o.Collateral].token.Transfer(p.pool, owner, released); err != nil {
		return nil, fmt.Errorf("burn otokens: %w", err)
	}
	return released, nil
}

// Redeem pays the holder of expired in-the-money option tokens.
func (p *OptionsProtocol) Redeem(holder, otoken common.Address, amount *uint256.Int) (*uint256.Int, error) {
	o, err := p.Otoken(otoken)
	if err != nil {
		return nil, err
	}
	if p.chain.Now().Before(o.Expiry) {
		return nil, ErrOptionNotExpired
	}
	payout, err := p.payout(o, amount)
	if err != nil {
		return nil, fmt.Errorf("redeem: %w", err)
	}
	if err := p.ledgers[otoken].Burn(holder, amount); err != nil {
		return nil, fmt.Errorf("redeem: %w", err)
	}
	if err := p.collaterals[o.Collateral].token.Transfer(p.pool, holder, payout); err != nil {
		return nil, fmt.Errorf("redeem: %w", err)
	}
	return payout, nil
}

// payout is the collateral owed to holders of amount option tokens.
func (p *OptionsProtocol) payout(o *Otoken, amount *uint256.Int) (*uint256.Int, error) {
	price, final, err := p.oracle.ExpiryPrice(o.Underlying, o.Expiry)
	if err != nil {
		return nil, err
	}
	if !final {
		return nil, ErrPriceNotFinalized
	}
	entry := p.collaterals[o.Collateral]
	dec := entry.token.Decimals()
	if o.IsPut {
		if !price.Lt(o.Strike) {
			return new(uint256.Int), nil
		}
		diff := new(uint256.Int).Sub(o.Strike, price)
		// amount (1e8) x diff (1e8) in strike asset units
		return mulDiv(new(uint256.Int).Mul(amount, diff), pow10(dec), pow10(OtokenDecimals+PriceDecimals)), nil
	}
	if !o.Strike.Lt(price) {
		return new(uint256.Int), nil
	}
	underlying := mulDiv(amount, pow10(dec), pow10(OtokenDecimals))
	diff := new(uint256.Int).Sub(price, o.Strike)
	value := mulDiv(underlying, diff, price)
	return mulDiv(value, wad, entry.value()), nil
}

// ShortPosition reports owner's open short.
func (p *OptionsProtocol) ShortPosition(owner common.Address) (otoken common.Address, collateral, short *uint256.Int, ok bool) {
	v, ok := p.vaults[owner]
	if !ok {
		return common.Address{}, nil, nil, false
	}
	return v.otoken, v.collateral.Clone(), v.short.Clone(), true
}

func (p *OptionsProtocol) setVault(owner common.Address, v *shortVault) {
	old, had := p.vaults[owner]
	p.chain.record(func() {
		if had {
			p.vaults[owner] = old
		} else {
			delete(p.vaults, owner)
		}
	})
	if v == nil {
		delete(p.vaults, owner)
		return
	}
	p.vaults[owner] = v
}
