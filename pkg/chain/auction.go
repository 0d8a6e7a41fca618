package chain

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AuctionDetails describes an option sale. MinPrice is in bidding token
// wei per whole option token.
type AuctionDetails struct {
	Otoken   common.Address
	Amount   *uint256.Int
	MinPrice *uint256.Int
	Duration time.Duration
}

type Bid struct {
	Bidder common.Address
	Amount *uint256.Int
	Price  *uint256.Int
}

// AuctionResult is the outcome of a settled auction.
type AuctionResult struct {
	ClearingPrice *uint256.Int
	Sold          *uint256.Int
	Proceeds      *uint256.Int
}

type auction struct {
	seller  common.Address
	details AuctionDetails
	end     time.Time
	bids    []Bid
	result  *AuctionResult
}

// Auction is a uniform price batch auction: bids are filled from the
// highest price down and every winner pays the lowest filled price.
type Auction struct {
	chain    *Chain
	addr     common.Address
	bidding  *Token
	options  *OptionsProtocol
	auctions map[uint64]*auction
	nextID   uint64
}

func NewAuction(c *Chain, bidding *Token, options *OptionsProtocol) *Auction {
	return &Auction{
		chain:    c,
		addr:     NewAddress("gnosis:auction"),
		bidding:  bidding,
		options:  options,
		auctions: make(map[uint64]*auction),
		nextID:   1,
	}
}

func (a *Auction) Address() common.Address { return a.addr }

func (a *Auction) StartAuction(seller, otoken common.Address, amount, minPrice *uint256.Int, duration time.Duration) (uint64, error) {
	d := AuctionDetails{Otoken: otoken, Amount: amount, MinPrice: minPrice, Duration: duration}
	if d.Amount == nil || d.Amount.IsZero() {
		return 0, fmt.Errorf("start auction: %w", ErrZeroAmount)
	}
	if d.Duration <= 0 {
		return 0, fmt.Errorf("start auction: duration %s: %w", d.Duration, ErrZeroAmount)
	}
	ledger, err := a.options.Ledger(d.Otoken)
	if err != nil {
		return 0, err
	}
	if err := ledger.Transfer(seller, a.addr, d.Amount); err != nil {
		return 0, fmt.Errorf("start auction: %w", err)
	}
	id := a.nextID
	a.chain.record(func() {
		delete(a.auctions, id)
		a.nextID = id
	})
	a.nextID++
	a.auctions[id] = &auction{
		seller:  seller,
		details: d,
		end:     a.chain.Now().Add(d.Duration),
	}
	return id, nil
}

// PlaceBid escrows amount x price of the bidding token.
func (a *Auction) PlaceBid(bidder common.Address, id uint64, amount, price *uint256.Int) error {
	au, ok := a.auctions[id]
	if !ok {
		return ErrUnknownAuction
	}
	if !a.chain.Now().Before(au.end) {
		return ErrAuctionEnded
	}
	if price.Lt(au.details.MinPrice) {
		return ErrBidTooLow
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := a.bidding.Transfer(bidder, a.addr, cost(amount, price)); err != nil {
		return fmt.Errorf("place bid: %w", err)
	}
	old := au.bids
	a.chain.record(func() { au.bids = old })
	au.bids = append(append([]Bid(nil), old...), Bid{Bidder: bidder, Amount: amount.Clone(), Price: price.Clone()})
	return nil
}

// SettleAuction clears the auction, pays the seller, delivers option
// tokens to winners, refunds losing escrow and returns unsold tokens.
func (a *Auction) SettleAuction(id uint64) (*AuctionResult, error) {
	au, ok := a.auctions[id]
	if !ok {
		return nil, ErrUnknownAuction
	}
	if au.result != nil {
		return nil, ErrAuctionSettled
	}
	if a.chain.Now().Before(au.end) {
		return nil, ErrAuctionNotEnded
	}
	ledger, err := a.options.Ledger(au.details.Otoken)
	if err != nil {
		return nil, err
	}

	bids := append([]Bid(nil), au.bids...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[j].Price.Lt(bids[i].Price) })

	remaining := au.details.Amount.Clone()
	fills := make([]*uint256.Int, len(bids))
	clearing := new(uint256.Int)
	for i, b := range bids {
		fills[i] = minU(b.Amount, remaining)
		if fills[i].IsZero() {
			continue
		}
		remaining.Sub(remaining, fills[i])
		clearing = b.Price.Clone()
	}
	sold := new(uint256.Int).Sub(au.details.Amount, remaining)
	proceeds := new(uint256.Int)

	for i, b := range bids {
		paid := cost(fills[i], clearing)
		proceeds.Add(proceeds, paid)
		if !fills[i].IsZero() {
			if err := ledger.Transfer(a.addr, b.Bidder, fills[i]); err != nil {
				return nil, err
			}
		}
		refund := new(uint256.Int).Sub(cost(b.Amount, b.Price), paid)
		if err := a.bidding.Transfer(a.addr, b.Bidder, refund); err != nil {
			return nil, err
		}
	}
	if err := a.bidding.Transfer(a.addr, au.seller, proceeds); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(a.addr, au.seller, remaining); err != nil {
		return nil, err
	}

	result := &AuctionResult{ClearingPrice: clearing, Sold: sold, Proceeds: proceeds}
	a.chain.record(func() { au.result = nil })
	au.result = result
	return result, nil
}

// Details returns the terms an auction was started with.
func (a *Auction) Details(id uint64) (AuctionDetails, error) {
	au, ok := a.auctions[id]
	if !ok {
		return AuctionDetails{}, ErrUnknownAuction
	}
	return au.details, nil
}

// Ended reports whether bidding has closed and whether it was settled.
func (a *Auction) Ended(id uint64) (ended, settled bool, err error) {
	au, ok := a.auctions[id]
	if !ok {
		return false, false, ErrUnknownAuction
	}
	return !a.chain.Now().Before(au.end), au.result != nil, nil
}

func cost(amount, price *uint256.Int) *uint256.Int {
	return mulDiv(amount, price, pow10(OtokenDecimals))
}
