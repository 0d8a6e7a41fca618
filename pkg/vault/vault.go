// Package vault implements a round-based covered option vault: deposits
// are pooled each week, written as fully collateralised options, sold at
// auction and settled at expiry. Shares are priced once per round.
package vault

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/collateral"
)

// Deps are the collaborators a vault is wired to. Store, Events and
// Observer are optional.
type Deps struct {
	Journal    StateJournal
	Clock      Clock
	Shares     ShareToken
	ETH        Token
	WETH       Token
	WstETH     YieldToken
	Collateral *collateral.Waterfall
	Options    OptionsProtocol
	Auction    Auctioneer
	Strikes    StrikeSelector
	Pricer     PremiumPricer
	Store      Persister
	Events     EventSink
	Observer   Observer
	Logger     log.Logger
}

func (d Deps) validate() error {
	missing := ""
	switch {
	case d.Journal == nil:
		missing = "journal"
	case d.Clock == nil:
		missing = "clock"
	case d.Shares == nil:
		missing = "shares"
	case d.ETH == nil:
		missing = "eth"
	case d.WETH == nil:
		missing = "weth"
	case d.WstETH == nil:
		missing = "wsteth"
	case d.Collateral == nil:
		missing = "collateral"
	case d.Options == nil:
		missing = "options"
	case d.Auction == nil:
		missing = "auction"
	case d.Strikes == nil:
		missing = "strikes"
	case d.Pricer == nil:
		missing = "pricer"
	}
	if missing != "" {
		return fmt.Errorf("%w: %s", ErrMissingDependency, missing)
	}
	return nil
}

// Vault is the round lifecycle and withdrawal settlement engine. Every
// exported mutating method is one transaction: it either commits in full
// or leaves the vault and its collaborators untouched. A Vault is not safe
// for concurrent use; see Sequencer.
type Vault struct {
	self     common.Address
	params   Params
	owner    common.Address
	keeper   common.Address
	feeTo    common.Address
	delay    time.Duration
	settings Settings

	deps   Deps
	logger log.Logger

	state       State
	option      OptionState
	books       Books
	pps         map[uint16]*uint256.Int
	withdrawals map[common.Address]Withdrawal
	receipts    map[common.Address]DepositReceipt

	entered atomic.Bool
	tx      *txn
}

// New creates a vault at address self in round 1.
func New(self common.Address, params Params, cfg Config, deps Deps) (*Vault, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = log.Root().New("module", "vault")
	}
	params.MinimumSupply = params.MinimumSupply.Clone()
	params.Cap = params.Cap.Clone()
	return &Vault{
		self:        self,
		params:      params,
		owner:       cfg.Owner,
		keeper:      cfg.Keeper,
		feeTo:       cfg.FeeRecipient,
		delay:       cfg.CommitDelay,
		settings:    cfg.settings(),
		deps:        deps,
		logger:      deps.Logger,
		state:       newState(),
		books:       newBooks(),
		pps:         make(map[uint16]*uint256.Int),
		withdrawals: make(map[common.Address]Withdrawal),
		receipts:    make(map[common.Address]DepositReceipt),
	}, nil
}

// Restore loads persisted engine state into a vault that has not yet run a
// transaction.
func (v *Vault) Restore(s *Snapshot) error {
	if v.state.Round != 1 || len(v.pps) > 0 || len(v.withdrawals) > 0 || len(v.receipts) > 0 {
		return ErrAlreadyInitialized
	}
	if s.State.Round == 0 {
		return fmt.Errorf("%w: round 0", ErrInvalidParams)
	}
	v.state = s.State.clone()
	v.option = s.Option
	v.books = s.Books.clone()
	if s.Settings.ManagementFee != nil {
		v.settings = s.Settings.clone()
	}
	for r, p := range s.PricePerShare {
		v.pps[r] = p.Clone()
	}
	for a, w := range s.Withdrawals {
		v.withdrawals[a] = w.clone()
	}
	for a, r := range s.Receipts {
		v.receipts[a] = r.clone()
	}
	v.logger.Info("Restored vault state", "round", v.state.Round, "pricedRounds", len(v.pps))
	return nil
}

func (v *Vault) Address() common.Address { return v.self }
func (v *Vault) Params() Params          { return v.params }
func (v *Vault) Owner() common.Address   { return v.owner }
func (v *Vault) Keeper() common.Address  { return v.keeper }

func (v *Vault) onlyOwner(caller common.Address) error {
	if caller != v.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (v *Vault) onlyKeeper(caller common.Address) error {
	if caller != v.keeper {
		return fmt.Errorf("%w: %s is not the keeper", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (v *Vault) onlyOperator(caller common.Address) error {
	if caller != v.owner && caller != v.keeper {
		return fmt.Errorf("%w: %s is neither owner nor keeper", ErrUnauthorized, caller.Hex())
	}
	return nil
}
