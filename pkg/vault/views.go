package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (v *Vault) Round() uint16 { return v.state.Round }

func (v *Vault) VaultState() State { return v.state.clone() }

func (v *Vault) OptionState() OptionState { return v.option }

func (v *Vault) Books() Books { return v.books.clone() }

func (v *Vault) Settings() Settings { return v.settings.clone() }

func (v *Vault) CurrentOption() common.Address { return v.option.CurrentOption }

// LastQueuedWithdrawAmount is the asset reserved for withdrawals queued in
// closed rounds and not yet completed.
func (v *Vault) LastQueuedWithdrawAmount() *uint256.Int {
	return v.state.CurrentQueuedWithdrawAmount.Clone()
}

func (v *Vault) Withdrawals(account common.Address) Withdrawal {
	return v.withdrawals[account].clone()
}

func (v *Vault) DepositReceipt(account common.Address) DepositReceipt {
	return v.receipts[account].clone()
}

// RoundPricePerShare is the price a closed round was finalized at.
func (v *Vault) RoundPricePerShare(round uint16) (*uint256.Int, bool) {
	p, ok := v.pps[round]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// PricePerShareHistory returns every finalized round price.
func (v *Vault) PricePerShareHistory() map[uint16]*uint256.Int {
	out := make(map[uint16]*uint256.Int, len(v.pps))
	for r, p := range v.pps {
		out[r] = p.Clone()
	}
	return out
}

// TotalBalance is the locked collateral plus everything the vault holds.
func (v *Vault) TotalBalance() *uint256.Int {
	return new(uint256.Int).Add(v.state.LockedAmount, v.deps.Collateral.TotalBalance())
}

// PricePerShare estimates the current value of one share.
func (v *Vault) PricePerShare() (*uint256.Int, error) {
	closedQueued, err := sub(v.state.QueuedWithdrawShares, v.books.CurrentRoundQueuedShares, "queued shares")
	if err != nil {
		return nil, err
	}
	supply, err := sub(v.deps.Shares.TotalSupply(), closedQueued, "share supply")
	if err != nil {
		return nil, err
	}
	balance, err := sub(v.TotalBalance(), v.state.CurrentQueuedWithdrawAmount, "balance")
	if err != nil {
		return nil, err
	}
	return PricePerShare(supply, balance, v.state.TotalPending, v.params.Decimals)
}

// ShareBalances splits an account's shares into those it holds and those
// still owed from deposit receipts.
func (v *Vault) ShareBalances(account common.Address) (held, unredeemed *uint256.Int, err error) {
	r := v.receipts[account]
	unredeemed, err = SharesFromReceipt(r, v.state.Round, v.pps[r.Round], v.params.Decimals)
	if err != nil {
		return nil, nil, err
	}
	return v.deps.Shares.BalanceOf(account), unredeemed, nil
}

// AccountVaultBalance values an account's shares plus its pending deposit.
func (v *Vault) AccountVaultBalance(account common.Address) (*uint256.Int, error) {
	held, unredeemed, err := v.ShareBalances(account)
	if err != nil {
		return nil, err
	}
	pps, err := v.PricePerShare()
	if err != nil {
		return nil, err
	}
	value, err := SharesToAsset(held.Add(held, unredeemed), pps, v.params.Decimals)
	if err != nil {
		return nil, err
	}
	if r := v.receipts[account]; r.Round == v.state.Round && r.Amount != nil {
		value.Add(value, r.Amount)
	}
	return value, nil
}

// Phase reports where the vault is in its cycle.
func (v *Vault) Phase() Phase {
	switch {
	case v.option.NextOption != (common.Address{}):
		return PhaseCommitted
	case v.option.CurrentOption != (common.Address{}):
		expiry, err := v.deps.Options.Expiry(v.option.CurrentOption)
		if err == nil && !v.deps.Clock.Now().Before(expiry) {
			return PhaseExpired
		}
		return PhaseActive
	default:
		return PhaseIdle
	}
}

func (v *Vault) stats() Stats {
	s := Stats{
		State:        v.state.clone(),
		TotalBalance: v.TotalBalance(),
		Decimals:     v.params.Decimals,
	}
	if p, ok := v.pps[v.state.Round-1]; ok {
		s.PricePerShare = p.Clone()
	}
	return s
}
