package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InitiateWithdraw queues shares for withdrawal at the end of the current
// round. Owed shares are redeemed first. Requests in the same round
// accumulate; a request from an earlier round must be completed first.
func (v *Vault) InitiateWithdraw(caller common.Address, shares *uint256.Int) error {
	return v.exec("initiateWithdraw", func() error {
		if shares.IsZero() {
			return ErrZeroAmount
		}
		if err := v.redeem(caller, nil, true); err != nil {
			return err
		}
		if held := v.deps.Shares.BalanceOf(caller); held.Lt(shares) {
			return fmt.Errorf("%w: have %s want %s", ErrInsufficientShares, held.Dec(), shares.Dec())
		}

		round := v.state.Round
		existing := v.withdrawals[caller].clone()
		var total *uint256.Int
		switch {
		case existing.Round == round:
			total = new(uint256.Int).Add(existing.Shares, shares)
		case !existing.Shares.IsZero():
			return fmt.Errorf("%w: round %d", ErrExistingWithdraw, existing.Round)
		default:
			total = shares.Clone()
		}
		if maxUint128.Lt(total) {
			return ErrOverflow
		}

		v.setWithdrawal(caller, Withdrawal{Shares: total, Round: round})
		v.state.QueuedWithdrawShares = new(uint256.Int).Add(v.state.QueuedWithdrawShares, shares)
		v.books.CurrentRoundQueuedShares = new(uint256.Int).Add(v.books.CurrentRoundQueuedShares, shares)
		v.emit(InitiateWithdrawEvent{Account: caller, Shares: shares.Clone(), Round: round})

		return v.deps.Shares.Transfer(caller, v.self, shares)
	})
}

// CompleteWithdraw pays out a withdrawal queued in a closed round at that
// round's price per share, delivered as stETH.
func (v *Vault) CompleteWithdraw(caller common.Address) error {
	return v.exec("completeWithdraw", func() error {
		w := v.withdrawals[caller].clone()
		if w.Shares.IsZero() {
			return ErrWithdrawNotInitiated
		}
		if w.Round >= v.state.Round {
			return fmt.Errorf("%w: queued in round %d", ErrRoundNotClosed, w.Round)
		}
		pps, ok := v.pps[w.Round]
		if !ok {
			return fmt.Errorf("%w: round %d not priced", ErrInvalidPricePerShare, w.Round)
		}
		amount, err := SharesToAsset(w.Shares, pps, v.params.Decimals)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return ErrZeroAmount
		}
		queuedShares, err := sub(v.state.QueuedWithdrawShares, w.Shares, "queued shares")
		if err != nil {
			return err
		}
		queuedAmount, err := sub(v.state.CurrentQueuedWithdrawAmount, amount, "queued amount")
		if err != nil {
			return err
		}

		v.setWithdrawal(caller, Withdrawal{Shares: new(uint256.Int), Round: w.Round})
		v.state.QueuedWithdrawShares = queuedShares
		v.state.CurrentQueuedWithdrawAmount = queuedAmount
		v.emit(WithdrawEvent{Account: caller, Amount: amount.Clone(), Shares: w.Shares.Clone()})

		if err := v.deps.Shares.Burn(v.self, w.Shares); err != nil {
			return err
		}
		received, err := v.deps.Collateral.WithdrawTargetAsset(caller, amount)
		if err != nil {
			return err
		}
		v.logger.Debug("Completed withdrawal",
			"account", caller.Hex(),
			"shares", w.Shares.Dec(),
			"amount", amount.Dec(),
			"received", received.Dec(),
		)
		return nil
	})
}

// WithdrawalValue previews what an account's queued withdrawal pays once
// its round is priced.
func (v *Vault) WithdrawalValue(account common.Address) (*uint256.Int, error) {
	w := v.withdrawals[account].clone()
	pps, ok := v.pps[w.Round]
	if w.Shares.IsZero() || !ok {
		return new(uint256.Int), nil
	}
	return SharesToAsset(w.Shares, pps, v.params.Decimals)
}
