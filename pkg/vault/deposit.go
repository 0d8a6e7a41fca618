package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DepositETH deposits native ETH for the current round.
func (v *Vault) DepositETH(caller common.Address, amount *uint256.Int) error {
	return v.exec("depositETH", func() error {
		if amount.IsZero() {
			return ErrZeroAmount
		}
		if err := v.deps.ETH.Transfer(caller, v.self, amount); err != nil {
			return err
		}
		// the vault balance already includes the deposit
		return v.depositFor(caller, amount, v.TotalBalance())
	})
}

// Deposit deposits the vault asset (WETH) for the current round.
func (v *Vault) Deposit(caller common.Address, amount *uint256.Int) error {
	return v.exec("deposit", func() error {
		if amount.IsZero() {
			return ErrZeroAmount
		}
		total := new(uint256.Int).Add(v.TotalBalance(), amount)
		if err := v.depositFor(caller, amount, total); err != nil {
			return err
		}
		return v.deps.WETH.Transfer(caller, v.self, amount)
	})
}

// DepositYieldToken deposits wstETH, credited at its stETH value.
func (v *Vault) DepositYieldToken(caller common.Address, wstAmount *uint256.Int) error {
	return v.exec("depositYieldToken", func() error {
		if wstAmount.IsZero() {
			return ErrZeroAmount
		}
		amount := v.deps.WstETH.StETHByWstETH(wstAmount)
		if amount.IsZero() {
			return ErrZeroAmount
		}
		total := new(uint256.Int).Add(v.TotalBalance(), amount)
		if err := v.depositFor(caller, amount, total); err != nil {
			return err
		}
		return v.deps.WstETH.Transfer(caller, v.self, wstAmount)
	})
}

// depositFor books a deposit of amount for creditor. totalWithDeposit is
// the vault balance including the deposit.
func (v *Vault) depositFor(creditor common.Address, amount, totalWithDeposit *uint256.Int) error {
	if v.params.Cap.Lt(totalWithDeposit) {
		return fmt.Errorf("%w: %s > %s", ErrExceedsCap, totalWithDeposit.Dec(), v.params.Cap.Dec())
	}
	if totalWithDeposit.Lt(v.params.MinimumSupply) {
		return ErrBelowMinimumSupply
	}

	round := v.state.Round
	receipt := v.receipts[creditor]
	unredeemed, err := SharesFromReceipt(receipt, round, v.pps[receipt.Round], v.params.Decimals)
	if err != nil {
		return err
	}
	depositAmount := amount.Clone()
	if receipt.Round == round && receipt.Amount != nil {
		depositAmount.Add(depositAmount, receipt.Amount)
	}
	pending := new(uint256.Int).Add(v.state.TotalPending, amount)
	if maxUint104.Lt(depositAmount) || maxUint104.Lt(pending) || maxUint128.Lt(unredeemed) {
		return ErrOverflow
	}

	v.setReceipt(creditor, DepositReceipt{Round: round, Amount: depositAmount, UnredeemedShares: unredeemed})
	v.state.TotalPending = pending
	v.emit(DepositEvent{Account: creditor, Amount: amount.Clone(), Round: round})
	return nil
}

// WithdrawInstantly returns part of a deposit made in the current round as
// ETH, swapping collateral with at least minOut received.
func (v *Vault) WithdrawInstantly(caller common.Address, amount, minOut *uint256.Int) error {
	return v.exec("withdrawInstantly", func() error {
		if amount.IsZero() {
			return ErrZeroAmount
		}
		receipt := v.receipts[caller]
		round := v.state.Round
		if receipt.Round != round {
			return ErrInstantWithdrawLate
		}
		if receipt.Amount == nil || receipt.Amount.Lt(amount) {
			return ErrExceedsDeposit
		}
		pending, err := sub(v.state.TotalPending, amount, "total pending")
		if err != nil {
			return err
		}

		receipt = receipt.clone()
		receipt.Amount.Sub(receipt.Amount, amount)
		v.setReceipt(caller, receipt)
		v.state.TotalPending = pending

		out, err := v.deps.Collateral.UnwrapYieldToken(amount, minOut)
		if err != nil {
			return err
		}
		if err := v.deps.ETH.Transfer(v.self, caller, out); err != nil {
			return err
		}
		v.emit(InstantWithdrawEvent{Account: caller, Amount: out, Round: round})
		return nil
	})
}

// Redeem moves shares owed from deposit receipts to the caller.
func (v *Vault) Redeem(caller common.Address, shares *uint256.Int) error {
	return v.exec("redeem", func() error {
		if shares.IsZero() {
			return ErrZeroAmount
		}
		return v.redeem(caller, shares, false)
	})
}

// MaxRedeem redeems every share owed to the caller.
func (v *Vault) MaxRedeem(caller common.Address) error {
	return v.exec("maxRedeem", func() error {
		return v.redeem(caller, nil, true)
	})
}

func (v *Vault) redeem(account common.Address, shares *uint256.Int, max bool) error {
	receipt := v.receipts[account]
	round := v.state.Round
	unredeemed, err := SharesFromReceipt(receipt, round, v.pps[receipt.Round], v.params.Decimals)
	if err != nil {
		return err
	}
	if max {
		shares = unredeemed
	}
	if shares.IsZero() {
		return nil
	}
	if unredeemed.Lt(shares) {
		return fmt.Errorf("%w: %s > %s", ErrExceedsAvailable, shares.Dec(), unredeemed.Dec())
	}

	next := receipt.clone()
	// a receipt from an earlier round has been converted into shares
	if receipt.Round < round {
		next.Amount = new(uint256.Int)
	}
	next.UnredeemedShares = new(uint256.Int).Sub(unredeemed, shares)
	v.setReceipt(account, next)
	v.emit(RedeemEvent{Account: account, Shares: shares.Clone(), Round: receipt.Round})

	return v.deps.Shares.Transfer(v.self, account, shares)
}
