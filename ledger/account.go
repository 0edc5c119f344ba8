/*
account.go - Balance mutation for funding-source accounts

PURPOSE:
  All account balance math lives here. Debit and Credit are the only two
  trade-time mutations; Declare is the direct overwrite used by capital
  declarations and admin adjustments. Each returns a BalanceChange with
  the balance immediately before and after, which the caller persists
  into the transaction record's audit snapshot.

INVARIANTS:
  - Balance is always expressed in the account's own currency.
  - A debit never takes the balance below zero.
  - Archived accounts reject every mutation.
  - The guards live on the model itself, so no caller can bypass them.
*/
package ledger

import "github.com/shopspring/decimal"

// Debit removes amount from the account. The amount must be positive,
// denominated in the account's currency, and covered by the balance.
func (a *Account) Debit(amount Money) (BalanceChange, error) {
	if err := a.checkMutation(amount); err != nil {
		return BalanceChange{}, err
	}
	if a.Balance.LessThan(amount.Amount) {
		return BalanceChange{}, &InsufficientBalanceError{
			AccountID: a.ID,
			Available: a.Balance,
			Requested: amount.Amount,
		}
	}

	change := BalanceChange{Before: a.Balance, After: a.Balance.Sub(amount.Amount)}
	a.Balance = change.After
	return change, nil
}

// Credit adds amount to the account. The amount must be positive and
// denominated in the account's currency.
func (a *Account) Credit(amount Money) (BalanceChange, error) {
	if err := a.checkMutation(amount); err != nil {
		return BalanceChange{}, err
	}

	change := BalanceChange{Before: a.Balance, After: a.Balance.Add(amount.Amount)}
	a.Balance = change.After
	return change, nil
}

// Declare overwrites the balance outright, returning the previous value
// for the audit trail. Used by capital declarations and admin
// adjustments; normal trade flow never calls this.
func (a *Account) Declare(newBalance decimal.Decimal) (BalanceChange, error) {
	if a.Status == AccountArchived {
		return BalanceChange{}, ErrAccountArchived
	}
	if newBalance.IsNegative() {
		return BalanceChange{}, &InputError{Field: "balance", Reason: "must not be negative"}
	}

	change := BalanceChange{Before: a.Balance, After: newBalance}
	a.Balance = newBalance
	return change, nil
}

func (a *Account) checkMutation(amount Money) error {
	if a.Status == AccountArchived {
		return ErrAccountArchived
	}
	if !amount.Amount.IsPositive() {
		return &InputError{Field: "amount", Reason: "must be positive"}
	}
	if amount.Currency != a.Currency {
		return &CurrencyError{AccountID: a.ID, Expected: a.Currency, Got: amount.Currency}
	}
	return nil
}
