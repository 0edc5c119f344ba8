/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure in the taxonomy is expected, typed, and recoverable by
  the caller - none should crash the process. Programming errors (nil
  collaborators, broken stores) are returned as plain wrapped errors and
  fall outside this taxonomy.

ERROR CATEGORIES:
  1. Input errors - malformed requests, non-positive amounts
  2. Domain errors - business rule violations (stock, balance, currency)
  3. Store errors - conflicts and duplicates from the storage layer

USAGE:
  The API layer maps errors to HTTP status via the classifier helpers:

    if ledger.IsNotFound(err) { ... 404 ... }
    if ledger.IsClientError(err) { ... 422 ... }
    if ledger.IsRetryable(err) { ... 409, caller may retry ... }

SEE ALSO:
  - processor.go: Produces these errors
  - store.go: Store implementations return the conflict/duplicate errors
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed or missing required
	// fields and non-positive quantities/amounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrItemNotFound is returned when a referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRecordNotFound is returned when a referenced record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrStockNotManaged is returned when purchase/sale is attempted on
	// an item that does not track inventory.
	ErrStockNotManaged = errors.New("item does not manage stock")

	// ErrInsufficientStock is returned when a sale quantity exceeds
	// quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientBalance is returned when a purchase payment
	// exceeds the account balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCurrencyMismatch is returned when the account currency differs
	// from the payment currency. Cross-currency settlement on a
	// single-currency account is rejected, never approximated.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrConversionUnavailable is returned when no rate exists for a
	// required currency pair. The whole workflow aborts; a missing rate
	// must never silently default to zero or one.
	ErrConversionUnavailable = errors.New("conversion rate unavailable")

	// ErrMissingCostBasis is returned when a sale is attempted on an
	// item with no valid reference-currency average cost. This flags an
	// upstream data-integrity problem and is never silently coerced.
	ErrMissingCostBasis = errors.New("missing cost basis")

	// ErrAccountArchived is returned when a mutation targets an
	// archived account.
	ErrAccountArchived = errors.New("account is archived")

	// ErrPersistenceConflict is returned when the storage layer detects
	// a concurrent modification. The caller may retry the whole
	// workflow from scratch, never resume it.
	ErrPersistenceConflict = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotency is returned when a record with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InputError reports which field of a request was rejected and why.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ItemID    ItemID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: available %s, requested %s",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// CurrencyError reports a single-currency constraint violation.
type CurrencyError struct {
	AccountID AccountID
	Expected  Currency
	Got       Currency
}

func (e *CurrencyError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("currency mismatch on account %s: account holds %s, got %s",
			e.AccountID, e.Expected, e.Got)
	}
	return fmt.Sprintf("currency mismatch: expected %s, got %s", e.Expected, e.Got)
}

func (e *CurrencyError) Unwrap() error { return ErrCurrencyMismatch }

// ConversionError reports a missing rate for a currency pair.
type ConversionError struct {
	From Currency
	To   Currency
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("no conversion rate for %s -> %s", e.From, e.To)
}

func (e *ConversionError) Unwrap() error { return ErrConversionUnavailable }

// CostBasisError reports a missing or wrongly denominated average cost.
type CostBasisError struct {
	ItemID    ItemID
	Reference Currency
	Got       Currency // empty when no basis exists at all
}

func (e *CostBasisError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("item %s has no average cost basis", e.ItemID)
	}
	return fmt.Sprintf("item %s cost basis denominated in %s, reference currency is %s",
		e.ItemID, e.Got, e.Reference)
}

func (e *CostBasisError) Unwrap() error { return ErrMissingCostBasis }

// =============================================================================
// ERROR CLASSIFIERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceConflict)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// or a violated business rule, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrStockNotManaged) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrConversionUnavailable) ||
		errors.Is(err, ErrMissingCostBasis) ||
		errors.Is(err, ErrAccountArchived) ||
		errors.Is(err, ErrDuplicateIdempotency)
}
