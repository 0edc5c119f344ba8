/*
processor.go - Purchase/sale orchestration and the simpler ledger flows

PURPOSE:
  The Processor is the only component allowed to move value. It loads
  the entities a workflow touches, applies the balance and valuation
  math, and persists every mutation plus one immutable record inside a
  single storage transaction.

WORKFLOWS:
  Purchase:    debit account, increase stock, recompute average cost
  Sale:        credit account, decrease stock, compute gross profit
  Declaration: overwrite one account balance (audit keeps the previous)
  BulkAdjust:  overwrite many account balances in one record

FAILURE UNIT:
  Any failure between load and commit rolls back everything. A reader
  never observes a debited account without the matching inventory
  change, or a record without its mutations.

ORDERING:
  Two concurrent workflows touching the same account or item are
  serialized by the store's version checks (see store.go). A conflict
  surfaces as ErrPersistenceConflict; the caller retries the whole
  workflow from scratch, never resumes it.

IDEMPOTENCY:
  Inputs may carry an optional idempotency key. A duplicate key fails
  the workflow with ErrDuplicateIdempotency before any mutation, making
  retries at-most-once for callers that supply one.

SEE ALSO:
  - account.go, inventory.go: The math applied here
  - rates.go: Reference-currency conversion
  - store.go: The transaction boundary
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor orchestrates all value-moving workflows.
type Processor struct {
	Store TxStore
	Rates RateTable

	// Reference is the single currency in which inventory cost basis
	// and profit are always expressed.
	Reference Currency

	Log *logrus.Logger

	// Now and NewID are swappable for tests.
	Now   func() time.Time
	NewID func() RecordID
}

func NewProcessor(store TxStore, rates RateTable, reference Currency, log *logrus.Logger) *Processor {
	if log == nil {
		log = logrus.New()
	}
	return &Processor{
		Store:     store,
		Rates:     rates,
		Reference: reference,
		Log:       log,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     func() RecordID { return RecordID(uuid.NewString()) },
	}
}

// =============================================================================
// INPUTS
// =============================================================================

// TradeInput carries everything a purchase or sale needs. The routing
// layer has already authenticated the caller and resolved identities.
type TradeInput struct {
	OperatorID string
	OccurredAt time.Time

	ItemID    ItemID
	Quantity  decimal.Decimal
	UnitPrice Money

	AccountID       AccountID
	PaymentAmount   decimal.Decimal
	PaymentCurrency Currency

	// Commission, when set on a sale, is deducted from gross profit.
	// Denominated in the reference currency.
	Commission *decimal.Decimal

	CounterpartyID string
	Notes          string
	Tags           []string
	IdempotencyKey string
}

func (in TradeInput) validate() error {
	switch {
	case in.OperatorID == "":
		return &InputError{Field: "operator_id", Reason: "is required"}
	case in.ItemID == "":
		return &InputError{Field: "item_id", Reason: "is required"}
	case in.AccountID == "":
		return &InputError{Field: "account_id", Reason: "is required"}
	case !in.Quantity.IsPositive():
		return &InputError{Field: "quantity", Reason: "must be positive"}
	case !in.UnitPrice.Amount.IsPositive():
		return &InputError{Field: "unit_price", Reason: "must be positive"}
	case in.UnitPrice.Currency == "":
		return &InputError{Field: "unit_price", Reason: "currency is required"}
	case !in.PaymentAmount.IsPositive():
		return &InputError{Field: "payment_amount", Reason: "must be positive"}
	case in.PaymentCurrency == "":
		return &InputError{Field: "payment_currency", Reason: "is required"}
	case in.Commission != nil && in.Commission.IsNegative():
		return &InputError{Field: "commission", Reason: "must not be negative"}
	}
	return nil
}

// DeclarationInput overwrites one account balance ("capital declaration").
type DeclarationInput struct {
	OperatorID string
	OccurredAt time.Time

	AccountID  AccountID
	NewBalance decimal.Decimal

	Notes          string
	IdempotencyKey string
}

// AdjustmentEntry is one account overwrite inside a bulk adjustment.
type AdjustmentEntry struct {
	AccountID  AccountID
	NewBalance decimal.Decimal
}

// AdjustmentInput applies the same overwrite semantics to many accounts
// in one record. All-or-nothing: any missing account aborts the batch.
type AdjustmentInput struct {
	OperatorID string
	OccurredAt time.Time

	Entries []AdjustmentEntry

	Notes          string
	IdempotencyKey string
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase buys quantity of an item, paying from a funding source.
// On success the item carries the new quantity and recomputed average
// cost, the account is debited, and the returned record is persisted
// with status completed - all atomically.
func (p *Processor) Purchase(ctx context.Context, in TradeInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var rec *Record
	err := p.Store.WithTx(ctx, func(s Store) error {
		if err := p.checkIdempotency(ctx, s, in.IdempotencyKey); err != nil {
			return err
		}

		item, err := s.GetItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		if !item.ManagesStock {
			return ErrStockNotManaged
		}

		acct, err := s.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if acct.Status == AccountArchived {
			return ErrAccountArchived
		}
		if acct.Currency != in.PaymentCurrency {
			return &CurrencyError{AccountID: acct.ID, Expected: acct.Currency, Got: in.PaymentCurrency}
		}
		if acct.Balance.LessThan(in.PaymentAmount) {
			return &InsufficientBalanceError{AccountID: acct.ID, Available: acct.Balance, Requested: in.PaymentAmount}
		}

		unitRef, _, err := Convert(ctx, p.Rates, in.UnitPrice, p.Reference)
		if err != nil {
			return err
		}
		totalRef := unitRef.Mul(in.Quantity)

		payment := Money{Amount: in.PaymentAmount, Currency: in.PaymentCurrency}
		paymentRef, conv, err := Convert(ctx, p.Rates, payment, p.Reference)
		if err != nil {
			return err
		}
		p.warnOnAmountMismatch(in, totalRef, paymentRef)

		if err := item.ApplyPurchase(in.Quantity, unitRef); err != nil {
			return err
		}
		change, err := acct.Debit(payment)
		if err != nil {
			return err
		}

		rec = p.newRecord(RecordPurchase, in.OperatorID, in.OccurredAt, in.Notes, in.Tags, in.IdempotencyKey)
		rec.CounterpartyID = in.CounterpartyID
		rec.Item = &ItemDetail{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Total:     in.UnitPrice.Mul(in.Quantity),
		}
		rec.Payment = paymentDetail(acct.ID, in.PaymentAmount.Neg(), in.PaymentCurrency, conv, paymentRef, change)

		return p.persistTrade(ctx, s, item, acct, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// SALE
// =============================================================================

// Sale sells quantity of an item, crediting the proceeds to a funding
// source. The cost basis is read-only here; gross profit is the
// reference-currency sale value minus quantity * average cost.
func (p *Processor) Sale(ctx context.Context, in TradeInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var rec *Record
	err := p.Store.WithTx(ctx, func(s Store) error {
		if err := p.checkIdempotency(ctx, s, in.IdempotencyKey); err != nil {
			return err
		}

		item, err := s.GetItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		if !item.ManagesStock {
			return ErrStockNotManaged
		}

		acct, err := s.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if acct.Status == AccountArchived {
			return ErrAccountArchived
		}
		if acct.Currency != in.PaymentCurrency {
			return &CurrencyError{AccountID: acct.ID, Expected: acct.Currency, Got: in.PaymentCurrency}
		}
		if item.Quantity.LessThan(in.Quantity) {
			return &InsufficientStockError{ItemID: item.ID, Available: item.Quantity, Requested: in.Quantity}
		}

		unitRef, _, err := Convert(ctx, p.Rates, in.UnitPrice, p.Reference)
		if err != nil {
			return err
		}
		totalRef := unitRef.Mul(in.Quantity)

		payment := Money{Amount: in.PaymentAmount, Currency: in.PaymentCurrency}
		paymentRef, conv, err := Convert(ctx, p.Rates, payment, p.Reference)
		if err != nil {
			return err
		}
		p.warnOnAmountMismatch(in, totalRef, paymentRef)

		costOfGoods, err := item.ApplySale(in.Quantity, p.Reference)
		if err != nil {
			return err
		}
		change, err := acct.Credit(payment)
		if err != nil {
			return err
		}

		gross, err := totalRef.Sub(costOfGoods)
		if err != nil {
			return err
		}
		profit := &ProfitDetail{CostOfGoods: costOfGoods, GrossProfit: gross}
		if in.Commission != nil {
			commission := Money{Amount: *in.Commission, Currency: p.Reference}
			net, err := gross.Sub(commission)
			if err != nil {
				return err
			}
			profit.Commission = &commission
			profit.NetProfit = &net
		}

		rec = p.newRecord(RecordSale, in.OperatorID, in.OccurredAt, in.Notes, in.Tags, in.IdempotencyKey)
		rec.CounterpartyID = in.CounterpartyID
		rec.Item = &ItemDetail{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Total:     in.UnitPrice.Mul(in.Quantity),
		}
		rec.Payment = paymentDetail(acct.ID, in.PaymentAmount, in.PaymentCurrency, conv, paymentRef, change)
		rec.Profit = profit

		return p.persistTrade(ctx, s, item, acct, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// DECLARATION / ADJUSTMENT
// =============================================================================

// DeclareBalance overwrites one account balance, keeping the previous
// value in the record for audit. No inventory, no conversion.
func (p *Processor) DeclareBalance(ctx context.Context, in DeclarationInput) (*Record, error) {
	switch {
	case in.OperatorID == "":
		return nil, &InputError{Field: "operator_id", Reason: "is required"}
	case in.AccountID == "":
		return nil, &InputError{Field: "account_id", Reason: "is required"}
	case in.NewBalance.IsNegative():
		return nil, &InputError{Field: "new_balance", Reason: "must not be negative"}
	}

	var rec *Record
	err := p.Store.WithTx(ctx, func(s Store) error {
		if err := p.checkIdempotency(ctx, s, in.IdempotencyKey); err != nil {
			return err
		}

		acct, err := s.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		change, err := acct.Declare(in.NewBalance)
		if err != nil {
			return err
		}
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}

		rec = p.newRecord(RecordDeclaration, in.OperatorID, in.OccurredAt, in.Notes, nil, in.IdempotencyKey)
		rec.Declarations = []BalanceDeclaration{{
			AccountID:       acct.ID,
			PreviousBalance: change.Before,
			NewBalance:      change.After,
			Currency:        acct.Currency,
		}}
		return s.AppendRecord(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// BulkAdjust overwrites many account balances in one record. Any
// missing account aborts the entire batch.
func (p *Processor) BulkAdjust(ctx context.Context, in AdjustmentInput) (*Record, error) {
	switch {
	case in.OperatorID == "":
		return nil, &InputError{Field: "operator_id", Reason: "is required"}
	case len(in.Entries) == 0:
		return nil, &InputError{Field: "entries", Reason: "must not be empty"}
	}
	for _, e := range in.Entries {
		if e.AccountID == "" {
			return nil, &InputError{Field: "entries", Reason: "account_id is required"}
		}
		if e.NewBalance.IsNegative() {
			return nil, &InputError{Field: "entries", Reason: "new_balance must not be negative"}
		}
	}

	var rec *Record
	err := p.Store.WithTx(ctx, func(s Store) error {
		if err := p.checkIdempotency(ctx, s, in.IdempotencyKey); err != nil {
			return err
		}

		rec = p.newRecord(RecordAdjustment, in.OperatorID, in.OccurredAt, in.Notes, nil, in.IdempotencyKey)
		for _, e := range in.Entries {
			acct, err := s.GetAccount(ctx, e.AccountID)
			if err != nil {
				return err
			}
			change, err := acct.Declare(e.NewBalance)
			if err != nil {
				return err
			}
			if err := s.SaveAccount(ctx, acct); err != nil {
				return err
			}
			rec.Declarations = append(rec.Declarations, BalanceDeclaration{
				AccountID:       acct.ID,
				PreviousBalance: change.Before,
				NewBalance:      change.After,
				Currency:        acct.Currency,
			})
		}
		return s.AppendRecord(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// INTERNAL
// =============================================================================

func (p *Processor) checkIdempotency(ctx context.Context, s Store, key string) error {
	if key == "" {
		return nil
	}
	exists, err := s.HasIdempotencyKey(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotency
	}
	return nil
}

func (p *Processor) persistTrade(ctx context.Context, s Store, item *Item, acct *Account, rec *Record) error {
	if err := s.SaveItem(ctx, item); err != nil {
		return err
	}
	if err := s.SaveAccount(ctx, acct); err != nil {
		return err
	}
	return s.AppendRecord(ctx, *rec)
}

func (p *Processor) newRecord(typ RecordType, operator string, occurredAt time.Time, notes string, tags []string, idemKey string) *Record {
	now := p.Now()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return &Record{
		ID:             p.NewID(),
		Type:           typ,
		Status:         StatusCompleted,
		OccurredAt:     occurredAt,
		OperatorID:     operator,
		Notes:          notes,
		Tags:           tags,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
	}
}

// warnOnAmountMismatch preserves the warn-only handling of a declared
// payment amount that disagrees with quantity * unit price. The
// computed total stays authoritative for cost and profit math; the
// declared amount still settles against the account as given.
func (p *Processor) warnOnAmountMismatch(in TradeInput, totalRef, paymentRef Money) {
	if totalRef.Amount.Equal(paymentRef.Amount) {
		return
	}
	p.Log.WithFields(logrus.Fields{
		"item_id":          in.ItemID,
		"account_id":       in.AccountID,
		"declared_payment": paymentRef.Amount.String(),
		"computed_total":   totalRef.Amount.String(),
		"currency":         string(p.Reference),
	}).Warn("declared payment amount disagrees with quantity * unit price")
}

func paymentDetail(id AccountID, signedAmount decimal.Decimal, currency Currency, conv *Conversion, refValue Money, change BalanceChange) *PaymentDetail {
	d := &PaymentDetail{
		AccountID:      id,
		Amount:         signedAmount,
		Currency:       currency,
		ReferenceValue: refValue,
		BalanceBefore:  change.Before,
		BalanceAfter:   change.After,
	}
	if conv != nil {
		rate := conv.Rate
		d.Rate = &rate
	}
	return d
}
