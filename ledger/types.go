/*
Package ledger provides the core trading-ledger engine.

PURPOSE:
  This package contains the types and algorithms that keep cash balances,
  inventory valuation, and the transaction record log consistent. Every
  value-moving operation (item purchase, item sale, capital declaration,
  admin adjustment) flows through the Processor, which mutates accounts
  and items and appends an immutable record - all inside one atomic
  storage transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An amount with a currency (e.g., 50 USD, 120000 VES)
  - Account: A single-currency cash balance ("funding source")
  - Item: An inventory item with quantity and weighted-average cost
  - Record: An immutable ledger entry with point-in-time snapshots

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Immutability: Records are never modified after completion
  3. Type Safety: Strong typing for IDs and currencies
  4. Auditability: Every record carries before/after balance snapshots

SEE ALSO:
  - account.go: Balance mutation (debit/credit/declare)
  - inventory.go: Weighted-average cost math
  - processor.go: Purchase/sale orchestration
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Amount with currency
// =============================================================================

// Currency is an ISO-4217 style currency code ("USD", "VES", ...).
type Currency string

// Money pairs an amount with the currency it is denominated in.
// Arithmetic across currencies is rejected, never coerced.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Add returns m + other. Fails on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &CurrencyError{Expected: m.Currency, Got: other.Currency}
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Fails on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &CurrencyError{Expected: m.Currency, Got: other.Currency}
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Mul scales the amount, keeping the currency.
func (m Money) Mul(s decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(s), Currency: m.Currency}
}

func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsZero() bool     { return m.Amount.IsZero() }

func (m Money) String() string {
	return m.Amount.String() + " " + string(m.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type ItemID string
type RecordID string

// =============================================================================
// ACCOUNT - Single-currency cash balance ("funding source")
// =============================================================================

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountArchived AccountStatus = "archived"
)

// Account holds a cash-like balance in exactly one currency.
// The balance is only ever mutated through Debit, Credit, or Declare,
// each tied to exactly one ledger record.
type Account struct {
	ID       AccountID
	OwnerID  string
	Name     string
	Currency Currency
	Balance  decimal.Decimal
	Status   AccountStatus

	// Version is bumped by the store on every save. Concurrent savers
	// with a stale version get ErrPersistenceConflict.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BalanceChange records an account balance immediately before and after
// a single mutation. It feeds the record's payment snapshot.
type BalanceChange struct {
	Before decimal.Decimal
	After  decimal.Decimal
}

// =============================================================================
// ITEM - Inventory item with weighted-average cost
// =============================================================================

// Item tracks quantity on hand and a weighted-average unit cost.
// The average cost is always denominated in the system's reference
// currency and is recomputed only on purchase, never on sale.
type Item struct {
	ID        ItemID
	CatalogID string
	Name      string

	// ManagesStock gates quantity/cost tracking. Items that do not
	// manage stock reject purchase and sale application.
	ManagesStock bool

	Quantity decimal.Decimal

	// AverageCost is nil until the first purchase establishes a basis.
	AverageCost *Money

	Attributes []Attribute

	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attribute is a tagged key/value carried on an item. A tagged variant
// rather than map[string]any so marshaling stays deterministic and
// readers know what type to expect.
type Attribute struct {
	Key    string        `json:"key"`
	Kind   AttributeKind `json:"kind"`
	String string        `json:"string,omitempty"`
	Number string        `json:"number,omitempty"` // decimal string, parse on read
	Bool   bool          `json:"bool,omitempty"`
}

type AttributeKind string

const (
	AttrString AttributeKind = "string"
	AttrNumber AttributeKind = "number"
	AttrBool   AttributeKind = "bool"
)

// =============================================================================
// RECORD - Immutable ledger entry
// =============================================================================

type RecordType string

const (
	RecordPurchase    RecordType = "purchase"
	RecordSale        RecordType = "sale"
	RecordDeclaration RecordType = "declaration"
	RecordAdjustment  RecordType = "adjustment"
)

type RecordStatus string

const (
	StatusPending           RecordStatus = "pending"
	StatusCompleted         RecordStatus = "completed"
	StatusCancelled         RecordStatus = "cancelled"
	StatusFailed            RecordStatus = "failed"
	StatusRequiresAttention RecordStatus = "requires_attention"
)

// ItemDetail is a point-in-time snapshot of the item side of a trade.
// ItemName is captured at transaction time; later renames do not touch it.
type ItemDetail struct {
	ItemID    ItemID          `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice Money           `json:"unit_price"`
	Total     Money           `json:"total"`
}

// PaymentDetail is a point-in-time snapshot of the cash side of a trade.
// Amount is signed: negative for purchases (cash out), positive for sales.
type PaymentDetail struct {
	AccountID AccountID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  Currency        `json:"currency"`

	// Rate is the conversion rate applied to reach the reference
	// currency. Nil when the payment was already in reference currency.
	Rate *decimal.Decimal `json:"rate,omitempty"`

	// ReferenceValue is the absolute payment value in reference currency.
	ReferenceValue Money `json:"reference_value"`

	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}

// ProfitDetail is present on sale records. All values are in the
// reference currency.
type ProfitDetail struct {
	CostOfGoods Money  `json:"cost_of_goods"`
	GrossProfit Money  `json:"gross_profit"`
	Commission  *Money `json:"commission,omitempty"`
	NetProfit   *Money `json:"net_profit,omitempty"`
}

// BalanceDeclaration captures one account overwrite inside a
// declaration or adjustment record.
type BalanceDeclaration struct {
	AccountID       AccountID       `json:"account_id"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Currency        Currency        `json:"currency"`
}

// Record is one entry in the append-only transaction log.
//
// INVARIANT: once Status is completed, the Item/Payment/Profit snapshots
// are immutable. They are an audit trail, not a live view.
type Record struct {
	ID     RecordID
	Type   RecordType
	Status RecordStatus

	OccurredAt     time.Time
	OperatorID     string
	CounterpartyID string

	Item         *ItemDetail
	Payment      *PaymentDetail
	Profit       *ProfitDetail
	Declarations []BalanceDeclaration

	Notes string
	Tags  []string

	// IdempotencyKey, when set, makes the write at-most-once: a second
	// record with the same key is rejected before any mutation.
	IdempotencyKey string

	CreatedAt time.Time
}
