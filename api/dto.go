/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Shape validation (required fields, positive amounts) lives in the
  processor; handlers only decode and translate. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendora/trade-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// MoneyDTO mirrors ledger.Money on the wire.
type MoneyDTO struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CreateAccountRequest creates a funding-source account.
type CreateAccountRequest struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// CreateItemRequest creates an inventory item.
type CreateItemRequest struct {
	ID           string             `json:"id"`
	CatalogID    string             `json:"catalog_id"`
	Name         string             `json:"name"`
	ManagesStock bool               `json:"manages_stock"`
	Attributes   []ledger.Attribute `json:"attributes,omitempty"`
}

// TradeRequest is the body for both purchase and sale.
type TradeRequest struct {
	OperatorID      string           `json:"operator_id"`
	OccurredAt      string           `json:"occurred_at,omitempty"` // RFC3339, defaults to now
	ItemID          string           `json:"item_id"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       MoneyDTO         `json:"unit_price"`
	AccountID       string           `json:"account_id"`
	PaymentAmount   decimal.Decimal  `json:"payment_amount"`
	PaymentCurrency string           `json:"payment_currency"`
	Commission      *decimal.Decimal `json:"commission,omitempty"`
	CounterpartyID  string           `json:"counterparty_id,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	IdempotencyKey  string           `json:"idempotency_key,omitempty"`
}

// DeclareBalanceRequest overwrites one account balance.
type DeclareBalanceRequest struct {
	OperatorID     string          `json:"operator_id"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	Notes          string          `json:"notes,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// AdjustmentRequest overwrites many account balances in one record.
type AdjustmentRequest struct {
	OperatorID string `json:"operator_id"`
	Entries    []struct {
		AccountID  string          `json:"account_id"`
		NewBalance decimal.Decimal `json:"new_balance"`
	} `json:"entries"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// UpsertRateRequest sets one directional conversion rate.
type UpsertRateRequest struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type AccountDTO struct {
	ID       string          `json:"id"`
	OwnerID  string          `json:"owner_id"`
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Status   string          `json:"status"`
}

func accountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:       string(a.ID),
		OwnerID:  a.OwnerID,
		Name:     a.Name,
		Currency: string(a.Currency),
		Balance:  a.Balance,
		Status:   string(a.Status),
	}
}

type ItemDTO struct {
	ID           string             `json:"id"`
	CatalogID    string             `json:"catalog_id"`
	Name         string             `json:"name"`
	ManagesStock bool               `json:"manages_stock"`
	Quantity     decimal.Decimal    `json:"quantity"`
	AverageCost  *ledger.Money      `json:"average_cost,omitempty"`
	Attributes   []ledger.Attribute `json:"attributes,omitempty"`
}

func itemDTO(i ledger.Item) ItemDTO {
	return ItemDTO{
		ID:           string(i.ID),
		CatalogID:    i.CatalogID,
		Name:         i.Name,
		ManagesStock: i.ManagesStock,
		Quantity:     i.Quantity,
		AverageCost:  i.AverageCost,
		Attributes:   i.Attributes,
	}
}

type RecordDTO struct {
	ID             string                      `json:"id"`
	Type           string                      `json:"type"`
	Status         string                      `json:"status"`
	OccurredAt     string                      `json:"occurred_at"`
	OperatorID     string                      `json:"operator_id"`
	CounterpartyID string                      `json:"counterparty_id,omitempty"`
	Item           *ledger.ItemDetail          `json:"item,omitempty"`
	Payment        *ledger.PaymentDetail       `json:"payment,omitempty"`
	Profit         *ledger.ProfitDetail        `json:"profit,omitempty"`
	Declarations   []ledger.BalanceDeclaration `json:"declarations,omitempty"`
	Notes          string                      `json:"notes,omitempty"`
	Tags           []string                    `json:"tags,omitempty"`
	CreatedAt      string                      `json:"created_at"`
}

func recordDTO(r ledger.Record) RecordDTO {
	return RecordDTO{
		ID:             string(r.ID),
		Type:           string(r.Type),
		Status:         string(r.Status),
		OccurredAt:     r.OccurredAt.UTC().Format(time.RFC3339),
		OperatorID:     r.OperatorID,
		CounterpartyID: r.CounterpartyID,
		Item:           r.Item,
		Payment:        r.Payment,
		Profit:         r.Profit,
		Declarations:   r.Declarations,
		Notes:          r.Notes,
		Tags:           r.Tags,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type RateDTO struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt string          `json:"updated_at"`
}

func rateDTO(r ledger.Rate) RateDTO {
	return RateDTO{
		From:      string(r.From),
		To:        string(r.To),
		Rate:      r.Rate,
		UpdatedAt: r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
