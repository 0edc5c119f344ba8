package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendora/trade-ledger/ledger"
	memstore "github.com/vendora/trade-ledger/ledger/store"
)

// =============================================================================
// FIXTURE
// =============================================================================

func newTestProcessor(t *testing.T) (*ledger.Processor, *memstore.Memory) {
	t.Helper()

	mem := memstore.NewMemory()

	log := logrus.New()
	log.SetOutput(io.Discard)

	proc := ledger.NewProcessor(mem, mem, "USD", log)
	proc.Now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	var seq int
	proc.NewID = func() ledger.RecordID {
		seq++
		return ledger.RecordID(fmt.Sprintf("rec-%d", seq))
	}
	return proc, mem
}

func seedAccount(t *testing.T, mem *memstore.Memory, id ledger.AccountID, currency ledger.Currency, balance string) {
	t.Helper()
	err := mem.CreateAccount(context.Background(), &ledger.Account{
		ID:       id,
		OwnerID:  "owner-1",
		Name:     string(id),
		Currency: currency,
		Balance:  dec(balance),
		Status:   ledger.AccountActive,
	})
	require.NoError(t, err)
}

func seedItem(t *testing.T, mem *memstore.Memory, id ledger.ItemID, qty string, avgCost *ledger.Money) {
	t.Helper()
	err := mem.CreateItem(context.Background(), &ledger.Item{
		ID:           id,
		CatalogID:    "game-1",
		Name:         "Dragon Sword",
		ManagesStock: true,
		Quantity:     dec(qty),
		AverageCost:  avgCost,
	})
	require.NoError(t, err)
}

func purchaseInput() ledger.TradeInput {
	return ledger.TradeInput{
		OperatorID:      "op-1",
		ItemID:          "item-1",
		Quantity:        dec("10"),
		UnitPrice:       usd("5"),
		AccountID:       "acct-1",
		PaymentAmount:   dec("50"),
		PaymentCurrency: "USD",
	}
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchase_HappyPath(t *testing.T) {
	// GIVEN: A USD account holding 100 and an empty stocked item
	// WHEN: Buying 10 units at 5 USD each, paying 50 from the account
	// THEN: Balance 50, stock 10 at average cost 5, one completed record

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "100")
	seedItem(t, mem, "item-1", "0", nil)

	rec, err := proc.Purchase(ctx, purchaseInput())
	require.NoError(t, err)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("50")), "balance should be 50, got %s", acct.Balance)

	item, err := mem.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, item.Quantity.Equal(dec("10")))
	require.NotNil(t, item.AverageCost)
	assert.True(t, item.AverageCost.Amount.Equal(dec("5")))
	assert.Equal(t, ledger.Currency("USD"), item.AverageCost.Currency)

	assert.Equal(t, ledger.RecordPurchase, rec.Type)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Payment)
	assert.True(t, rec.Payment.Amount.Equal(dec("-50")), "purchase payment is an outflow")
	assert.True(t, rec.Payment.BalanceBefore.Equal(dec("100")))
	assert.True(t, rec.Payment.BalanceAfter.Equal(dec("50")))
	assert.Nil(t, rec.Payment.Rate, "same-currency payment carries no rate")
	require.NotNil(t, rec.Item)
	assert.True(t, rec.Item.Total.Amount.Equal(dec("50")))

	// The record is durable and retrievable.
	stored, err := mem.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestPurchase_ForeignCurrencyPayment_ConvertsToReference(t *testing.T) {
	// GIVEN: A VES account, a quoted VES/USD rate of 0.1
	// WHEN: Buying 10 units at 100 VES each, paying 1000 VES
	// THEN: Cost basis lands in USD (10 each), the record keeps the rate

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "VES", "10000")
	seedItem(t, mem, "item-1", "0", nil)
	require.NoError(t, mem.UpsertRate(ctx, ledger.Rate{From: "VES", To: "USD", Rate: dec("0.1")}))

	in := purchaseInput()
	in.UnitPrice = ledger.Money{Amount: dec("100"), Currency: "VES"}
	in.PaymentAmount = dec("1000")
	in.PaymentCurrency = "VES"

	rec, err := proc.Purchase(ctx, in)
	require.NoError(t, err)

	item, err := mem.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, item.AverageCost)
	assert.True(t, item.AverageCost.Amount.Equal(dec("10")))
	assert.Equal(t, ledger.Currency("USD"), item.AverageCost.Currency)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("9000")))

	require.NotNil(t, rec.Payment)
	require.NotNil(t, rec.Payment.Rate)
	assert.True(t, rec.Payment.Rate.Equal(dec("0.1")))
	assert.True(t, rec.Payment.ReferenceValue.Amount.Equal(dec("100")))
	assert.Equal(t, ledger.Currency("USD"), rec.Payment.ReferenceValue.Currency)
}

func TestPurchase_InsufficientBalance_NothingPersisted(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "30")
	seedItem(t, mem, "item-1", "0", nil)

	_, err := proc.Purchase(ctx, purchaseInput())

	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)

	assertUntouched(t, mem, "30", "0")
}

func TestPurchase_CurrencyMismatch_Rejected(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "100")
	seedItem(t, mem, "item-1", "0", nil)

	in := purchaseInput()
	in.PaymentCurrency = "VES"

	_, err := proc.Purchase(ctx, in)

	var curErr *ledger.CurrencyError
	require.ErrorAs(t, err, &curErr)
	assertUntouched(t, mem, "100", "0")
}

func TestPurchase_ConversionUnavailable_NothingPersisted(t *testing.T) {
	// GIVEN: No EUR/USD rate in the table
	// WHEN: Buying with a EUR unit price
	// THEN: The workflow aborts before any mutation

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "100")
	seedItem(t, mem, "item-1", "0", nil)

	in := purchaseInput()
	in.UnitPrice = ledger.Money{Amount: dec("5"), Currency: "EUR"}

	_, err := proc.Purchase(ctx, in)
	require.ErrorIs(t, err, ledger.ErrConversionUnavailable)
	assertUntouched(t, mem, "100", "0")
}

func TestPurchase_UnknownItem(t *testing.T) {
	proc, mem := newTestProcessor(t)
	seedAccount(t, mem, "acct-1", "USD", "100")

	_, err := proc.Purchase(context.Background(), purchaseInput())
	require.ErrorIs(t, err, ledger.ErrItemNotFound)
}

func TestPurchase_ValidationRejectsBadInput(t *testing.T) {
	proc, _ := newTestProcessor(t)

	cases := map[string]func(*ledger.TradeInput){
		"missing operator":  func(in *ledger.TradeInput) { in.OperatorID = "" },
		"missing item":      func(in *ledger.TradeInput) { in.ItemID = "" },
		"missing account":   func(in *ledger.TradeInput) { in.AccountID = "" },
		"zero quantity":     func(in *ledger.TradeInput) { in.Quantity = dec("0") },
		"negative price":    func(in *ledger.TradeInput) { in.UnitPrice = usd("-1") },
		"zero payment":      func(in *ledger.TradeInput) { in.PaymentAmount = dec("0") },
		"missing pay curr":  func(in *ledger.TradeInput) { in.PaymentCurrency = "" },
		"missing unit curr": func(in *ledger.TradeInput) { in.UnitPrice.Currency = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := purchaseInput()
			mutate(&in)
			_, err := proc.Purchase(context.Background(), in)
			require.ErrorIs(t, err, ledger.ErrInvalidInput)
		})
	}
}

// =============================================================================
// SALE
// =============================================================================

func TestSale_ComputesProfitAgainstFrozenBasis(t *testing.T) {
	// GIVEN: 15 units at average cost 3 USD, account holding 50
	// WHEN: Selling 4 units at 5 USD each for 20 USD
	// THEN: Cost of goods 12, gross profit 8, balance 70, basis untouched

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "50")
	cost := usd("3")
	seedItem(t, mem, "item-1", "15", &cost)

	in := purchaseInput()
	in.Quantity = dec("4")
	in.PaymentAmount = dec("20")

	rec, err := proc.Sale(ctx, in)
	require.NoError(t, err)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("70")))

	item, err := mem.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, item.Quantity.Equal(dec("11")))
	assert.True(t, item.AverageCost.Amount.Equal(dec("3")), "sale must not move the cost basis")

	assert.Equal(t, ledger.RecordSale, rec.Type)
	require.NotNil(t, rec.Payment)
	assert.True(t, rec.Payment.Amount.Equal(dec("20")), "sale payment is an inflow")
	require.NotNil(t, rec.Profit)
	assert.True(t, rec.Profit.CostOfGoods.Amount.Equal(dec("12")))
	assert.True(t, rec.Profit.GrossProfit.Amount.Equal(dec("8")))
	assert.Nil(t, rec.Profit.Commission)
	assert.Nil(t, rec.Profit.NetProfit)
}

func TestSale_CommissionReducesNetProfit(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "50")
	cost := usd("3")
	seedItem(t, mem, "item-1", "15", &cost)

	commission := dec("2")
	in := purchaseInput()
	in.Quantity = dec("4")
	in.PaymentAmount = dec("20")
	in.Commission = &commission

	rec, err := proc.Sale(ctx, in)
	require.NoError(t, err)

	require.NotNil(t, rec.Profit)
	assert.True(t, rec.Profit.GrossProfit.Amount.Equal(dec("8")))
	require.NotNil(t, rec.Profit.Commission)
	assert.True(t, rec.Profit.Commission.Amount.Equal(dec("2")))
	require.NotNil(t, rec.Profit.NetProfit)
	assert.True(t, rec.Profit.NetProfit.Amount.Equal(dec("6")))
}

func TestSale_InsufficientStock_NothingPersisted(t *testing.T) {
	// GIVEN: 10 units on hand
	// WHEN: Selling 12
	// THEN: Rejected; balance, stock, and the record log are untouched

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "50")
	cost := usd("3")
	seedItem(t, mem, "item-1", "10", &cost)

	in := purchaseInput()
	in.Quantity = dec("12")
	in.PaymentAmount = dec("60")

	_, err := proc.Sale(ctx, in)

	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assertUntouched(t, mem, "50", "10")
}

func TestSale_MissingCostBasis_Rejected(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "50")
	seedItem(t, mem, "item-1", "10", nil)

	in := purchaseInput()
	in.Quantity = dec("4")
	in.PaymentAmount = dec("20")

	_, err := proc.Sale(ctx, in)
	require.ErrorIs(t, err, ledger.ErrMissingCostBasis)
	assertUntouched(t, mem, "50", "10")
}

// =============================================================================
// ATOMICITY / IDEMPOTENCY
// =============================================================================

// appendFailStore fails every record append, simulating a storage fault
// at the last step of a workflow.
type appendFailStore struct {
	ledger.Store
}

func (s *appendFailStore) AppendRecord(context.Context, ledger.Record) error {
	return errors.New("append failed")
}

type appendFailTx struct {
	*memstore.Memory
}

func (t *appendFailTx) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return t.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&appendFailStore{Store: s})
	})
}

func TestPurchase_AppendFailure_RollsBackEverything(t *testing.T) {
	// GIVEN: A store that fails at the final record append
	// WHEN: A purchase runs through item and account mutation first
	// THEN: Neither mutation survives

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "100")
	seedItem(t, mem, "item-1", "0", nil)

	proc.Store = &appendFailTx{Memory: mem}

	_, err := proc.Purchase(ctx, purchaseInput())
	require.Error(t, err)
	assertUntouched(t, mem, "100", "0")
}

func TestPurchase_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "200")
	seedItem(t, mem, "item-1", "0", nil)

	in := purchaseInput()
	in.IdempotencyKey = "retry-1"

	_, err := proc.Purchase(ctx, in)
	require.NoError(t, err)

	_, err = proc.Purchase(ctx, in)
	require.ErrorIs(t, err, ledger.ErrDuplicateIdempotency)

	// The first application is the only one.
	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("150")))
}

// =============================================================================
// DECLARATION / ADJUSTMENT
// =============================================================================

func TestDeclareBalance_OverwritesAndRecords(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "87.50")

	rec, err := proc.DeclareBalance(ctx, ledger.DeclarationInput{
		OperatorID: "op-1",
		AccountID:  "acct-1",
		NewBalance: dec("92"),
	})
	require.NoError(t, err)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("92")))

	assert.Equal(t, ledger.RecordDeclaration, rec.Type)
	require.Len(t, rec.Declarations, 1)
	assert.True(t, rec.Declarations[0].PreviousBalance.Equal(dec("87.50")))
	assert.True(t, rec.Declarations[0].NewBalance.Equal(dec("92")))
	assert.Equal(t, ledger.Currency("USD"), rec.Declarations[0].Currency)
}

func TestBulkAdjust_AppliesAllEntries(t *testing.T) {
	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "100")
	seedAccount(t, mem, "acct-2", "VES", "5000")

	rec, err := proc.BulkAdjust(ctx, ledger.AdjustmentInput{
		OperatorID: "op-1",
		Entries: []ledger.AdjustmentEntry{
			{AccountID: "acct-1", NewBalance: dec("120")},
			{AccountID: "acct-2", NewBalance: dec("4800")},
		},
	})
	require.NoError(t, err)

	a1, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, a1.Balance.Equal(dec("120")))
	a2, err := mem.GetAccount(ctx, "acct-2")
	require.NoError(t, err)
	assert.True(t, a2.Balance.Equal(dec("4800")))

	assert.Equal(t, ledger.RecordAdjustment, rec.Type)
	require.Len(t, rec.Declarations, 2)
}

func TestBulkAdjust_MissingAccount_AbortsBatch(t *testing.T) {
	// GIVEN: A batch whose second entry names an unknown account
	// WHEN: Applying the batch
	// THEN: The first entry does not stick either, and no record exists

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "100")

	_, err := proc.BulkAdjust(ctx, ledger.AdjustmentInput{
		OperatorID: "op-1",
		Entries: []ledger.AdjustmentEntry{
			{AccountID: "acct-1", NewBalance: dec("120")},
			{AccountID: "acct-missing", NewBalance: dec("10")},
		},
	})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("100")))

	recs, err := mem.ListRecords(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// RECORD LOG
// =============================================================================

func TestRecordLog_FiltersAndOrdering(t *testing.T) {
	// GIVEN: A purchase followed by a sale and a declaration
	// WHEN: Listing with and without filters
	// THEN: Newest first, and filters narrow by type and account

	proc, mem := newTestProcessor(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1", "USD", "200")
	seedAccount(t, mem, "acct-2", "USD", "10")
	seedItem(t, mem, "item-1", "0", nil)

	_, err := proc.Purchase(ctx, purchaseInput())
	require.NoError(t, err)

	saleIn := purchaseInput()
	saleIn.Quantity = dec("4")
	saleIn.PaymentAmount = dec("20")
	_, err = proc.Sale(ctx, saleIn)
	require.NoError(t, err)

	_, err = proc.DeclareBalance(ctx, ledger.DeclarationInput{
		OperatorID: "op-1", AccountID: "acct-2", NewBalance: dec("15"),
	})
	require.NoError(t, err)

	log := ledger.NewLog(mem)

	all, err := log.Records(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.RecordDeclaration, all[0].Type, "newest first")
	assert.Equal(t, ledger.RecordSale, all[1].Type)
	assert.Equal(t, ledger.RecordPurchase, all[2].Type)

	sales, err := log.Records(ctx, ledger.RecordFilter{Type: ledger.RecordSale})
	require.NoError(t, err)
	require.Len(t, sales, 1)

	byAccount, err := log.ByAccount(ctx, "acct-2", 0)
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, ledger.RecordDeclaration, byAccount[0].Type)

	byItem, err := log.ByItem(ctx, "item-1", 1)
	require.NoError(t, err)
	require.Len(t, byItem, 1, "limit caps the result")
	assert.Equal(t, ledger.RecordSale, byItem[0].Type)
}

// =============================================================================
// HELPERS
// =============================================================================

// assertUntouched verifies a failed workflow left no trace: account
// balance and item quantity as seeded, record log empty.
func assertUntouched(t *testing.T, mem *memstore.Memory, balance, qty string) {
	t.Helper()
	ctx := context.Background()

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(balance)), "balance should be %s, got %s", balance, acct.Balance)

	item, err := mem.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, item.Quantity.Equal(dec(qty)), "quantity should be %s, got %s", qty, item.Quantity)

	recs, err := mem.ListRecords(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs, "no record should have been appended")
}
