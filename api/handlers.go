/*
handlers.go - HTTP API handlers for the trading back-office

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response and
  JSON serialization, and delegates everything else to domain logic.

ENDPOINTS:
  Trades:
    POST   /api/trades/purchase        Buy items from a funding source
    POST   /api/trades/sale            Sell items, credit the proceeds

  Accounts:
    GET    /api/accounts               List funding sources
    POST   /api/accounts               Create funding source
    GET    /api/accounts/{id}          Get one funding source
    POST   /api/accounts/{id}/archive  Archive (never delete)
    POST   /api/accounts/{id}/declare  Capital declaration

  Admin:
    POST   /api/admin/adjustments      Bulk balance overwrite

  Items:
    GET    /api/items                  List inventory items
    POST   /api/items                  Create item
    GET    /api/items/{id}             Get one item

  Records:
    GET    /api/records                Query the transaction log
    GET    /api/records/{id}           Get one record

  Rates:
    GET    /api/rates                  List conversion rates
    PUT    /api/rates                  Upsert one rate

ERROR HANDLING:
  Errors map to HTTP status via the ledger classifiers:
  - 400: malformed input
  - 404: unknown account/item/record
  - 409: idempotency replay, concurrent-modification conflict
  - 422: violated business rule (stock, balance, currency, rate)
  - 500: everything else

SECURITY NOTE:
  No authentication middleware here. The deployment fronts this with
  the admin gateway, which authenticates and resolves operator ids.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vendora/trade-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Processor *ledger.Processor
	Store     ledger.Store
	Rates     ledger.RateStore
	Records   *ledger.Log
}

// NewHandler wires a handler around a processor. The store and rate
// store back the CRUD endpoints; the record log backs the queries.
func NewHandler(proc *ledger.Processor, store ledger.Store, rates ledger.RateStore) *Handler {
	return &Handler{
		Processor: proc,
		Store:     store,
		Rates:     rates,
		Records:   ledger.NewLog(store),
	}
}

// =============================================================================
// TRADE HANDLERS
// =============================================================================

// Purchase runs the purchase workflow.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTrade(w, r)
	if !ok {
		return
	}

	rec, err := h.Processor.Purchase(r.Context(), in)
	if err != nil {
		writeLedgerError(w, "Purchase failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, recordDTO(*rec))
}

// Sale runs the sale workflow.
func (h *Handler) Sale(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTrade(w, r)
	if !ok {
		return
	}

	rec, err := h.Processor.Sale(r.Context(), in)
	if err != nil {
		writeLedgerError(w, "Sale failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, recordDTO(*rec))
}

func (h *Handler) decodeTrade(w http.ResponseWriter, r *http.Request) (ledger.TradeInput, bool) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return ledger.TradeInput{}, false
	}

	in := ledger.TradeInput{
		OperatorID:      req.OperatorID,
		ItemID:          ledger.ItemID(req.ItemID),
		Quantity:        req.Quantity,
		UnitPrice:       ledger.Money{Amount: req.UnitPrice.Amount, Currency: ledger.Currency(req.UnitPrice.Currency)},
		AccountID:       ledger.AccountID(req.AccountID),
		PaymentAmount:   req.PaymentAmount,
		PaymentCurrency: ledger.Currency(req.PaymentCurrency),
		Commission:      req.Commission,
		CounterpartyID:  req.CounterpartyID,
		Notes:           req.Notes,
		Tags:            req.Tags,
		IdempotencyKey:  req.IdempotencyKey,
	}
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid occurred_at, expected RFC3339", err)
			return ledger.TradeInput{}, false
		}
		in.OccurredAt = t
	}
	return in, true
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = accountDTO(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": dtos})
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.OwnerID == "" || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "id, owner_id and currency are required", nil)
		return
	}
	if req.InitialBalance.IsNegative() {
		writeError(w, http.StatusBadRequest, "initial_balance must not be negative", nil)
		return
	}

	acct := &ledger.Account{
		ID:       ledger.AccountID(req.ID),
		OwnerID:  req.OwnerID,
		Name:     req.Name,
		Currency: ledger.Currency(req.Currency),
		Balance:  req.InitialBalance,
		Status:   ledger.AccountActive,
	}
	if err := h.Store.CreateAccount(r.Context(), acct); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, accountDTO(*acct))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(*acct))
}

// ArchiveAccount retires an account. Accounts are never deleted.
func (h *Handler) ArchiveAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get account", err)
		return
	}

	acct.Status = ledger.AccountArchived
	if err := h.Store.SaveAccount(r.Context(), acct); err != nil {
		writeLedgerError(w, "Failed to archive account", err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(*acct))
}

// DeclareBalance records a capital declaration for one account.
func (h *Handler) DeclareBalance(w http.ResponseWriter, r *http.Request) {
	var req DeclareBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Processor.DeclareBalance(r.Context(), ledger.DeclarationInput{
		OperatorID:     req.OperatorID,
		AccountID:      ledger.AccountID(chi.URLParam(r, "id")),
		NewBalance:     req.NewBalance,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeLedgerError(w, "Declaration failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, recordDTO(*rec))
}

// BulkAdjust overwrites many balances in one record, all-or-nothing.
func (h *Handler) BulkAdjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := ledger.AdjustmentInput{
		OperatorID:     req.OperatorID,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, e := range req.Entries {
		in.Entries = append(in.Entries, ledger.AdjustmentEntry{
			AccountID:  ledger.AccountID(e.AccountID),
			NewBalance: e.NewBalance,
		})
	}

	rec, err := h.Processor.BulkAdjust(r.Context(), in)
	if err != nil {
		writeLedgerError(w, "Adjustment failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, recordDTO(*rec))
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}

	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = itemDTO(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": dtos})
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	item := &ledger.Item{
		ID:           ledger.ItemID(req.ID),
		CatalogID:    req.CatalogID,
		Name:         req.Name,
		ManagesStock: req.ManagesStock,
		Attributes:   req.Attributes,
	}
	if err := h.Store.CreateItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, itemDTO(*item))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := ledger.ItemID(chi.URLParam(r, "id"))
	item, err := h.Store.GetItem(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, itemDTO(*item))
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ListRecords queries the transaction log. Filters: account_id,
// item_id, type, from, to (RFC3339), limit.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.RecordFilter{
		AccountID: ledger.AccountID(q.Get("account_id")),
		ItemID:    ledger.ItemID(q.Get("item_id")),
		Type:      ledger.RecordType(q.Get("type")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from, expected RFC3339", err)
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to, expected RFC3339", err)
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		f.Limit = limit
	}

	records, err := h.Records.Records(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = recordDTO(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": dtos})
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := ledger.RecordID(chi.URLParam(r, "id"))
	rec, err := h.Records.Record(r.Context(), id)
	if err != nil {
		writeLedgerError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, recordDTO(*rec))
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Rates.ListRates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rates", err)
		return
	}

	dtos := make([]RateDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = rateDTO(rate)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": dtos})
}

// UpsertRate sets one directional rate. The periodic fetcher uses this
// same path; admins can correct a rate by hand through it.
func (h *Handler) UpsertRate(w http.ResponseWriter, r *http.Request) {
	var req UpsertRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.From == "" || req.To == "" || !req.Rate.IsPositive() {
		writeError(w, http.StatusBadRequest, "from, to and a positive rate are required", nil)
		return
	}

	rate := ledger.Rate{
		From: ledger.Currency(req.From),
		To:   ledger.Currency(req.To),
		Rate: req.Rate,
	}
	if err := h.Rates.UpsertRate(r.Context(), rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to upsert rate", err)
		return
	}
	writeJSON(w, http.StatusOK, rateDTO(rate))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps domain errors onto HTTP status codes.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateIdempotency):
		return http.StatusConflict
	case ledger.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case ledger.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
