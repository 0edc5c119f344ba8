// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendora/trade-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements ledger.TxStore and ledger.RateStore with maps.
// WithTx clones the state, runs the callback against the clone, and
// swaps it in only on success - all-or-nothing, like the SQL store.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type ratePair struct {
	From ledger.Currency
	To   ledger.Currency
}

type state struct {
	accounts    map[ledger.AccountID]*ledger.Account
	items       map[ledger.ItemID]*ledger.Item
	records     []ledger.Record
	recordIndex map[ledger.RecordID]int
	idempotency map[string]bool
	rates       map[ratePair]ledger.Rate
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		accounts:    make(map[ledger.AccountID]*ledger.Account),
		items:       make(map[ledger.ItemID]*ledger.Item),
		recordIndex: make(map[ledger.RecordID]int),
		idempotency: make(map[string]bool),
		rates:       make(map[ratePair]ledger.Rate),
	}
}

func (st *state) clone() *state {
	c := newState()
	for id, a := range st.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	for id, i := range st.items {
		c.items[id] = copyItem(i)
	}
	c.records = append([]ledger.Record(nil), st.records...)
	for id, idx := range st.recordIndex {
		c.recordIndex[id] = idx
	}
	for k := range st.idempotency {
		c.idempotency[k] = true
	}
	for p, r := range st.rates {
		c.rates[p] = r
	}
	return c
}

func copyItem(i *ledger.Item) *ledger.Item {
	cp := *i
	if i.AverageCost != nil {
		cost := *i.AverageCost
		cp.AverageCost = &cost
	}
	cp.Attributes = append([]ledger.Attribute(nil), i.Attributes...)
	return &cp
}

// WithTx runs fn against a clone of the state. On success the clone
// replaces the live state; on error nothing is visible to readers.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// view exposes a state as a ledger.Store without locking. Only used
// under the Memory mutex.
type view struct {
	st *state
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (v *view) CreateAccount(_ context.Context, a *ledger.Account) error {
	if a.Status == "" {
		a.Status = ledger.AccountActive
	}
	cp := *a
	v.st.accounts[a.ID] = &cp
	return nil
}

func (v *view) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (v *view) SaveAccount(_ context.Context, a *ledger.Account) error {
	current, ok := v.st.accounts[a.ID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if current.Version != a.Version {
		return ledger.ErrPersistenceConflict
	}
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	v.st.accounts[a.ID] = &cp
	return nil
}

func (v *view) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(v.st.accounts))
	for _, a := range v.st.accounts {
		out = append(out, *a)
	}
	return out, nil
}

// =============================================================================
// ITEMS
// =============================================================================

func (v *view) CreateItem(_ context.Context, i *ledger.Item) error {
	v.st.items[i.ID] = copyItem(i)
	return nil
}

func (v *view) GetItem(_ context.Context, id ledger.ItemID) (*ledger.Item, error) {
	i, ok := v.st.items[id]
	if !ok {
		return nil, ledger.ErrItemNotFound
	}
	return copyItem(i), nil
}

func (v *view) SaveItem(_ context.Context, i *ledger.Item) error {
	current, ok := v.st.items[i.ID]
	if !ok {
		return ledger.ErrItemNotFound
	}
	if current.Version != i.Version {
		return ledger.ErrPersistenceConflict
	}
	i.Version++
	i.UpdatedAt = time.Now().UTC()
	v.st.items[i.ID] = copyItem(i)
	return nil
}

func (v *view) ListItems(_ context.Context) ([]ledger.Item, error) {
	out := make([]ledger.Item, 0, len(v.st.items))
	for _, i := range v.st.items {
		out = append(out, *copyItem(i))
	}
	return out, nil
}

// =============================================================================
// RECORDS (append-only)
// =============================================================================

func (v *view) AppendRecord(_ context.Context, r ledger.Record) error {
	if r.IdempotencyKey != "" && v.st.idempotency[r.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotency
	}
	v.st.recordIndex[r.ID] = len(v.st.records)
	v.st.records = append(v.st.records, r)
	if r.IdempotencyKey != "" {
		v.st.idempotency[r.IdempotencyKey] = true
	}
	return nil
}

func (v *view) GetRecord(_ context.Context, id ledger.RecordID) (*ledger.Record, error) {
	idx, ok := v.st.recordIndex[id]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	r := v.st.records[idx]
	return &r, nil
}

func (v *view) ListRecords(_ context.Context, f ledger.RecordFilter) ([]ledger.Record, error) {
	var out []ledger.Record
	// Newest first: records are appended chronologically.
	for i := len(v.st.records) - 1; i >= 0; i-- {
		r := v.st.records[i]
		if !matches(r, f) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func matches(r ledger.Record, f ledger.RecordFilter) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && r.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.OccurredAt.After(f.To) {
		return false
	}
	if f.ItemID != "" && (r.Item == nil || r.Item.ItemID != f.ItemID) {
		return false
	}
	if f.AccountID != "" {
		if r.Payment != nil && r.Payment.AccountID == f.AccountID {
			return true
		}
		for _, d := range r.Declarations {
			if d.AccountID == f.AccountID {
				return true
			}
		}
		return false
	}
	return true
}

func (v *view) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	return v.st.idempotency[key], nil
}

// =============================================================================
// RATES
// =============================================================================

func (m *Memory) UpsertRate(_ context.Context, r ledger.Rate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.rates[ratePair{From: r.From, To: r.To}] = r
	return nil
}

func (m *Memory) ListRates(_ context.Context) ([]ledger.Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Rate, 0, len(m.st.rates))
	for _, r := range m.st.rates {
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) LookupRate(_ context.Context, from, to ledger.Currency) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.st.rates[ratePair{From: from, To: to}]
	if !ok {
		return decimal.Zero, false, nil
	}
	return r.Rate, true, nil
}

// =============================================================================
// DIRECT (non-transactional) ACCESS
// =============================================================================

func (m *Memory) CreateAccount(ctx context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{st: m.st}).CreateAccount(ctx, a)
}

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).GetAccount(ctx, id)
}

func (m *Memory) SaveAccount(ctx context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{st: m.st}).SaveAccount(ctx, a)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).ListAccounts(ctx)
}

func (m *Memory) CreateItem(ctx context.Context, i *ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{st: m.st}).CreateItem(ctx, i)
}

func (m *Memory) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).GetItem(ctx, id)
}

func (m *Memory) SaveItem(ctx context.Context, i *ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{st: m.st}).SaveItem(ctx, i)
}

func (m *Memory) ListItems(ctx context.Context) ([]ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).ListItems(ctx)
}

func (m *Memory) AppendRecord(ctx context.Context, r ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{st: m.st}).AppendRecord(ctx, r)
}

func (m *Memory) GetRecord(ctx context.Context, id ledger.RecordID) (*ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).GetRecord(ctx, id)
}

func (m *Memory) ListRecords(ctx context.Context, f ledger.RecordFilter) ([]ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).ListRecords(ctx, f)
}

func (m *Memory) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{st: m.st}).HasIdempotencyKey(ctx, key)
}
