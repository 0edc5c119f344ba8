/*
store.go - Persistence interfaces for accounts, items, and records

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

RECORD CONTRACT:
  The record log is APPEND-ONLY:
  - AppendRecord(): the only write operation
  - NO update or delete methods exist
  Corrections happen through new records, never edits.

CONCURRENCY CONTRACT:
  SaveAccount/SaveItem are compare-and-swap on the entity's Version.
  A stale version fails with ErrPersistenceConflict and aborts the
  surrounding transaction. Two workflows touching the same account or
  item are thereby serialized per entity by the storage layer itself,
  not by application mutexes - this survives a shared/replicated store.

ATOMICITY:
  TxStore.WithTx runs fn inside one storage transaction. Item mutation,
  account mutation, and record creation commit as one all-or-nothing
  unit; a reader never observes a debited account without the matching
  inventory change.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (same patterns apply to PostgreSQL)
  - ledger/store: in-memory, for tests and dev

SEE ALSO:
  - processor.go: The only caller of WithTx
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTITY STORES
// =============================================================================

// AccountStore persists funding-source accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount returns ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// SaveAccount persists a mutated account. Fails with
	// ErrPersistenceConflict if a.Version is stale; on success the
	// stored and in-memory versions are bumped.
	SaveAccount(ctx context.Context, a *Account) error

	ListAccounts(ctx context.Context) ([]Account, error)
}

// ItemStore persists inventory items.
type ItemStore interface {
	CreateItem(ctx context.Context, i *Item) error

	// GetItem returns ErrItemNotFound for unknown ids.
	GetItem(ctx context.Context, id ItemID) (*Item, error)

	// SaveItem is compare-and-swap on Version, like SaveAccount.
	SaveItem(ctx context.Context, i *Item) error

	ListItems(ctx context.Context) ([]Item, error)
}

// RecordFilter narrows record queries. Zero-value fields are ignored.
type RecordFilter struct {
	AccountID AccountID
	ItemID    ItemID
	Type      RecordType
	From      time.Time
	To        time.Time
	Limit     int
}

// RecordStore is the append-only transaction record log.
type RecordStore interface {
	// AppendRecord adds a record. Fails with ErrDuplicateIdempotency
	// if the record carries an idempotency key that already exists.
	// This is the ONLY write operation.
	AppendRecord(ctx context.Context, r Record) error

	// GetRecord returns ErrRecordNotFound for unknown ids.
	GetRecord(ctx context.Context, id RecordID) (*Record, error)

	// ListRecords returns records matching the filter, newest first.
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)

	// HasIdempotencyKey checks whether a key was already used.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// RateStore persists the conversion rate table. The periodic fetcher
// writing it is out of scope; the engine and the admin API read and
// upsert through this interface.
type RateStore interface {
	RateTable

	UpsertRate(ctx context.Context, r Rate) error
	ListRates(ctx context.Context) ([]Rate, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store bundles everything a workflow touches.
type Store interface {
	AccountStore
	ItemStore
	RecordStore
}

// TxStore adds the atomic transaction boundary.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error,
	// everything rolls back; otherwise everything commits. The Store
	// passed to fn must only be used inside fn.
	WithTx(ctx context.Context, fn func(Store) error) error
}
