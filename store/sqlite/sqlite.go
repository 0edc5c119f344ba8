/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.RateStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the records table.
  Corrections happen through new records.

CONCURRENCY:
  Account and item updates are compare-and-swap on a version column:

    UPDATE accounts SET ..., version = version + 1
    WHERE id = ? AND version = ?

  Zero rows affected means another workflow got there first; the save
  fails with ledger.ErrPersistenceConflict and the surrounding
  transaction rolls back. Per-entity read-modify-write is thereby
  serialized by the database, which holds up under a shared or
  replicated deployment where application mutexes would not.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers
  don't block, single writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/trades.db")
  ...
  defer st.Close()
  proc := ledger.NewProcessor(st, st, "USD", logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vendora/trade-ledger/ledger"
)

// Store implements ledger.TxStore and ledger.RateStore using SQLite.
type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A workflow transaction spans multiple statements; a second writer
	// on another connection would hit SQLITE_BUSY mid-transaction.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Funding-source accounts. Balance is mutated only through
	-- version-checked updates tied to exactly one record.
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);

	-- Inventory items with weighted-average cost basis.
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL,
		name TEXT NOT NULL,
		manages_stock INTEGER NOT NULL DEFAULT 1,
		quantity TEXT NOT NULL,
		avg_cost_value TEXT,
		avg_cost_currency TEXT,
		attributes_json TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_catalog ON items(catalog_id);

	-- Records (append-only transaction log). Snapshots are stored as
	-- JSON: they are point-in-time audit data, never edited.
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		record_type TEXT NOT NULL,
		status TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		counterparty_id TEXT,
		account_id TEXT,
		item_id TEXT,
		item_json TEXT,
		payment_json TEXT,
		profit_json TEXT,
		declarations_json TEXT,
		notes TEXT,
		tags_json TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_occurred_at ON records(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_records_account
		ON records(account_id) WHERE account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_item
		ON records(item_id) WHERE item_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_type ON records(record_type);
	CREATE INDEX IF NOT EXISTS idx_records_idempotency
		ON records(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Directional conversion rates, refreshed out-of-band.
	CREATE TABLE IF NOT EXISTS rates (
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		rate TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (from_currency, to_currency)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs the same statements against an open transaction.
type txStore struct {
	q queryer
}

func (t *txStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	return createAccount(ctx, t.q, a)
}
func (t *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, t.q, id)
}
func (t *txStore) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return saveAccount(ctx, t.q, a)
}
func (t *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, t.q)
}
func (t *txStore) CreateItem(ctx context.Context, i *ledger.Item) error {
	return createItem(ctx, t.q, i)
}
func (t *txStore) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return getItem(ctx, t.q, id)
}
func (t *txStore) SaveItem(ctx context.Context, i *ledger.Item) error {
	return saveItem(ctx, t.q, i)
}
func (t *txStore) ListItems(ctx context.Context) ([]ledger.Item, error) {
	return listItems(ctx, t.q)
}
func (t *txStore) AppendRecord(ctx context.Context, r ledger.Record) error {
	return appendRecord(ctx, t.q, r)
}
func (t *txStore) GetRecord(ctx context.Context, id ledger.RecordID) (*ledger.Record, error) {
	return getRecord(ctx, t.q, id)
}
func (t *txStore) ListRecords(ctx context.Context, f ledger.RecordFilter) ([]ledger.Record, error) {
	return listRecords(ctx, t.q, f)
}
func (t *txStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, t.q, key)
}

// Store methods outside a transaction delegate to the same helpers.

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	return createAccount(ctx, s.db, a)
}
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, s.db, id)
}
func (s *Store) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return saveAccount(ctx, s.db, a)
}
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, s.db)
}
func (s *Store) CreateItem(ctx context.Context, i *ledger.Item) error {
	return createItem(ctx, s.db, i)
}
func (s *Store) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return getItem(ctx, s.db, id)
}
func (s *Store) SaveItem(ctx context.Context, i *ledger.Item) error {
	return saveItem(ctx, s.db, i)
}
func (s *Store) ListItems(ctx context.Context) ([]ledger.Item, error) {
	return listItems(ctx, s.db)
}
func (s *Store) AppendRecord(ctx context.Context, r ledger.Record) error {
	return appendRecord(ctx, s.db, r)
}
func (s *Store) GetRecord(ctx context.Context, id ledger.RecordID) (*ledger.Record, error) {
	return getRecord(ctx, s.db, id)
}
func (s *Store) ListRecords(ctx context.Context, f ledger.RecordFilter) ([]ledger.Record, error) {
	return listRecords(ctx, s.db, f)
}
func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, s.db, key)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func createAccount(ctx context.Context, q queryer, a *ledger.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = ledger.AccountActive
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, currency, balance, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, a.Currency, a.Balance.String(), a.Status, a.Version,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func getAccount(ctx context.Context, q queryer, id ledger.AccountID) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, owner_id, name, currency, balance, status, version, created_at, updated_at
		FROM accounts WHERE id = ?`, id)

	var a ledger.Account
	var balance, createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Currency, &balance, &a.Status, &a.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	a.Balance = ledger.MustParseDecimal(balance)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func saveAccount(ctx context.Context, q queryer, a *ledger.Account) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = ?, status = ?, name = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.Balance.String(), a.Status, a.Name, time.Now().UTC().Format(time.RFC3339Nano),
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if n == 0 {
		// Either the row is gone or someone else bumped the version.
		if _, getErr := getAccount(ctx, q, a.ID); getErr != nil {
			return getErr
		}
		return ledger.ErrPersistenceConflict
	}

	a.Version++
	return nil
}

func listAccounts(ctx context.Context, q queryer) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, owner_id, name, currency, balance, status, version, created_at, updated_at
		FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var balance, createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Currency, &balance, &a.Status, &a.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.Balance = ledger.MustParseDecimal(balance)
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// ITEMS
// =============================================================================

func createItem(ctx context.Context, q queryer, i *ledger.Item) error {
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now

	attrsJSON, _ := json.Marshal(i.Attributes)
	costValue, costCurrency := costColumns(i.AverageCost)

	_, err := q.ExecContext(ctx, `
		INSERT INTO items (id, catalog_id, name, manages_stock, quantity, avg_cost_value, avg_cost_currency, attributes_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CatalogID, i.Name, i.ManagesStock, i.Quantity.String(), costValue, costCurrency,
		string(attrsJSON), i.Version,
		i.CreatedAt.Format(time.RFC3339Nano), i.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func getItem(ctx context.Context, q queryer, id ledger.ItemID) (*ledger.Item, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, catalog_id, name, manages_stock, quantity, avg_cost_value, avg_cost_currency, attributes_json, version, created_at, updated_at
		FROM items WHERE id = ?`, id)

	i, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return i, nil
}

func saveItem(ctx context.Context, q queryer, i *ledger.Item) error {
	attrsJSON, _ := json.Marshal(i.Attributes)
	costValue, costCurrency := costColumns(i.AverageCost)

	res, err := q.ExecContext(ctx, `
		UPDATE items
		SET name = ?, manages_stock = ?, quantity = ?, avg_cost_value = ?, avg_cost_currency = ?,
		    attributes_json = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		i.Name, i.ManagesStock, i.Quantity.String(), costValue, costCurrency,
		string(attrsJSON), time.Now().UTC().Format(time.RFC3339Nano),
		i.ID, i.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	if n == 0 {
		if _, getErr := getItem(ctx, q, i.ID); getErr != nil {
			return getErr
		}
		return ledger.ErrPersistenceConflict
	}

	i.Version++
	return nil
}

func listItems(ctx context.Context, q queryer) ([]ledger.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, catalog_id, name, manages_stock, quantity, avg_cost_value, avg_cost_currency, attributes_json, version, created_at, updated_at
		FROM items ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []ledger.Item
	for rows.Next() {
		i, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func costColumns(cost *ledger.Money) (sql.NullString, sql.NullString) {
	if cost == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: cost.Amount.String(), Valid: true},
		sql.NullString{String: string(cost.Currency), Valid: true}
}

func scanItem(scan func(dest ...any) error) (*ledger.Item, error) {
	var i ledger.Item
	var quantity, attrsJSON, createdAt, updatedAt string
	var costValue, costCurrency sql.NullString

	err := scan(&i.ID, &i.CatalogID, &i.Name, &i.ManagesStock, &quantity, &costValue, &costCurrency, &attrsJSON, &i.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	i.Quantity = ledger.MustParseDecimal(quantity)
	if costValue.Valid && costCurrency.Valid {
		i.AverageCost = &ledger.Money{
			Amount:   ledger.MustParseDecimal(costValue.String),
			Currency: ledger.Currency(costCurrency.String),
		}
	}
	if attrsJSON != "" {
		json.Unmarshal([]byte(attrsJSON), &i.Attributes)
	}
	i.CreatedAt = parseTime(createdAt)
	i.UpdatedAt = parseTime(updatedAt)
	return &i, nil
}

// =============================================================================
// RECORDS (append-only)
// =============================================================================

func appendRecord(ctx context.Context, q queryer, r ledger.Record) error {
	var itemJSON, paymentJSON, profitJSON, declarationsJSON sql.NullString
	if r.Item != nil {
		b, _ := json.Marshal(r.Item)
		itemJSON = sql.NullString{String: string(b), Valid: true}
	}
	if r.Payment != nil {
		b, _ := json.Marshal(r.Payment)
		paymentJSON = sql.NullString{String: string(b), Valid: true}
	}
	if r.Profit != nil {
		b, _ := json.Marshal(r.Profit)
		profitJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(r.Declarations) > 0 {
		b, _ := json.Marshal(r.Declarations)
		declarationsJSON = sql.NullString{String: string(b), Valid: true}
	}
	tagsJSON, _ := json.Marshal(r.Tags)

	var accountID, itemID sql.NullString
	if r.Payment != nil {
		accountID = sql.NullString{String: string(r.Payment.AccountID), Valid: true}
	}
	if r.Item != nil {
		itemID = sql.NullString{String: string(r.Item.ItemID), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO records
		(id, record_type, status, occurred_at, operator_id, counterparty_id, account_id, item_id,
		 item_json, payment_json, profit_json, declarations_json, notes, tags_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Type, r.Status, r.OccurredAt.UTC().Format(time.RFC3339Nano),
		r.OperatorID, nullString(r.CounterpartyID), accountID, itemID,
		itemJSON, paymentJSON, profitJSON, declarationsJSON,
		r.Notes, string(tagsJSON), nullString(r.IdempotencyKey),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotency
		}
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

const recordSelect = `
	SELECT id, record_type, status, occurred_at, operator_id, counterparty_id,
	       item_json, payment_json, profit_json, declarations_json, notes, tags_json,
	       idempotency_key, created_at
	FROM records`

func getRecord(ctx context.Context, q queryer, id ledger.RecordID) (*ledger.Record, error) {
	rows, err := q.QueryContext(ctx, recordSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrRecordNotFound
	}
	return scanRecord(rows)
}

func listRecords(ctx context.Context, q queryer, f ledger.RecordFilter) ([]ledger.Record, error) {
	query := recordSelect + " WHERE 1=1"
	var args []any

	if f.AccountID != "" {
		// Declarations carry account ids inside their JSON blob.
		query += ` AND (account_id = ? OR declarations_json LIKE ?)`
		args = append(args, f.AccountID, `%"account_id":"`+string(f.AccountID)+`"%`)
	}
	if f.ItemID != "" {
		query += " AND item_id = ?"
		args = append(args, f.ItemID)
	}
	if f.Type != "" {
		query += " AND record_type = ?"
		args = append(args, f.Type)
	}
	if !f.From.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, f.To.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY occurred_at DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (*ledger.Record, error) {
	var r ledger.Record
	var occurredAt, createdAt, notes, tagsJSON string
	var counterparty, itemJSON, paymentJSON, profitJSON, declarationsJSON, idempotencyKey sql.NullString

	err := rows.Scan(&r.ID, &r.Type, &r.Status, &occurredAt, &r.OperatorID, &counterparty,
		&itemJSON, &paymentJSON, &profitJSON, &declarationsJSON, &notes, &tagsJSON,
		&idempotencyKey, &createdAt)
	if err != nil {
		return nil, err
	}

	r.OccurredAt = parseTime(occurredAt)
	r.CreatedAt = parseTime(createdAt)
	r.CounterpartyID = counterparty.String
	r.Notes = notes
	r.IdempotencyKey = idempotencyKey.String

	if itemJSON.Valid {
		r.Item = &ledger.ItemDetail{}
		if err := json.Unmarshal([]byte(itemJSON.String), r.Item); err != nil {
			return nil, fmt.Errorf("corrupt item snapshot on record %s: %w", r.ID, err)
		}
	}
	if paymentJSON.Valid {
		r.Payment = &ledger.PaymentDetail{}
		if err := json.Unmarshal([]byte(paymentJSON.String), r.Payment); err != nil {
			return nil, fmt.Errorf("corrupt payment snapshot on record %s: %w", r.ID, err)
		}
	}
	if profitJSON.Valid {
		r.Profit = &ledger.ProfitDetail{}
		if err := json.Unmarshal([]byte(profitJSON.String), r.Profit); err != nil {
			return nil, fmt.Errorf("corrupt profit snapshot on record %s: %w", r.ID, err)
		}
	}
	if declarationsJSON.Valid {
		if err := json.Unmarshal([]byte(declarationsJSON.String), &r.Declarations); err != nil {
			return nil, fmt.Errorf("corrupt declarations on record %s: %w", r.ID, err)
		}
	}
	if tagsJSON != "" {
		json.Unmarshal([]byte(tagsJSON), &r.Tags)
	}
	return &r, nil
}

func hasIdempotencyKey(ctx context.Context, q queryer, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// RATES (ledger.RateStore)
// =============================================================================

func (s *Store) UpsertRate(ctx context.Context, r ledger.Rate) error {
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rates (from_currency, to_currency, rate, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency) DO UPDATE SET rate = excluded.rate, updated_at = excluded.updated_at`,
		r.From, r.To, r.Rate.String(), updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rate: %w", err)
	}
	return nil
}

func (s *Store) ListRates(ctx context.Context) ([]ledger.Rate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_currency, to_currency, rate, updated_at
		FROM rates ORDER BY from_currency, to_currency`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	defer rows.Close()

	var out []ledger.Rate
	for rows.Next() {
		var r ledger.Rate
		var rate, updatedAt string
		if err := rows.Scan(&r.From, &r.To, &rate, &updatedAt); err != nil {
			return nil, err
		}
		r.Rate = ledger.MustParseDecimal(rate)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LookupRate(ctx context.Context, from, to ledger.Currency) (decimal.Decimal, bool, error) {
	var rate string
	err := s.db.QueryRowContext(ctx,
		"SELECT rate FROM rates WHERE from_currency = ? AND to_currency = ?", from, to,
	).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to lookup rate: %w", err)
	}
	return ledger.MustParseDecimal(rate), true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
