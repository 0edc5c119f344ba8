/*
records.go - Read-side helpers over the append-only record log

PURPOSE:
  The Processor is the only writer of records. Everything else - the
  API, reports, reconciliation - reads through Log, which wraps a
  RecordStore with the common queries.

WHY APPEND-ONLY?
  - Audit trail: you can always explain how a balance got to its state
  - Compliance: immutable history of every value movement
  - Correctness: no risk of a live view drifting from what happened
*/
package ledger

import (
	"context"
	"time"
)

// Log exposes read access to the transaction record log.
type Log struct {
	Store RecordStore
}

func NewLog(store RecordStore) *Log {
	return &Log{Store: store}
}

func (l *Log) Record(ctx context.Context, id RecordID) (*Record, error) {
	return l.Store.GetRecord(ctx, id)
}

func (l *Log) Records(ctx context.Context, f RecordFilter) ([]Record, error) {
	return l.Store.ListRecords(ctx, f)
}

// ByAccount returns records touching one account, newest first.
func (l *Log) ByAccount(ctx context.Context, id AccountID, limit int) ([]Record, error) {
	return l.Store.ListRecords(ctx, RecordFilter{AccountID: id, Limit: limit})
}

// ByItem returns records touching one item, newest first.
func (l *Log) ByItem(ctx context.Context, id ItemID, limit int) ([]Record, error) {
	return l.Store.ListRecords(ctx, RecordFilter{ItemID: id, Limit: limit})
}

// InRange returns records with OccurredAt in [from, to], newest first.
func (l *Log) InRange(ctx context.Context, from, to time.Time) ([]Record, error) {
	return l.Store.ListRecords(ctx, RecordFilter{From: from, To: to})
}
