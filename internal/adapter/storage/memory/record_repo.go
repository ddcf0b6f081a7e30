package memory

import (
	"bytes"
	"context"
	"fmt"

	"htlc-escrow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RecordRepo implements ports.RecordRepository.
type RecordRepo struct {
	store *Store
}

// NewRecordRepo creates a record repository over store.
func NewRecordRepo(store *Store) *RecordRepo {
	return &RecordRepo{store: store}
}

// GetForUpdate returns the record as seen by tx, or nil if unoccupied.
func (r *RecordRepo) GetForUpdate(_ context.Context, tx pgx.Tx, address domain.Pubkey) (*domain.Record, error) {
	mtx, err := r.store.asTx(tx)
	if err != nil {
		return nil, err
	}
	rec, ok := mtx.record(address)
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Get returns the committed record, or nil if unoccupied.
func (r *RecordRepo) Get(_ context.Context, address domain.Pubkey) (*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[address]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Create stages a new record.
func (r *RecordRepo) Create(_ context.Context, tx pgx.Tx, rec *domain.Record) error {
	mtx, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	if _, ok := mtx.record(rec.Address); ok {
		return fmt.Errorf("insert record %s: %w", rec.Address, domain.ErrRecordExists)
	}
	mtx.records[rec.Address] = *cloneRecord(*rec)
	return nil
}

// UpdateData stages new layout bytes for an existing record.
func (r *RecordRepo) UpdateData(_ context.Context, tx pgx.Tx, address domain.Pubkey, data []byte) error {
	mtx, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	rec, ok := mtx.record(address)
	if !ok {
		return fmt.Errorf("update record: %s not found", address)
	}
	rec.Data = bytes.Clone(data)
	rec.UpdatedAt = nowUTC()
	mtx.records[address] = rec
	return nil
}

// ListByKind returns committed records of one kind, newest first.
func (r *RecordRepo) ListByKind(_ context.Context, kind domain.RecordKind, limit, offset int) ([]domain.Record, error) {
	r.store.mu.RLock()
	var out []domain.Record
	for _, rec := range r.store.records {
		if rec.Kind == kind {
			out = append(out, *cloneRecord(rec))
		}
	}
	r.store.mu.RUnlock()

	sortedByCreated(out, func(rec domain.Record) int64 { return rec.CreatedAt.UnixNano() })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// CountByKind returns the number of committed records of one kind.
func (r *RecordRepo) CountByKind(_ context.Context, kind domain.RecordKind) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var n int64
	for _, rec := range r.store.records {
		if rec.Kind == kind {
			n++
		}
	}
	return n, nil
}
