package postgres

import (
	"context"
	"errors"
	"fmt"

	"htlc-escrow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RecordRepo implements ports.RecordRepository on the records table.
type RecordRepo struct {
	pool Pool
}

// NewRecordRepo creates a new RecordRepo.
func NewRecordRepo(pool Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

const recordColumns = `address, kind, data, rent_reserve, created_at, updated_at`

// GetForUpdate fetches a record with a row lock. Returns nil, nil when the
// address is unoccupied. This MUST be called within a transaction.
func (r *RecordRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, address domain.Pubkey) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE address = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, query, address.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record for update: %w", translate(err, nil))
	}
	return rec, nil
}

// Get fetches a record without locking.
func (r *RecordRepo) Get(ctx context.Context, address domain.Pubkey) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE address = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, address.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Create inserts a new record within a database transaction. The row lock
// taken by GetForUpdate cannot cover an absent row, so two transactions may
// both see the address free; the loser fails on the primary key with
// domain.ErrRecordExists once the winner commits.
func (r *RecordRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.Record) error {
	query := `INSERT INTO records (` + recordColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		rec.Address.String(), string(rec.Kind), rec.Data,
		int64(rec.RentReserve), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", translate(err, domain.ErrRecordExists))
	}
	return nil
}

// UpdateData overwrites the layout bytes of an existing record.
func (r *RecordRepo) UpdateData(ctx context.Context, tx pgx.Tx, address domain.Pubkey, data []byte) error {
	query := `UPDATE records SET data = $1, updated_at = NOW() WHERE address = $2`

	tag, err := tx.Exec(ctx, query, data, address.String())
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update record: %s not found", address)
	}
	return nil
}

// ListByKind returns records of one kind, newest first.
func (r *RecordRepo) ListByKind(ctx context.Context, kind domain.RecordKind, limit, offset int) ([]domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE kind = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountByKind returns the number of records of one kind.
func (r *RecordRepo) CountByKind(ctx context.Context, kind domain.RecordKind) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE kind = $1`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		address, kind string
		reserve       int64
		rec           domain.Record
	)
	if err := row.Scan(&address, &kind, &rec.Data, &reserve, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	addr, err := domain.ParsePubkey(address)
	if err != nil {
		return nil, err
	}
	rec.Address = addr
	rec.Kind = domain.RecordKind(kind)
	rec.RentReserve = uint64(reserve)
	return &rec, nil
}
