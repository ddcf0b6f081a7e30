package postgres

import (
	"context"
	"errors"
	"fmt"

	"htlc-escrow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const idempotencyColumns = `key, instruction, request_hash, result_id, response_json, created_at`

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	pool Pool
}

func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create inserts the log inside the instruction's transaction, so a result is
// replayable exactly when its effects are committed.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	query := `INSERT INTO idempotency_logs (` + idempotencyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		log.Key, log.Instruction, log.RequestHash, log.ResultID, log.ResponseJSON, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert idempotency log: %w", translate(err, domain.ErrIdempotencyKeyTaken))
	}
	return nil
}

// Get returns nil, nil when key was never committed.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_logs WHERE key = $1`

	log := &domain.IdempotencyLog{}
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&log.Key, &log.Instruction, &log.RequestHash, &log.ResultID, &log.ResponseJSON, &log.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency log: %w", err)
	}
	return log, nil
}
