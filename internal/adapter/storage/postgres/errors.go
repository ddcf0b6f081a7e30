package postgres

import (
	"errors"
	"fmt"

	"htlc-escrow/internal/core/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the adapters translate into domain errors.
const (
	sqlStateUniqueViolation  = "23505"
	sqlStateLockNotAvailable = "55P03"
)

// translate maps server errors that callers act on to domain sentinels,
// keeping the original error in the chain. exists is returned for a
// unique violation.
func translate(err, exists error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateUniqueViolation:
		if exists != nil {
			return fmt.Errorf("%w: %w", exists, err)
		}
	case sqlStateLockNotAvailable:
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
	}
	return err
}
