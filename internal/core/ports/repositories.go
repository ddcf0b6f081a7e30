package ports

import (
	"context"

	"htlc-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RecordRepository persists fixed-layout records at derived addresses.
// Methods accepting pgx.Tx are used inside the per-instruction transaction.
type RecordRepository interface {
	// GetForUpdate locks and returns the record, or nil if the address is unoccupied.
	GetForUpdate(ctx context.Context, tx pgx.Tx, address domain.Pubkey) (*domain.Record, error)
	Get(ctx context.Context, address domain.Pubkey) (*domain.Record, error)
	Create(ctx context.Context, tx pgx.Tx, record *domain.Record) error
	UpdateData(ctx context.Context, tx pgx.Tx, address domain.Pubkey, data []byte) error
	ListByKind(ctx context.Context, kind domain.RecordKind, limit, offset int) ([]domain.Record, error)
	CountByKind(ctx context.Context, kind domain.RecordKind) (int64, error)
}

// TokenLedger is the external token balance store. Transfer enforces that
// authority owns the source, mints match and the balance suffices.
type TokenLedger interface {
	// GetAccountForUpdate locks and returns the account, or nil if absent.
	GetAccountForUpdate(ctx context.Context, tx pgx.Tx, address domain.Pubkey) (*domain.TokenAccount, error)
	GetAccount(ctx context.Context, address domain.Pubkey) (*domain.TokenAccount, error)
	CreateAccount(ctx context.Context, tx pgx.Tx, account *domain.TokenAccount) error
	Transfer(ctx context.Context, tx pgx.Tx, from, to, authority domain.Pubkey, amount uint64) error
	Mint(ctx context.Context, tx pgx.Tx, to domain.Pubkey, amount uint64) error
	ListByOwner(ctx context.Context, owner domain.Pubkey) ([]domain.TokenAccount, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// EventDeliveryRepository persists notification attempts.
type EventDeliveryRepository interface {
	Create(ctx context.Context, delivery *domain.EventDelivery) error
	Update(ctx context.Context, delivery *domain.EventDelivery) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.EventDelivery, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// HealthChecker reports whether a backing store can serve requests.
// Implementations bound their own deadline.
type HealthChecker interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in /health output.
	Name() string
}
