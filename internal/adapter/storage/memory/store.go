// Package memory is a process-local storage driver. Transactions are fully
// serialized: Begin blocks until the previous transaction commits or rolls
// back, and writes stay staged on the Tx until Commit.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"htlc-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrForeignTx is returned when a repository receives a transaction that was
// not started by this store.
var ErrForeignTx = errors.New("memory: transaction not started by this store")

// Store holds committed state shared by the memory repositories.
type Store struct {
	txMu sync.Mutex // held for the lifetime of a Tx

	mu          sync.RWMutex
	records     map[domain.Pubkey]domain.Record
	accounts    map[domain.Pubkey]domain.TokenAccount
	idempotency map[string]domain.IdempotencyLog
	audit       []domain.AuditLog
	deliveries  map[uuid.UUID]domain.EventDelivery
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:     make(map[domain.Pubkey]domain.Record),
		accounts:    make(map[domain.Pubkey]domain.TokenAccount),
		idempotency: make(map[string]domain.IdempotencyLog),
		deliveries:  make(map[uuid.UUID]domain.EventDelivery),
	}
}

// Tx stages writes until Commit. The embedded pgx.Tx is nil; only Commit and
// Rollback are implemented.
type Tx struct {
	pgx.Tx
	store       *Store
	records     map[domain.Pubkey]domain.Record
	accounts    map[domain.Pubkey]domain.TokenAccount
	idempotency map[string]domain.IdempotencyLog
	done        bool
}

// Commit applies staged writes and releases the store.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	for k, v := range t.records {
		s.records[k] = v
	}
	for k, v := range t.accounts {
		s.accounts[k] = v
	}
	for k, v := range t.idempotency {
		s.idempotency[k] = v
	}
	s.mu.Unlock()

	s.txMu.Unlock()
	return nil
}

// Rollback discards staged writes. Calling it after Commit is a no-op.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) record(addr domain.Pubkey) (domain.Record, bool) {
	if rec, ok := t.records[addr]; ok {
		return rec, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.records[addr]
	return rec, ok
}

func (t *Tx) account(addr domain.Pubkey) (domain.TokenAccount, bool) {
	if acc, ok := t.accounts[addr]; ok {
		return acc, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	acc, ok := t.store.accounts[addr]
	return acc, ok
}

func (s *Store) asTx(tx pgx.Tx) (*Tx, error) {
	mtx, ok := tx.(*Tx)
	if !ok || mtx.store != s {
		return nil, ErrForeignTx
	}
	if mtx.done {
		return nil, pgx.ErrTxClosed
	}
	return mtx, nil
}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	store *Store
}

// NewTransactor creates a transactor for store.
func NewTransactor(store *Store) *Transactor {
	return &Transactor{store: store}
}

// Begin waits for exclusive access and returns a new Tx.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.store.txMu.Lock()
	return &Tx{
		store:       t.store,
		records:     make(map[domain.Pubkey]domain.Record),
		accounts:    make(map[domain.Pubkey]domain.TokenAccount),
		idempotency: make(map[string]domain.IdempotencyLog),
	}, nil
}

// HealthCheck implements ports.HealthChecker.
type HealthCheck struct{}

// Ping always succeeds.
func (HealthCheck) Ping(context.Context) error { return nil }

// Name returns the dependency name.
func (HealthCheck) Name() string { return "memory" }

func cloneRecord(rec domain.Record) *domain.Record {
	rec.Data = bytes.Clone(rec.Data)
	return &rec
}

func sortedByCreated[T any](items []T, created func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool { return created(items[i]) > created(items[j]) })
}
