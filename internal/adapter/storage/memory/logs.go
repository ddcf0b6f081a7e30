package memory

import (
	"context"
	"fmt"

	"htlc-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	store *Store
}

// NewIdempotencyRepo creates an idempotency log over store.
func NewIdempotencyRepo(store *Store) *IdempotencyRepo {
	return &IdempotencyRepo{store: store}
}

// Create stages an idempotency log. Keys are unique.
func (r *IdempotencyRepo) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	mtx, err := r.store.asTx(tx)
	if err != nil {
		return err
	}
	r.store.mu.RLock()
	_, exists := r.store.idempotency[log.Key]
	r.store.mu.RUnlock()
	if _, staged := mtx.idempotency[log.Key]; exists || staged {
		return fmt.Errorf("insert idempotency log %q: %w", log.Key, domain.ErrIdempotencyKeyTaken)
	}
	mtx.idempotency[log.Key] = *log
	return nil
}

// Get returns the committed log for key, or nil.
func (r *IdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	log, ok := r.store.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &log, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo creates an audit log over store.
func NewAuditRepo(store *Store) *AuditRepo {
	return &AuditRepo{store: store}
}

// Create appends an audit entry.
func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audit = append(r.store.audit, *log)
	return nil
}

// List returns every audit entry in insertion order.
func (r *AuditRepo) List() []domain.AuditLog {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return append([]domain.AuditLog(nil), r.store.audit...)
}

// EventDeliveryRepo implements ports.EventDeliveryRepository.
type EventDeliveryRepo struct {
	store *Store
}

// NewEventDeliveryRepo creates a delivery log over store.
func NewEventDeliveryRepo(store *Store) *EventDeliveryRepo {
	return &EventDeliveryRepo{store: store}
}

// Create inserts a delivery.
func (r *EventDeliveryRepo) Create(_ context.Context, d *domain.EventDelivery) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.deliveries[d.ID] = *d
	return nil
}

// Update replaces a delivery.
func (r *EventDeliveryRepo) Update(_ context.Context, d *domain.EventDelivery) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.deliveries[d.ID]; !ok {
		return fmt.Errorf("update event delivery: %s not found", d.ID)
	}
	d.UpdatedAt = nowUTC()
	r.store.deliveries[d.ID] = *d
	return nil
}

// ListByEvent returns every delivery of one event, newest first.
func (r *EventDeliveryRepo) ListByEvent(_ context.Context, eventID uuid.UUID) ([]domain.EventDelivery, error) {
	r.store.mu.RLock()
	var out []domain.EventDelivery
	for _, d := range r.store.deliveries {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	r.store.mu.RUnlock()

	sortedByCreated(out, func(d domain.EventDelivery) int64 { return d.CreatedAt.UnixNano() })
	return out, nil
}
