package postgres

import (
	"context"
	"fmt"
	"time"

	"htlc-escrow/internal/core/domain"

	"github.com/google/uuid"
)

// EventDeliveryRepo implements ports.EventDeliveryRepository.
type EventDeliveryRepo struct {
	pool Pool
}

// NewEventDeliveryRepo creates a PostgreSQL-backed delivery log.
func NewEventDeliveryRepo(pool Pool) *EventDeliveryRepo {
	return &EventDeliveryRepo{pool: pool}
}

// Create inserts the first attempt of a delivery.
func (r *EventDeliveryRepo) Create(ctx context.Context, d *domain.EventDelivery) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO event_deliveries
		(id, event_id, event_type, url, payload, http_status, attempt, status, next_retry_at, last_error, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.EventID, string(d.EventType), d.URL,
		d.Payload, d.HTTPStatus, d.Attempt, string(d.Status),
		d.NextRetryAt, d.LastError, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event delivery: %w", err)
	}
	return nil
}

// Update records the outcome of the latest attempt.
func (r *EventDeliveryRepo) Update(ctx context.Context, d *domain.EventDelivery) error {
	d.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE event_deliveries
		 SET http_status=$1, attempt=$2, status=$3, next_retry_at=$4, last_error=$5, updated_at=$6
		 WHERE id=$7`,
		d.HTTPStatus, d.Attempt, string(d.Status),
		d.NextRetryAt, d.LastError, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update event delivery: %w", err)
	}
	return nil
}

// ListByEvent returns every delivery of one event, newest first.
func (r *EventDeliveryRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.EventDelivery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, event_type, url, payload,
		http_status, attempt, status, next_retry_at, last_error,
		created_at, updated_at
		 FROM event_deliveries
		 WHERE event_id=$1
		 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.EventDelivery
	for rows.Next() {
		var (
			d                 domain.EventDelivery
			eventType, status string
		)
		if err := rows.Scan(
			&d.ID, &d.EventID, &eventType, &d.URL, &d.Payload,
			&d.HTTPStatus, &d.Attempt, &status, &d.NextRetryAt, &d.LastError,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event delivery: %w", err)
		}
		d.EventType = domain.EventType(eventType)
		d.Status = domain.DeliveryStatus(status)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
