package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a state change emitted after an instruction commits.
type EventType string

const (
	EventEscrowCreated     EventType = "escrow.created"
	EventEscrowClaimed     EventType = "escrow.claimed"
	EventEscrowRefunded    EventType = "escrow.refunded"
	EventFeePolicyCreated  EventType = "fee_policy.created"
	EventFeePolicyUpdated  EventType = "fee_policy.updated"
	EventFeePolicyWithdraw EventType = "fee_policy.withdrawn"
)

// Event is a committed state change. Attributes carry string forms of the
// addresses and amounts involved.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	Attributes map[string]string `json:"attributes"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// DeliveryStatus represents the delivery state of an event notification.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// EventDelivery records each notification attempt for an event.
type EventDelivery struct {
	ID          uuid.UUID      `json:"id"`
	EventID     uuid.UUID      `json:"event_id"`
	EventType   EventType      `json:"event_type"`
	URL         string         `json:"url"`
	Payload     string         `json:"payload"` // JSON string
	HTTPStatus  *int           `json:"http_status"`
	Attempt     int            `json:"attempt"`
	Status      DeliveryStatus `json:"status"`
	NextRetryAt *time.Time     `json:"next_retry_at"`
	LastError   *string        `json:"last_error"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
