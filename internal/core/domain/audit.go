package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionInstruction   AuditAction = "INSTRUCTION"
	AuditActionLogin         AuditAction = "LOGIN"
	AuditActionCreateAccount AuditAction = "CREATE_TOKEN_ACCOUNT"
	AuditActionMint          AuditAction = "MINT"
)

// ActorKind tells how the actor of an audited request was authenticated.
type ActorKind string

const (
	ActorSigner    ActorKind = "signer"    // ed25519 request envelope
	ActorOperator  ActorKind = "operator"  // operator JWT
	ActorAnonymous ActorKind = "anonymous" // login attempts
)

// AuditLog records one successful write made through the API.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	RequestID    string      `json:"request_id,omitempty"`
	ActorKind    ActorKind   `json:"actor_kind"`
	Actor        string      `json:"actor,omitempty"` // base58 signer or operator username
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"` // instruction name or token account
	Details      string      `json:"details,omitempty"`     // JSON
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
