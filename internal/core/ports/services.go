package ports

import (
	"context"
	"time"

	"htlc-escrow/internal/core/domain"

	"github.com/google/uuid"
)

// RequestVerifier checks the ed25519 signature on a signed request envelope.
type RequestVerifier interface {
	// Verify reports whether signature (base58) is signer's signature over payload.
	Verify(signer domain.Pubkey, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// SignatureService signs outbound notifications. The signature binds a unix
// timestamp so receivers can reject replayed deliveries.
type SignatureService interface {
	Sign(secretKey string, timestamp int64, body []byte) string
	Verify(secretKey string, header string, body []byte, now time.Time) error
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Role    string
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) // nil when absent
	Set(ctx context.Context, log *domain.IdempotencyLog, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, signer string, nonce string, ttl time.Duration) (bool, error)
}

// --- Service Ports (Business Logic) ---

// InstructionProcessor decodes and executes one signed instruction atomically.
type InstructionProcessor interface {
	Process(ctx context.Context, req InstructionRequest) (*InstructionResult, error)
}

// InstructionRequest holds a verified envelope.
type InstructionRequest struct {
	Signer         domain.Pubkey
	Data           []byte
	Accounts       []domain.Pubkey
	IdempotencyKey string // optional
	ClientIP       string
}

// InstructionResult is the committed outcome of an instruction.
type InstructionResult struct {
	ID          uuid.UUID             `json:"id"`
	Instruction string                `json:"instruction"`
	Tag         domain.InstructionTag `json:"tag"`
	Signer      domain.Pubkey         `json:"signer"`
	Escrow      *EscrowView           `json:"escrow,omitempty"`
	Policy      *PolicyView           `json:"policy,omitempty"`
	Transfers   []domain.Transfer     `json:"transfers"`
	Events      []domain.Event        `json:"events"`
	ProcessedAt time.Time             `json:"processed_at"`
	Replayed    bool                  `json:"-"`
}

// EscrowView is an escrow record together with its address.
type EscrowView struct {
	Address domain.Pubkey       `json:"address"`
	Status  string              `json:"status"`
	Record  domain.EscrowRecord `json:"record"`
}

// PolicyView is a fee policy together with its kind and address.
type PolicyView struct {
	Kind     domain.PolicyKind `json:"kind"`
	Address  domain.Pubkey     `json:"address"`
	FeeVault *domain.Pubkey    `json:"fee_vault,omitempty"`
	Policy   domain.FeePolicy  `json:"policy"`
}

// AuthService authenticates the operator account.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// ReportingService serves read-only views of records and balances.
type ReportingService interface {
	GetEscrow(ctx context.Context, paymentHash domain.Hash) (*EscrowView, error)
	GetPolicy(ctx context.Context, kind domain.PolicyKind, collector domain.Pubkey) (*PolicyView, error)
	GetTokenAccount(ctx context.Context, address domain.Pubkey) (*domain.TokenAccount, error)
	ListTokenAccounts(ctx context.Context, owner domain.Pubkey) ([]domain.TokenAccount, error)
	GetDashboardStats(ctx context.Context) (*EscrowStats, error)
}

// EscrowStats holds aggregated statistics for the operator dashboard.
type EscrowStats struct {
	TotalEscrows   int64  `json:"total_escrows"`
	Active         int64  `json:"active"`
	Claimed        int64  `json:"claimed"`
	Refunded       int64  `json:"refunded"`
	ValueLocked    uint64 `json:"value_locked"`
	PlatformPolicy bool   `json:"platform_policy"`
	TradePolicies  int64  `json:"trade_policies"`
}

// LedgerAdminService lets the operator open and fund token accounts.
type LedgerAdminService interface {
	OpenAccount(ctx context.Context, owner, mint domain.Pubkey) (*domain.TokenAccount, error)
	Fund(ctx context.Context, address domain.Pubkey, amount uint64) (*domain.TokenAccount, error)
}

// EventPublisher delivers committed events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// Metrics records instruction outcomes and token movements.
type Metrics interface {
	ObserveInstruction(instruction, outcome string, elapsed time.Duration)
	ObserveTransfer(kind domain.TransferKind, amount uint64)
}

// Instruction outcome labels reported to Metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeReplayed = "replayed"
)
