package dto

import (
	"time"

	"htlc-escrow/internal/core/domain"
)

// --- Instructions ---

// InstructionRequest is the signed envelope body. Data is the raw
// instruction encoding, base64 in JSON.
type InstructionRequest struct {
	Data     []byte   `json:"data" binding:"required"`
	Accounts []string `json:"accounts" binding:"required,max=16,dive,pubkey"`
}

// InstructionHeaders carries the optional idempotency key.
type InstructionHeaders struct {
	IdempotencyKey string `header:"Idempotency-Key" binding:"omitempty,max=100,idempotency_key"`
}

// --- Auth ---

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=50"`
	Password string `json:"password" binding:"required,max=128"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
}

// --- Ledger (operator) ---

type OpenAccountRequest struct {
	Owner string `json:"owner" binding:"required,pubkey"`
	Mint  string `json:"mint" binding:"required,pubkey"`
}

type FundRequest struct {
	Address string `json:"address" binding:"required,pubkey"`
	Amount  uint64 `json:"amount" binding:"required,gt=0"`
}

// --- Queries ---

// AddressQuery selects one derivation of the address helper. Which of the
// optional parameters is needed depends on Kind and is checked by a
// struct-level validator.
type AddressQuery struct {
	Kind        string `form:"kind" binding:"required,oneof=escrow platform trade token"`
	PaymentHash string `form:"payment_hash" binding:"omitempty,payment_hash"`
	Collector   string `form:"collector" binding:"omitempty,pubkey"`
	Owner       string `form:"owner" binding:"omitempty,pubkey"`
	Mint        string `form:"mint" binding:"omitempty,pubkey"`
}

// AddressResponse is a derived address. Bump is absent for token accounts,
// which are not program-derived from the escrow program.
type AddressResponse struct {
	Kind    string        `json:"kind"`
	Address domain.Pubkey `json:"address"`
	Bump    *uint8        `json:"bump,omitempty"`
}

type TokenAccountListResponse struct {
	Owner    domain.Pubkey         `json:"owner"`
	Accounts []domain.TokenAccount `json:"accounts"`
}
