package domain

import (
	"errors"
	"time"
)

// TokenAccount is a balance of one mint held by one owner in the token ledger.
type TokenAccount struct {
	Address   Pubkey    `json:"address"`
	Owner     Pubkey    `json:"owner"`
	Mint      Pubkey    `json:"mint"`
	Amount    uint64    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferKind labels why tokens moved. Used for metrics and logs.
type TransferKind string

const (
	TransferDeposit     TransferKind = "deposit"
	TransferNet         TransferKind = "net"
	TransferPlatformFee TransferKind = "platform_fee"
	TransferTradeFee    TransferKind = "trade_fee"
	TransferRefund      TransferKind = "refund"
	TransferWithdraw    TransferKind = "withdraw"
)

// Transfer is one token movement performed while executing an instruction.
type Transfer struct {
	Kind      TransferKind `json:"kind"`
	From      Pubkey       `json:"from"`
	To        Pubkey       `json:"to"`
	Authority Pubkey       `json:"authority"`
	Amount    uint64       `json:"amount"`
}

// Token ledger rejections.
var (
	ErrTokenAccountNotFound = errors.New("token account not found")
	ErrTokenAccountExists   = errors.New("token account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOwnerMismatch        = errors.New("authority does not own source account")
	ErrMintMismatch         = errors.New("source and destination mints differ")
	ErrBalanceOverflow      = errors.New("balance overflow")
)
