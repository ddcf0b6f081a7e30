package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can test
// errors.Is(err, apperror.ErrNotActive()).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Condition returns the program condition number of an ESC_ error.
func (e *AppError) Condition() (int, bool) {
	n, ok := strings.CutPrefix(e.Code, "ESC_")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, false
	}
	return v, true
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Escrow program conditions (ESC) ----
// The numeric suffix is the condition number reported to clients of the
// on-ledger program; ESC_000 marks an undecodable or absent record.

const (
	CodeInvalidAccountData      = "ESC_000"
	CodeInvalidInstruction      = "ESC_001"
	CodeInvalidEscrowPda        = "ESC_002"
	CodeInvalidVaultAta         = "ESC_003"
	CodeInvalidTokenAccount     = "ESC_004"
	CodeInvalidSigner           = "ESC_005"
	CodeInvalidPreimage         = "ESC_006"
	CodeNotActive               = "ESC_007"
	CodeTooEarly                = "ESC_008"
	CodeInvalidConfigPda        = "ESC_009"
	CodeInvalidConfigState      = "ESC_010"
	CodeFeeTooHigh              = "ESC_011"
	CodeAlreadyInitialized      = "ESC_012"
	CodeInvalidFeeVaultAta      = "ESC_013"
	CodeInvalidTradeConfigPda   = "ESC_014"
	CodeInvalidTradeConfigState = "ESC_015"
	CodeInvalidTradeFeeVaultAta = "ESC_016"
	CodeFeeMismatch             = "ESC_017"
	CodeTransferFailed          = "LEDGER_001"
	CodeIdempotencyConflict     = "REQ_409"
)

func ErrInvalidAccountData() *AppError {
	return New(CodeInvalidAccountData, "Account data is missing or malformed", http.StatusUnprocessableEntity)
}

func ErrInvalidInstruction() *AppError {
	return New(CodeInvalidInstruction, "Invalid instruction", http.StatusBadRequest)
}

func ErrInvalidEscrowPda() *AppError {
	return New(CodeInvalidEscrowPda, "Escrow address does not match its derivation", http.StatusBadRequest)
}

func ErrInvalidVaultAta() *AppError {
	return New(CodeInvalidVaultAta, "Vault is not the escrow's associated token account", http.StatusBadRequest)
}

func ErrInvalidTokenAccount() *AppError {
	return New(CodeInvalidTokenAccount, "Invalid token account", http.StatusBadRequest)
}

func ErrInvalidSigner() *AppError {
	return New(CodeInvalidSigner, "Missing or unexpected signer", http.StatusForbidden)
}

func ErrInvalidPreimage() *AppError {
	return New(CodeInvalidPreimage, "Preimage does not hash to the payment hash", http.StatusForbidden)
}

func ErrNotActive() *AppError {
	return New(CodeNotActive, "Escrow is not active", http.StatusConflict)
}

func ErrTooEarly() *AppError {
	return New(CodeTooEarly, "Refund is not yet allowed", http.StatusConflict)
}

func ErrInvalidConfigPda() *AppError {
	return New(CodeInvalidConfigPda, "Platform policy address does not match its derivation", http.StatusBadRequest)
}

func ErrInvalidConfigState() *AppError {
	return New(CodeInvalidConfigState, "Platform policy is missing or stale", http.StatusUnprocessableEntity)
}

func ErrFeeTooHigh() *AppError {
	return New(CodeFeeTooHigh, "Fee rate exceeds the 2500 bps ceiling", http.StatusBadRequest)
}

func ErrAlreadyInitialized() *AppError {
	return New(CodeAlreadyInitialized, "Account is already initialized", http.StatusConflict)
}

func ErrInvalidFeeVaultAta() *AppError {
	return New(CodeInvalidFeeVaultAta, "Platform fee vault is not the policy's associated token account", http.StatusBadRequest)
}

func ErrInvalidTradeConfigPda() *AppError {
	return New(CodeInvalidTradeConfigPda, "Trade policy address does not match its derivation", http.StatusBadRequest)
}

func ErrInvalidTradeConfigState() *AppError {
	return New(CodeInvalidTradeConfigState, "Trade policy is missing or stale", http.StatusUnprocessableEntity)
}

func ErrInvalidTradeFeeVaultAta() *AppError {
	return New(CodeInvalidTradeFeeVaultAta, "Trade fee vault is not the policy's associated token account", http.StatusBadRequest)
}

func ErrFeeMismatch() *AppError {
	return New(CodeFeeMismatch, "Expected fee rate does not match the current policy", http.StatusConflict)
}

// ErrTransferFailed reports a rejected token ledger transfer.
func ErrTransferFailed(err error) *AppError {
	return Wrap(CodeTransferFailed, "Token transfer failed", http.StatusUnprocessableEntity, err)
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidSignerKey() *AppError {
	return New("SEC_001", "Invalid signer key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- Requests & lookups (REQ) ----

func ErrNotFound(entity string) *AppError {
	return New("REQ_404", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrIdempotencyConflict() *AppError {
	return New(CodeIdempotencyConflict, "Idempotency key was used with a different instruction", http.StatusConflict)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("REQ_001", message, http.StatusBadRequest)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
