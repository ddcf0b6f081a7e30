package service

import (
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Invocation is one instruction executing inside a database transaction.
// Handlers read the verified signer and positional accounts from it and
// append the transfers and events they produce to Result.
type Invocation struct {
	Tx       pgx.Tx
	Signer   domain.Pubkey
	Accounts []domain.Pubkey
	Now      time.Time
	Result   *ports.InstructionResult
}

func newInvocation(tx pgx.Tx, req ports.InstructionRequest, tag domain.InstructionTag, now time.Time) *Invocation {
	return &Invocation{
		Tx:       tx,
		Signer:   req.Signer,
		Accounts: req.Accounts,
		Now:      now,
		Result: &ports.InstructionResult{
			ID:          uuid.New(),
			Instruction: tag.String(),
			Tag:         tag,
			Signer:      req.Signer,
			ProcessedAt: now,
		},
	}
}

// requireAccounts fails with InvalidInstruction unless at least n accounts were passed.
func (inv *Invocation) requireAccounts(n int) error {
	if len(inv.Accounts) < n {
		return apperror.ErrInvalidInstruction()
	}
	return nil
}

// requireSigner checks that the account at position i is the verified signer.
func (inv *Invocation) requireSigner(i int) error {
	if inv.Accounts[i] != inv.Signer {
		return apperror.ErrInvalidSigner()
	}
	return nil
}

func (inv *Invocation) emit(typ domain.EventType, attrs map[string]string) {
	inv.Result.Events = append(inv.Result.Events, domain.Event{
		ID:         uuid.New(),
		Type:       typ,
		Attributes: attrs,
		OccurredAt: inv.Now,
	})
}
