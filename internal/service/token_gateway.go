package service

import (
	"context"
	"errors"
	"fmt"

	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
)

// TokenGateway is the only path through which escrow and fee policy
// handlers touch token balances.
type TokenGateway struct {
	ledger  ports.TokenLedger
	deriver *derive.Deriver
}

// NewTokenGateway creates a TokenGateway over ledger.
func NewTokenGateway(ledger ports.TokenLedger, deriver *derive.Deriver) *TokenGateway {
	return &TokenGateway{ledger: ledger, deriver: deriver}
}

// Account locks and returns the token account at addr, or nil if absent.
func (g *TokenGateway) Account(ctx context.Context, inv *Invocation, addr domain.Pubkey) (*domain.TokenAccount, error) {
	acc, err := g.ledger.GetAccountForUpdate(ctx, inv.Tx, addr)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("load token account %s: %w", addr, err))
	}
	return acc, nil
}

// ValidAccount loads addr and requires it to exist and hold mint.
// A zero owner skips the ownership check.
func (g *TokenGateway) ValidAccount(ctx context.Context, inv *Invocation, addr, owner, mint domain.Pubkey) (*domain.TokenAccount, error) {
	acc, err := g.Account(ctx, inv, addr)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.Mint != mint {
		return nil, apperror.ErrInvalidTokenAccount()
	}
	if !owner.IsZero() && acc.Owner != owner {
		return nil, apperror.ErrInvalidTokenAccount()
	}
	return acc, nil
}

// EnsureAssociated returns the canonical holding account of owner for mint,
// creating an empty one if it does not exist yet. An existing account at
// that address with a different owner or mint is rejected.
func (g *TokenGateway) EnsureAssociated(ctx context.Context, inv *Invocation, owner, mint domain.Pubkey) (*domain.TokenAccount, error) {
	addr := g.deriver.TokenAccount(owner, mint)
	acc, err := g.Account(ctx, inv, addr)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return associated(acc, owner, mint)
	}

	acc = &domain.TokenAccount{
		Address:   addr,
		Owner:     owner,
		Mint:      mint,
		CreatedAt: inv.Now,
		UpdatedAt: inv.Now,
	}
	err = g.ledger.CreateAccount(ctx, inv.Tx, acc)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, domain.ErrTokenAccountExists) {
		return nil, storageFailure(fmt.Errorf("create token account %s: %w", addr, err))
	}

	// A concurrent instruction created the account after our read. Lock the
	// committed row and hold it to the same owner and mint.
	existing, err := g.Account(ctx, inv, addr)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperror.InternalError(fmt.Errorf("token account %s reported existing but not found", addr))
	}
	return associated(existing, owner, mint)
}

func associated(acc *domain.TokenAccount, owner, mint domain.Pubkey) (*domain.TokenAccount, error) {
	if acc.Owner != owner || acc.Mint != mint {
		return nil, apperror.ErrInvalidTokenAccount()
	}
	return acc, nil
}

// Transfer moves amount from one account to another under authority and
// records the movement on the invocation result.
func (g *TokenGateway) Transfer(ctx context.Context, inv *Invocation, kind domain.TransferKind, from, to, authority domain.Pubkey, amount uint64) error {
	if err := g.ledger.Transfer(ctx, inv.Tx, from, to, authority, amount); err != nil {
		if isLedgerRejection(err) {
			return apperror.ErrTransferFailed(fmt.Errorf("%s transfer: %w", kind, err))
		}
		return storageFailure(fmt.Errorf("%s transfer: %w", kind, err))
	}
	inv.Result.Transfers = append(inv.Result.Transfers, domain.Transfer{
		Kind:      kind,
		From:      from,
		To:        to,
		Authority: authority,
		Amount:    amount,
	})
	return nil
}

func isLedgerRejection(err error) bool {
	for _, target := range []error{
		domain.ErrTokenAccountNotFound,
		domain.ErrInsufficientFunds,
		domain.ErrOwnerMismatch,
		domain.ErrMintMismatch,
		domain.ErrBalanceOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
