package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"

	"github.com/rs/zerolog"
)

// ledgerAdminService implements ports.LedgerAdminService. It stands in for
// the operator tooling of an external token ledger.
type ledgerAdminService struct {
	ledger     ports.TokenLedger
	transactor ports.DBTransactor
	deriver    *derive.Deriver
	log        zerolog.Logger
}

// NewLedgerAdminService creates a new ledger admin service.
func NewLedgerAdminService(ledger ports.TokenLedger, transactor ports.DBTransactor, deriver *derive.Deriver, log zerolog.Logger) ports.LedgerAdminService {
	return &ledgerAdminService{
		ledger:     ledger,
		transactor: transactor,
		deriver:    deriver,
		log:        log,
	}
}

// OpenAccount creates the canonical token account of owner for mint.
func (s *ledgerAdminService) OpenAccount(ctx context.Context, owner, mint domain.Pubkey) (*domain.TokenAccount, error) {
	now := time.Now().UTC()
	acc := &domain.TokenAccount{
		Address:   s.deriver.TokenAccount(owner, mint),
		Owner:     owner,
		Mint:      mint,
		CreatedAt: now,
		UpdatedAt: now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.ledger.CreateAccount(ctx, dbTx, acc); err != nil {
		if errors.Is(err, domain.ErrTokenAccountExists) {
			return nil, apperror.ErrAlreadyInitialized()
		}
		return nil, apperror.InternalError(fmt.Errorf("create token account: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("address", acc.Address.String()).Str("owner", owner.String()).Str("mint", mint.String()).Msg("token account opened")
	return acc, nil
}

// Fund credits amount to an existing token account.
func (s *ledgerAdminService) Fund(ctx context.Context, address domain.Pubkey, amount uint64) (*domain.TokenAccount, error) {
	if amount == 0 {
		return nil, apperror.Validation("amount must be positive")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.ledger.Mint(ctx, dbTx, address, amount); err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenAccountNotFound):
			return nil, apperror.ErrNotFound("token account")
		case errors.Is(err, domain.ErrBalanceOverflow):
			return nil, apperror.ErrTransferFailed(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("mint: %w", err))
	}
	acc, err := s.ledger.GetAccountForUpdate(ctx, dbTx, address)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reload token account: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("address", address.String()).Uint64("amount", amount).Msg("token account funded")
	return acc, nil
}
