package service

import (
	"context"
	"fmt"

	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
)

const statsPageSize = 500

// reportingService implements ports.ReportingService over committed state.
type reportingService struct {
	records ports.RecordRepository
	ledger  ports.TokenLedger
	deriver *derive.Deriver
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	records ports.RecordRepository,
	ledger ports.TokenLedger,
	deriver *derive.Deriver,
) ports.ReportingService {
	return &reportingService{
		records: records,
		ledger:  ledger,
		deriver: deriver,
	}
}

// GetEscrow returns the escrow keyed by paymentHash.
func (s *reportingService) GetEscrow(ctx context.Context, paymentHash domain.Hash) (*ports.EscrowView, error) {
	addr, _ := s.deriver.Escrow(paymentHash)
	rec, err := s.records.Get(ctx, addr)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if rec == nil || rec.Kind != domain.RecordKindEscrow {
		return nil, apperror.ErrNotFound("escrow")
	}

	var e domain.EscrowRecord
	if err := e.UnmarshalBinary(rec.Data); err != nil {
		return nil, apperror.ErrInvalidAccountData()
	}
	return &ports.EscrowView{Address: addr, Status: e.Status.String(), Record: e}, nil
}

// GetPolicy returns the platform policy, or the trade policy keyed by collector.
func (s *reportingService) GetPolicy(ctx context.Context, kind domain.PolicyKind, collector domain.Pubkey) (*ports.PolicyView, error) {
	addr, _ := s.deriver.Policy(kind, collector)
	rec, err := s.records.Get(ctx, addr)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if rec == nil || rec.Kind != domain.RecordKindForPolicy(kind) {
		return nil, apperror.ErrNotFound("fee policy")
	}

	var p domain.FeePolicy
	if err := p.UnmarshalBinary(rec.Data); err != nil {
		return nil, policyErrorsFor(kind).state()
	}
	return &ports.PolicyView{Kind: kind, Address: addr, Policy: p}, nil
}

// GetTokenAccount returns a committed token account.
func (s *reportingService) GetTokenAccount(ctx context.Context, address domain.Pubkey) (*domain.TokenAccount, error) {
	acc, err := s.ledger.GetAccount(ctx, address)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if acc == nil {
		return nil, apperror.ErrNotFound("token account")
	}
	return acc, nil
}

// ListTokenAccounts returns every token account held by owner.
func (s *reportingService) ListTokenAccounts(ctx context.Context, owner domain.Pubkey) ([]domain.TokenAccount, error) {
	accounts, err := s.ledger.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return accounts, nil
}

// GetDashboardStats tallies escrows by status and the value still locked.
func (s *reportingService) GetDashboardStats(ctx context.Context) (*ports.EscrowStats, error) {
	var stats ports.EscrowStats

	for offset := 0; ; offset += statsPageSize {
		page, err := s.records.ListByKind(ctx, domain.RecordKindEscrow, statsPageSize, offset)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("list escrows: %w", err))
		}
		for _, rec := range page {
			var e domain.EscrowRecord
			if err := e.UnmarshalBinary(rec.Data); err != nil {
				continue
			}
			stats.TotalEscrows++
			switch e.Status {
			case domain.EscrowStatusActive:
				stats.Active++
				stats.ValueLocked += e.Locked()
			case domain.EscrowStatusClaimed:
				stats.Claimed++
			case domain.EscrowStatusRefunded:
				stats.Refunded++
			}
		}
		if len(page) < statsPageSize {
			break
		}
	}

	platformAddr, _ := s.deriver.PlatformPolicy()
	platform, err := s.records.Get(ctx, platformAddr)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load platform policy: %w", err))
	}
	stats.PlatformPolicy = platform != nil

	trade, err := s.records.CountByKind(ctx, domain.RecordKindTradePolicy)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count trade policies: %w", err))
	}
	stats.TradePolicies = trade

	return &stats, nil
}
