package service

import (
	"context"
	"encoding"
	"errors"
	"fmt"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
)

// recordStore wraps RecordRepository with the layout encoding and rent
// bookkeeping shared by escrow and fee policy handlers.
type recordStore struct {
	repo            ports.RecordRepository
	lamportsPerByte uint64
}

func newRecordStore(repo ports.RecordRepository, lamportsPerByte uint64) *recordStore {
	if lamportsPerByte == 0 {
		lamportsPerByte = domain.DefaultLamportsPerByte
	}
	return &recordStore{repo: repo, lamportsPerByte: lamportsPerByte}
}

func (s *recordStore) load(ctx context.Context, inv *Invocation, addr domain.Pubkey) (*domain.Record, error) {
	rec, err := s.repo.GetForUpdate(ctx, inv.Tx, addr)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("load record %s: %w", addr, err))
	}
	return rec, nil
}

func (s *recordStore) create(ctx context.Context, inv *Invocation, addr domain.Pubkey, kind domain.RecordKind, v encoding.BinaryMarshaler) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return apperror.InternalError(fmt.Errorf("encode %s record: %w", kind, err))
	}
	rec := &domain.Record{
		Address:     addr,
		Kind:        kind,
		Data:        data,
		RentReserve: domain.RentReserve(len(data), s.lamportsPerByte),
		CreatedAt:   inv.Now,
		UpdatedAt:   inv.Now,
	}
	if err := s.repo.Create(ctx, inv.Tx, rec); err != nil {
		if errors.Is(err, domain.ErrRecordExists) {
			return apperror.ErrAlreadyInitialized()
		}
		return storageFailure(fmt.Errorf("create %s record: %w", kind, err))
	}
	return nil
}

func (s *recordStore) update(ctx context.Context, inv *Invocation, addr domain.Pubkey, v encoding.BinaryMarshaler) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return apperror.InternalError(fmt.Errorf("encode record %s: %w", addr, err))
	}
	if err := s.repo.UpdateData(ctx, inv.Tx, addr, data); err != nil {
		return storageFailure(fmt.Errorf("update record %s: %w", addr, err))
	}
	return nil
}

// storageFailure reports a driver error. Lock timeouts become SYS_002 so the
// client knows to retry.
func storageFailure(err error) *apperror.AppError {
	if errors.Is(err, domain.ErrLockTimeout) {
		return apperror.ErrLockTimeout(err)
	}
	return apperror.ErrDatabaseError(err)
}

// escrow loads the escrow record at addr. Absent or undecodable records
// are reported as InvalidAccountData.
func (s *recordStore) escrow(ctx context.Context, inv *Invocation, addr domain.Pubkey) (*domain.EscrowRecord, error) {
	rec, err := s.load(ctx, inv, addr)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Kind != domain.RecordKindEscrow {
		return nil, apperror.ErrInvalidAccountData()
	}
	var e domain.EscrowRecord
	if err := e.UnmarshalBinary(rec.Data); err != nil {
		return nil, apperror.ErrInvalidAccountData()
	}
	return &e, nil
}

// policy loads a fee policy and checks its version and derivation nonce.
// Any mismatch, including an absent record, is the kind's state error.
func (s *recordStore) policy(ctx context.Context, inv *Invocation, kind domain.PolicyKind, addr domain.Pubkey, bump uint8) (*domain.FeePolicy, error) {
	rec, err := s.load(ctx, inv, addr)
	if err != nil {
		return nil, err
	}
	stateErr := policyErrorsFor(kind).state
	if rec == nil || rec.Kind != domain.RecordKindForPolicy(kind) {
		return nil, stateErr()
	}
	var p domain.FeePolicy
	if err := p.UnmarshalBinary(rec.Data); err != nil {
		return nil, stateErr()
	}
	if p.Version != domain.FeePolicyVersion || p.Bump != bump {
		return nil, stateErr()
	}
	return &p, nil
}

// policyErrors holds the kind-specific conditions reported by policy checks.
type policyErrors struct {
	address func() *apperror.AppError
	state   func() *apperror.AppError
	vault   func() *apperror.AppError
}

func policyErrorsFor(kind domain.PolicyKind) policyErrors {
	if kind == domain.PolicyKindTrade {
		return policyErrors{
			address: apperror.ErrInvalidTradeConfigPda,
			state:   apperror.ErrInvalidTradeConfigState,
			vault:   apperror.ErrInvalidTradeFeeVaultAta,
		}
	}
	return policyErrors{
		address: apperror.ErrInvalidConfigPda,
		state:   apperror.ErrInvalidConfigState,
		vault:   apperror.ErrInvalidFeeVaultAta,
	}
}
