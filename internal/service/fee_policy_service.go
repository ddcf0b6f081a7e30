package service

import (
	"context"
	"strconv"

	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"

	"github.com/rs/zerolog"
)

// Account positions for policy instructions.
const (
	policyAcctAuthority = 0
	policyAcctPolicy    = 1
	policyAcctFeeVault  = 2
	policyAcctDest      = 3
)

// FeePolicyService runs the create, update and withdraw lifecycle shared
// by the platform and trade fee policies.
type FeePolicyService struct {
	records *recordStore
	gateway *TokenGateway
	deriver *derive.Deriver
	log     zerolog.Logger
}

// NewFeePolicyService creates a new FeePolicyService.
func NewFeePolicyService(records ports.RecordRepository, gateway *TokenGateway, deriver *derive.Deriver, lamportsPerByte uint64, log zerolog.Logger) *FeePolicyService {
	return &FeePolicyService{
		records: newRecordStore(records, lamportsPerByte),
		gateway: gateway,
		deriver: deriver,
		log:     log,
	}
}

// Create registers a policy owned by the signer, who must also be the
// initial fee collector.
func (s *FeePolicyService) Create(ctx context.Context, inv *Invocation, ix domain.CreatePolicy) error {
	if err := inv.requireAccounts(2); err != nil {
		return err
	}
	if err := inv.requireSigner(policyAcctAuthority); err != nil {
		return err
	}
	if ix.FeeBps > domain.MaxFeeBps {
		return apperror.ErrFeeTooHigh()
	}
	if inv.Signer != ix.FeeCollector {
		return apperror.ErrInvalidSigner()
	}

	errs := policyErrorsFor(ix.Kind)
	addr, bump := s.deriver.Policy(ix.Kind, ix.FeeCollector)
	if inv.Accounts[policyAcctPolicy] != addr {
		return errs.address()
	}

	existing, err := s.records.load(ctx, inv, addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperror.ErrAlreadyInitialized()
	}

	policy := &domain.FeePolicy{
		Version:      domain.FeePolicyVersion,
		Authority:    inv.Signer,
		FeeCollector: ix.FeeCollector,
		FeeBps:       ix.FeeBps,
		Bump:         bump,
	}
	if err := s.records.create(ctx, inv, addr, domain.RecordKindForPolicy(ix.Kind), policy); err != nil {
		return err
	}

	inv.Result.Policy = &ports.PolicyView{Kind: ix.Kind, Address: addr, Policy: *policy}
	inv.emit(domain.EventFeePolicyCreated, policyAttrs(ix.Kind, addr, policy))
	s.log.Info().
		Str("kind", string(ix.Kind)).
		Str("address", addr.String()).
		Uint16("fee_bps", ix.FeeBps).
		Msg("fee policy created")
	return nil
}

// Update changes the collector and rate. Only the stored authority may
// update; the policy address stays keyed by that authority.
func (s *FeePolicyService) Update(ctx context.Context, inv *Invocation, ix domain.UpdatePolicy) error {
	if err := inv.requireAccounts(2); err != nil {
		return err
	}
	if err := inv.requireSigner(policyAcctAuthority); err != nil {
		return err
	}
	if ix.FeeBps > domain.MaxFeeBps {
		return apperror.ErrFeeTooHigh()
	}

	addr, policy, err := s.loadOwned(ctx, inv, ix.Kind)
	if err != nil {
		return err
	}

	policy.FeeCollector = ix.FeeCollector
	policy.FeeBps = ix.FeeBps
	if err := s.records.update(ctx, inv, addr, policy); err != nil {
		return err
	}

	inv.Result.Policy = &ports.PolicyView{Kind: ix.Kind, Address: addr, Policy: *policy}
	inv.emit(domain.EventFeePolicyUpdated, policyAttrs(ix.Kind, addr, policy))
	s.log.Info().
		Str("kind", string(ix.Kind)).
		Str("address", addr.String()).
		Str("fee_collector", ix.FeeCollector.String()).
		Uint16("fee_bps", ix.FeeBps).
		Msg("fee policy updated")
	return nil
}

// Withdraw moves accrued fees from the policy's fee vault to a token
// account of the collector. The signer must be both authority and collector.
func (s *FeePolicyService) Withdraw(ctx context.Context, inv *Invocation, ix domain.WithdrawFees) error {
	if err := inv.requireAccounts(4); err != nil {
		return err
	}
	if err := inv.requireSigner(policyAcctAuthority); err != nil {
		return err
	}

	addr, policy, err := s.loadOwned(ctx, inv, ix.Kind)
	if err != nil {
		return err
	}
	if policy.FeeCollector != inv.Signer {
		return apperror.ErrInvalidSigner()
	}

	vaultAddr := inv.Accounts[policyAcctFeeVault]
	vault, err := s.gateway.Account(ctx, inv, vaultAddr)
	if err != nil {
		return err
	}
	if vault == nil || vault.Owner != addr {
		return apperror.ErrInvalidTokenAccount()
	}
	if vaultAddr != s.deriver.TokenAccount(addr, vault.Mint) {
		return policyErrorsFor(ix.Kind).vault()
	}

	dest := inv.Accounts[policyAcctDest]
	if _, err := s.gateway.ValidAccount(ctx, inv, dest, policy.FeeCollector, vault.Mint); err != nil {
		return err
	}

	amount := ix.Amount
	if amount == 0 {
		amount = vault.Amount
	}
	if amount > vault.Amount {
		return apperror.ErrInvalidInstruction()
	}

	inv.Result.Policy = &ports.PolicyView{Kind: ix.Kind, Address: addr, FeeVault: &vaultAddr, Policy: *policy}
	if amount == 0 {
		return nil
	}

	if err := s.gateway.Transfer(ctx, inv, domain.TransferWithdraw, vaultAddr, dest, addr, amount); err != nil {
		return err
	}

	attrs := policyAttrs(ix.Kind, addr, policy)
	attrs["fee_vault"] = vaultAddr.String()
	attrs["destination"] = dest.String()
	attrs["amount"] = strconv.FormatUint(amount, 10)
	inv.emit(domain.EventFeePolicyWithdraw, attrs)
	s.log.Info().
		Str("kind", string(ix.Kind)).
		Str("address", addr.String()).
		Uint64("amount", amount).
		Msg("fees withdrawn")
	return nil
}

// loadOwned derives the policy address from the signer, validates the
// supplied address and stored state, and requires the signer to be the
// stored authority.
func (s *FeePolicyService) loadOwned(ctx context.Context, inv *Invocation, kind domain.PolicyKind) (domain.Pubkey, *domain.FeePolicy, error) {
	addr, bump := s.deriver.Policy(kind, inv.Signer)
	if inv.Accounts[policyAcctPolicy] != addr {
		return domain.Pubkey{}, nil, policyErrorsFor(kind).address()
	}
	policy, err := s.records.policy(ctx, inv, kind, addr, bump)
	if err != nil {
		return domain.Pubkey{}, nil, err
	}
	if policy.Authority != inv.Signer {
		return domain.Pubkey{}, nil, apperror.ErrInvalidSigner()
	}
	return addr, policy, nil
}

func policyAttrs(kind domain.PolicyKind, addr domain.Pubkey, p *domain.FeePolicy) map[string]string {
	return map[string]string{
		"kind":          string(kind),
		"address":       addr.String(),
		"authority":     p.Authority.String(),
		"fee_collector": p.FeeCollector.String(),
		"fee_bps":       strconv.FormatUint(uint64(p.FeeBps), 10),
	}
}
