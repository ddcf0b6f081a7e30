package service

import (
	"context"
	"crypto/sha256"
	"strconv"

	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"

	"github.com/rs/zerolog"
)

// Account positions for create escrow.
const (
	createAcctPayer = iota
	createAcctPayerToken
	createAcctEscrow
	createAcctVault
	createAcctMint
	createAcctPlatformPolicy
	createAcctPlatformFeeVault
	createAcctTradePolicy
	createAcctTradeFeeVault
	createAcctCount
)

// Account positions for claim.
const (
	claimAcctRecipient = iota
	claimAcctEscrow
	claimAcctVault
	claimAcctRecipientToken
	claimAcctPlatformFeeVault
	claimAcctTradeFeeVault
	claimAcctCount
)

// Account positions for refund.
const (
	refundAcctRefundParty = iota
	refundAcctEscrow
	refundAcctVault
	refundAcctRefundToken
	refundAcctCount
)

// EscrowService runs the escrow lifecycle: create, claim and refund.
type EscrowService struct {
	records *recordStore
	gateway *TokenGateway
	deriver *derive.Deriver
	log     zerolog.Logger
}

// NewEscrowService creates a new EscrowService.
func NewEscrowService(records ports.RecordRepository, gateway *TokenGateway, deriver *derive.Deriver, lamportsPerByte uint64, log zerolog.Logger) *EscrowService {
	return &EscrowService{
		records: newRecordStore(records, lamportsPerByte),
		gateway: gateway,
		deriver: deriver,
		log:     log,
	}
}

// Create validates both fee policies against the depositor's expected
// rates and locks amount plus both fees in the escrow vault.
func (s *EscrowService) Create(ctx context.Context, inv *Invocation, ix domain.CreateEscrow) error {
	if err := inv.requireAccounts(createAcctCount); err != nil {
		return err
	}
	if err := inv.requireSigner(createAcctPayer); err != nil {
		return err
	}
	acct := inv.Accounts
	payer := inv.Signer
	mint := acct[createAcctMint]

	escrowAddr, escrowBump := s.deriver.Escrow(ix.PaymentHash)
	if acct[createAcctEscrow] != escrowAddr {
		return apperror.ErrInvalidEscrowPda()
	}
	existing, err := s.records.load(ctx, inv, escrowAddr)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperror.ErrAlreadyInitialized()
	}

	platformAddr, platformBump := s.deriver.PlatformPolicy()
	if acct[createAcctPlatformPolicy] != platformAddr {
		return apperror.ErrInvalidConfigPda()
	}
	platform, err := s.records.policy(ctx, inv, domain.PolicyKindPlatform, platformAddr, platformBump)
	if err != nil {
		return err
	}
	if platform.FeeBps > domain.MaxFeeBps {
		return apperror.ErrFeeTooHigh()
	}
	if platform.FeeBps != ix.ExpectedPlatformFeeBps {
		return apperror.ErrFeeMismatch()
	}

	vaultAddr := s.deriver.TokenAccount(escrowAddr, mint)
	if acct[createAcctVault] != vaultAddr {
		return apperror.ErrInvalidVaultAta()
	}

	tradeAddr, tradeBump := s.deriver.TradePolicy(ix.TradeFeeCollector)
	if acct[createAcctTradePolicy] != tradeAddr {
		return apperror.ErrInvalidTradeConfigPda()
	}
	trade, err := s.records.policy(ctx, inv, domain.PolicyKindTrade, tradeAddr, tradeBump)
	if err != nil {
		return err
	}
	if trade.FeeBps > domain.MaxFeeBps {
		return apperror.ErrFeeTooHigh()
	}
	if trade.FeeCollector != ix.TradeFeeCollector || trade.Authority != ix.TradeFeeCollector {
		return apperror.ErrInvalidTradeConfigState()
	}
	if trade.FeeBps != ix.ExpectedTradeFeeBps {
		return apperror.ErrFeeMismatch()
	}
	if uint32(platform.FeeBps)+uint32(trade.FeeBps) > uint32(domain.MaxFeeBps) {
		return apperror.ErrFeeTooHigh()
	}

	if acct[createAcctPlatformFeeVault] != s.deriver.TokenAccount(platformAddr, mint) {
		return apperror.ErrInvalidFeeVaultAta()
	}
	if _, err := s.gateway.EnsureAssociated(ctx, inv, platformAddr, mint); err != nil {
		return err
	}
	if acct[createAcctTradeFeeVault] != s.deriver.TokenAccount(tradeAddr, mint) {
		return apperror.ErrInvalidTradeFeeVaultAta()
	}
	if _, err := s.gateway.EnsureAssociated(ctx, inv, tradeAddr, mint); err != nil {
		return err
	}

	payerToken, err := s.gateway.ValidAccount(ctx, inv, acct[createAcctPayerToken], payer, mint)
	if err != nil {
		return err
	}

	split, err := domain.SplitFees(ix.Amount, platform.FeeBps, trade.FeeBps)
	if err != nil {
		return apperror.ErrInvalidInstruction()
	}
	if payerToken.Amount < split.Total {
		return apperror.ErrInvalidTokenAccount()
	}

	record := &domain.EscrowRecord{
		Version:              domain.EscrowVersion,
		Status:               domain.EscrowStatusActive,
		PaymentHash:          ix.PaymentHash,
		Recipient:            ix.Recipient,
		RefundParty:          ix.RefundParty,
		RefundAfter:          ix.RefundAfter,
		Mint:                 mint,
		NetAmount:            split.Net,
		PlatformFeeAmount:    split.PlatformFee,
		PlatformFeeBps:       platform.FeeBps,
		PlatformFeeCollector: platform.FeeCollector,
		TradeFeeAmount:       split.TradeFee,
		TradeFeeBps:          trade.FeeBps,
		TradeFeeCollector:    ix.TradeFeeCollector,
		Vault:                vaultAddr,
		Bump:                 escrowBump,
	}
	if _, err := s.gateway.EnsureAssociated(ctx, inv, escrowAddr, mint); err != nil {
		return err
	}
	if err := s.gateway.Transfer(ctx, inv, domain.TransferDeposit, payerToken.Address, vaultAddr, payer, split.Total); err != nil {
		return err
	}
	if err := s.records.create(ctx, inv, escrowAddr, domain.RecordKindEscrow, record); err != nil {
		return err
	}

	inv.Result.Escrow = &ports.EscrowView{Address: escrowAddr, Status: record.Status.String(), Record: *record}
	attrs := escrowAttrs(escrowAddr, record)
	attrs["payer"] = payer.String()
	attrs["total"] = strconv.FormatUint(split.Total, 10)
	inv.emit(domain.EventEscrowCreated, attrs)
	s.log.Info().
		Str("escrow", escrowAddr.String()).
		Str("payment_hash", ix.PaymentHash.String()).
		Uint64("net_amount", split.Net).
		Uint64("platform_fee", split.PlatformFee).
		Uint64("trade_fee", split.TradeFee).
		Msg("escrow created")
	return nil
}

// Claim pays the recipient and both fee vaults once the preimage of the
// payment hash is revealed. Fee vaults are checked against the collectors
// snapshotted at creation, not the current policies.
func (s *EscrowService) Claim(ctx context.Context, inv *Invocation, ix domain.Claim) error {
	if err := inv.requireAccounts(claimAcctCount); err != nil {
		return err
	}
	if err := inv.requireSigner(claimAcctRecipient); err != nil {
		return err
	}
	acct := inv.Accounts
	escrowAddr := acct[claimAcctEscrow]

	record, err := s.records.escrow(ctx, inv, escrowAddr)
	if err != nil {
		return err
	}
	if !record.IsActive() {
		return apperror.ErrNotActive()
	}
	if inv.Signer != record.Recipient {
		return apperror.ErrInvalidSigner()
	}
	if acct[claimAcctVault] != record.Vault {
		return apperror.ErrInvalidVaultAta()
	}
	if domain.Hash(sha256.Sum256(ix.Preimage[:])) != record.PaymentHash {
		return apperror.ErrInvalidPreimage()
	}

	vault, err := s.gateway.ValidAccount(ctx, inv, record.Vault, domain.Pubkey{}, record.Mint)
	if err != nil {
		return err
	}
	recipientToken := acct[claimAcctRecipientToken]
	if _, err := s.gateway.ValidAccount(ctx, inv, recipientToken, record.Recipient, record.Mint); err != nil {
		return err
	}
	if err := s.checkEscrowAddress(escrowAddr, record); err != nil {
		return err
	}
	if vault.Owner != escrowAddr {
		return apperror.ErrInvalidTokenAccount()
	}

	platformAddr, _ := s.deriver.PlatformPolicy()
	platformVault := acct[claimAcctPlatformFeeVault]
	if platformVault != s.deriver.TokenAccount(platformAddr, record.Mint) {
		return apperror.ErrInvalidFeeVaultAta()
	}
	if _, err := s.gateway.ValidAccount(ctx, inv, platformVault, platformAddr, record.Mint); err != nil {
		return err
	}

	tradeAddr, _ := s.deriver.TradePolicy(record.TradeFeeCollector)
	tradeVault := acct[claimAcctTradeFeeVault]
	if tradeVault != s.deriver.TokenAccount(tradeAddr, record.Mint) {
		return apperror.ErrInvalidTradeFeeVaultAta()
	}
	if _, err := s.gateway.ValidAccount(ctx, inv, tradeVault, tradeAddr, record.Mint); err != nil {
		return err
	}

	if err := s.gateway.Transfer(ctx, inv, domain.TransferNet, record.Vault, recipientToken, escrowAddr, record.NetAmount); err != nil {
		return err
	}
	if record.PlatformFeeAmount > 0 {
		if err := s.gateway.Transfer(ctx, inv, domain.TransferPlatformFee, record.Vault, platformVault, escrowAddr, record.PlatformFeeAmount); err != nil {
			return err
		}
	}
	if record.TradeFeeAmount > 0 {
		if err := s.gateway.Transfer(ctx, inv, domain.TransferTradeFee, record.Vault, tradeVault, escrowAddr, record.TradeFeeAmount); err != nil {
			return err
		}
	}

	attrs := escrowAttrs(escrowAddr, record)
	attrs["preimage"] = ix.Preimage.String()
	record.Close(domain.EscrowStatusClaimed)
	if err := s.records.update(ctx, inv, escrowAddr, record); err != nil {
		return err
	}

	inv.Result.Escrow = &ports.EscrowView{Address: escrowAddr, Status: record.Status.String(), Record: *record}
	inv.emit(domain.EventEscrowClaimed, attrs)
	s.log.Info().
		Str("escrow", escrowAddr.String()).
		Str("recipient", record.Recipient.String()).
		Msg("escrow claimed")
	return nil
}

// Refund returns the whole vault balance to the refund party once the
// refund time has passed. No fees are collected.
func (s *EscrowService) Refund(ctx context.Context, inv *Invocation, _ domain.Refund) error {
	if err := inv.requireAccounts(refundAcctCount); err != nil {
		return err
	}
	if err := inv.requireSigner(refundAcctRefundParty); err != nil {
		return err
	}
	acct := inv.Accounts
	escrowAddr := acct[refundAcctEscrow]

	record, err := s.records.escrow(ctx, inv, escrowAddr)
	if err != nil {
		return err
	}
	if !record.IsActive() {
		return apperror.ErrNotActive()
	}
	if inv.Signer != record.RefundParty {
		return apperror.ErrInvalidSigner()
	}
	if acct[refundAcctVault] != record.Vault {
		return apperror.ErrInvalidVaultAta()
	}
	if inv.Now.Unix() < record.RefundAfter {
		return apperror.ErrTooEarly()
	}

	vault, err := s.gateway.ValidAccount(ctx, inv, record.Vault, domain.Pubkey{}, record.Mint)
	if err != nil {
		return err
	}
	refundToken := acct[refundAcctRefundToken]
	if _, err := s.gateway.ValidAccount(ctx, inv, refundToken, record.RefundParty, record.Mint); err != nil {
		return err
	}
	if err := s.checkEscrowAddress(escrowAddr, record); err != nil {
		return err
	}
	if vault.Owner != escrowAddr {
		return apperror.ErrInvalidTokenAccount()
	}

	locked := record.Locked()
	if err := s.gateway.Transfer(ctx, inv, domain.TransferRefund, record.Vault, refundToken, escrowAddr, locked); err != nil {
		return err
	}

	attrs := escrowAttrs(escrowAddr, record)
	attrs["refunded"] = strconv.FormatUint(locked, 10)
	record.Close(domain.EscrowStatusRefunded)
	if err := s.records.update(ctx, inv, escrowAddr, record); err != nil {
		return err
	}

	inv.Result.Escrow = &ports.EscrowView{Address: escrowAddr, Status: record.Status.String(), Record: *record}
	inv.emit(domain.EventEscrowRefunded, attrs)
	s.log.Info().
		Str("escrow", escrowAddr.String()).
		Str("refund_party", record.RefundParty.String()).
		Uint64("amount", locked).
		Msg("escrow refunded")
	return nil
}

func (s *EscrowService) checkEscrowAddress(addr domain.Pubkey, record *domain.EscrowRecord) error {
	expected, bump := s.deriver.Escrow(record.PaymentHash)
	if addr != expected || bump != record.Bump {
		return apperror.ErrInvalidEscrowPda()
	}
	return nil
}

func escrowAttrs(addr domain.Pubkey, e *domain.EscrowRecord) map[string]string {
	return map[string]string{
		"escrow":              addr.String(),
		"payment_hash":        e.PaymentHash.String(),
		"recipient":           e.Recipient.String(),
		"refund_party":        e.RefundParty.String(),
		"mint":                e.Mint.String(),
		"net_amount":          strconv.FormatUint(e.NetAmount, 10),
		"platform_fee_amount": strconv.FormatUint(e.PlatformFeeAmount, 10),
		"trade_fee_amount":    strconv.FormatUint(e.TradeFeeAmount, 10),
	}
}
