package service

import (
	"testing"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	platformAuthority = principal(1)
	tradeCollector    = principal(2)
)

const (
	testPlatformBps = 100
	testTradeBps    = 50
	refundDelay     = 3600
)

func setupEscrow(t *testing.T) (*harness, escrowFixture) {
	h := newHarness(t)
	h.createPolicies(platformAuthority, testPlatformBps, tradeCollector, testTradeBps)
	f := newEscrowFixture(h, 1, tradeCollector, 10_000_000)
	return h, f
}

func TestEscrow_CreateAndClaim(t *testing.T) {
	h, f := setupEscrow(t)

	res := h.mustExec(f.payer, f.createIx(1_000_000, testPlatformBps, testTradeBps, h.now.Unix()+refundDelay), h.createAccounts(f)...)
	require.NotNil(t, res.Escrow)
	assert.Equal(t, "create_escrow", res.Instruction)
	assert.Equal(t, h.escrowAddr(f.hash), res.Escrow.Address)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, domain.TransferDeposit, res.Transfers[0].Kind)
	assert.Equal(t, uint64(1_015_000), res.Transfers[0].Amount)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventEscrowCreated, res.Events[0].Type)

	assert.Equal(t, uint64(10_000_000-1_015_000), h.balance(f.payerToken))
	assert.Equal(t, uint64(1_015_000), h.balance(h.vault(f.hash)))

	rec := h.escrowRecord(f.hash)
	assert.Equal(t, domain.EscrowStatusActive, rec.Status)
	assert.Equal(t, uint64(1_000_000), rec.NetAmount)
	assert.Equal(t, uint64(10_000), rec.PlatformFeeAmount)
	assert.Equal(t, uint64(5_000), rec.TradeFeeAmount)
	assert.Equal(t, platformAuthority, rec.PlatformFeeCollector)
	assert.Equal(t, tradeCollector, rec.TradeFeeCollector)
	assert.Equal(t, h.vault(f.hash), rec.Vault)

	claimAccts := h.claimAccounts(f)
	res = h.mustExec(f.recipient, domain.Claim{Preimage: f.preimage}, claimAccts...)
	require.Len(t, res.Transfers, 3)
	assert.Equal(t, domain.EscrowStatusClaimed, res.Escrow.Record.Status)

	assert.Equal(t, uint64(1_000_000), h.balance(claimAccts[claimAcctRecipientToken]))
	assert.Equal(t, uint64(10_000), h.balance(h.platformVault()))
	assert.Equal(t, uint64(5_000), h.balance(h.tradeVault(tradeCollector)))
	assert.Zero(t, h.balance(h.vault(f.hash)))

	rec = h.escrowRecord(f.hash)
	assert.Equal(t, domain.EscrowStatusClaimed, rec.Status)
	assert.Zero(t, rec.Locked())

	_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, claimAccts...)
	assertAppError(t, err, apperror.CodeNotActive)
	_, err = h.exec(f.refundParty, domain.Refund{}, h.refundAccounts(f)...)
	assertAppError(t, err, apperror.CodeNotActive)
}

func TestEscrow_ZeroFeesSkipFeeTransfers(t *testing.T) {
	h := newHarness(t)
	h.createPolicies(platformAuthority, 0, tradeCollector, 0)
	f := newEscrowFixture(h, 2, tradeCollector, 500)

	h.mustExec(f.payer, f.createIx(500, 0, 0, h.now.Unix()), h.createAccounts(f)...)
	assert.Zero(t, h.balance(f.payerToken))

	res := h.mustExec(f.recipient, domain.Claim{Preimage: f.preimage}, h.claimAccounts(f)...)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, domain.TransferNet, res.Transfers[0].Kind)
}

func TestEscrow_FeesRoundDown(t *testing.T) {
	h := newHarness(t)
	h.createPolicies(platformAuthority, 1, tradeCollector, 2499)
	f := newEscrowFixture(h, 3, tradeCollector, 10_000)

	h.mustExec(f.payer, f.createIx(9_999, 1, 2499, 0), h.createAccounts(f)...)

	rec := h.escrowRecord(f.hash)
	assert.Zero(t, rec.PlatformFeeAmount)
	assert.Equal(t, uint64(2498), rec.TradeFeeAmount)
	assert.Equal(t, uint64(9_999+2498), h.balance(h.vault(f.hash)))
}

func TestEscrow_RefundAfterTimeout(t *testing.T) {
	h, f := setupEscrow(t)
	refundAfter := h.now.Unix() + refundDelay
	h.mustExec(f.payer, f.createIx(1_000_000, testPlatformBps, testTradeBps, refundAfter), h.createAccounts(f)...)

	_, err := h.exec(f.refundParty, domain.Refund{}, h.refundAccounts(f)...)
	assertAppError(t, err, apperror.CodeTooEarly)
	assert.Equal(t, uint64(1_015_000), h.balance(h.vault(f.hash)))
	assert.Equal(t, domain.EscrowStatusActive, h.escrowRecord(f.hash).Status)

	h.now = h.now.Add(refundDelay * 1e9)
	res := h.mustExec(f.refundParty, domain.Refund{}, h.refundAccounts(f)...)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, domain.TransferRefund, res.Transfers[0].Kind)
	assert.Equal(t, uint64(1_015_000), res.Transfers[0].Amount)

	assert.Equal(t, uint64(10_000_000), h.balance(f.payerToken))
	assert.Zero(t, h.balance(h.platformVault()), "no fees on refund")
	assert.Zero(t, h.balance(h.tradeVault(tradeCollector)))
	rec := h.escrowRecord(f.hash)
	assert.Equal(t, domain.EscrowStatusRefunded, rec.Status)
	assert.Zero(t, rec.Locked())

	_, err = h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, h.claimAccounts(f)...)
	assertAppError(t, err, apperror.CodeNotActive)
}

func TestEscrow_RefundRejectsOtherSigner(t *testing.T) {
	h, f := setupEscrow(t)
	h.mustExec(f.payer, f.createIx(1_000, testPlatformBps, testTradeBps, 0), h.createAccounts(f)...)

	accts := h.refundAccounts(f)
	accts[refundAcctRefundParty] = f.recipient
	_, err := h.exec(f.recipient, domain.Refund{}, accts...)
	assertAppError(t, err, apperror.CodeInvalidSigner)
}

func TestEscrow_ClaimRejections(t *testing.T) {
	h, f := setupEscrow(t)
	h.mustExec(f.payer, f.createIx(1_000_000, testPlatformBps, testTradeBps, 0), h.createAccounts(f)...)
	good := h.claimAccounts(f)

	t.Run("wrong preimage", func(t *testing.T) {
		bad := f.preimage
		bad[0] ^= 0xFF
		_, err := h.exec(f.recipient, domain.Claim{Preimage: bad}, good...)
		assertAppError(t, err, apperror.CodeInvalidPreimage)
	})

	t.Run("signer is not recipient", func(t *testing.T) {
		accts := append([]domain.Pubkey(nil), good...)
		accts[claimAcctRecipient] = f.payer
		_, err := h.exec(f.payer, domain.Claim{Preimage: f.preimage}, accts...)
		assertAppError(t, err, apperror.CodeInvalidSigner)
	})

	t.Run("signer differs from first account", func(t *testing.T) {
		_, err := h.exec(f.payer, domain.Claim{Preimage: f.preimage}, good...)
		assertAppError(t, err, apperror.CodeInvalidSigner)
	})

	t.Run("wrong vault", func(t *testing.T) {
		accts := append([]domain.Pubkey(nil), good...)
		accts[claimAcctVault] = f.payerToken
		_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, accts...)
		assertAppError(t, err, apperror.CodeInvalidVaultAta)
	})

	t.Run("unknown escrow", func(t *testing.T) {
		accts := append([]domain.Pubkey(nil), good...)
		accts[claimAcctEscrow] = principal(99)
		_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, accts...)
		assertAppError(t, err, apperror.CodeInvalidAccountData)
	})

	t.Run("recipient token owned by someone else", func(t *testing.T) {
		accts := append([]domain.Pubkey(nil), good...)
		accts[claimAcctRecipientToken] = f.payerToken
		_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, accts...)
		assertAppError(t, err, apperror.CodeInvalidTokenAccount)
	})

	t.Run("wrong platform fee vault", func(t *testing.T) {
		accts := append([]domain.Pubkey(nil), good...)
		accts[claimAcctPlatformFeeVault] = h.tradeVault(tradeCollector)
		_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, accts...)
		assertAppError(t, err, apperror.CodeInvalidFeeVaultAta)
	})

	t.Run("wrong trade fee vault", func(t *testing.T) {
		accts := append([]domain.Pubkey(nil), good...)
		accts[claimAcctTradeFeeVault] = h.platformVault()
		_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, accts...)
		assertAppError(t, err, apperror.CodeInvalidTradeFeeVaultAta)
	})

	t.Run("too few accounts", func(t *testing.T) {
		_, err := h.exec(f.recipient, domain.Claim{Preimage: f.preimage}, good[:5]...)
		assertAppError(t, err, apperror.CodeInvalidInstruction)
	})

	assert.Equal(t, uint64(1_015_000), h.balance(h.vault(f.hash)), "rejected claims move nothing")
	h.mustExec(f.recipient, domain.Claim{Preimage: f.preimage}, good...)
}

// Claims pay the collectors snapshotted at creation even after the trade
// policy is repointed.
func TestEscrow_ClaimUsesSnapshotCollectors(t *testing.T) {
	h, f := setupEscrow(t)
	h.mustExec(f.payer, f.createIx(1_000_000, testPlatformBps, testTradeBps, 0), h.createAccounts(f)...)

	h.mustExec(tradeCollector,
		domain.UpdatePolicy{Kind: domain.PolicyKindTrade, FeeCollector: principal(77), FeeBps: 0},
		tradeCollector, h.tradeAddr(tradeCollector))
	h.mustExec(platformAuthority,
		domain.UpdatePolicy{Kind: domain.PolicyKindPlatform, FeeCollector: principal(78), FeeBps: 2000},
		platformAuthority, h.platformAddr())

	h.mustExec(f.recipient, domain.Claim{Preimage: f.preimage}, h.claimAccounts(f)...)
	assert.Equal(t, uint64(10_000), h.balance(h.platformVault()))
	assert.Equal(t, uint64(5_000), h.balance(h.tradeVault(tradeCollector)))
}

func TestEscrow_CreateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(h *harness, f escrowFixture, ix *domain.CreateEscrow, accts []domain.Pubkey)
		signer func(f escrowFixture) domain.Pubkey
		code   string
	}{
		{
			name:   "payer not signer",
			signer: func(f escrowFixture) domain.Pubkey { return f.recipient },
			code:   apperror.CodeInvalidSigner,
		},
		{
			name: "wrong escrow address",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctEscrow] = principal(90)
			},
			code: apperror.CodeInvalidEscrowPda,
		},
		{
			name: "wrong platform policy address",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctPlatformPolicy] = h.tradeAddr(tradeCollector)
			},
			code: apperror.CodeInvalidConfigPda,
		},
		{
			name: "platform fee mismatch",
			mutate: func(h *harness, f escrowFixture, ix *domain.CreateEscrow, _ []domain.Pubkey) {
				ix.ExpectedPlatformFeeBps = testPlatformBps + 1
			},
			code: apperror.CodeFeeMismatch,
		},
		{
			name: "wrong vault",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctVault] = f.payerToken
			},
			code: apperror.CodeInvalidVaultAta,
		},
		{
			name: "trade policy for another collector",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctTradePolicy] = h.tradeAddr(principal(91))
			},
			code: apperror.CodeInvalidTradeConfigPda,
		},
		{
			name: "trade policy absent",
			mutate: func(h *harness, f escrowFixture, ix *domain.CreateEscrow, a []domain.Pubkey) {
				ix.TradeFeeCollector = principal(91)
				a[createAcctTradePolicy] = h.tradeAddr(principal(91))
			},
			code: apperror.CodeInvalidTradeConfigState,
		},
		{
			name: "trade fee mismatch",
			mutate: func(h *harness, f escrowFixture, ix *domain.CreateEscrow, _ []domain.Pubkey) {
				ix.ExpectedTradeFeeBps = 0
			},
			code: apperror.CodeFeeMismatch,
		},
		{
			name: "wrong platform fee vault",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctPlatformFeeVault] = h.tradeVault(tradeCollector)
			},
			code: apperror.CodeInvalidFeeVaultAta,
		},
		{
			name: "wrong trade fee vault",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctTradeFeeVault] = h.platformVault()
			},
			code: apperror.CodeInvalidTradeFeeVaultAta,
		},
		{
			name: "payer token of another mint",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				acc, err := h.admin.OpenAccount(h.ctx, f.payer, principal(101))
				require.NoError(h.t, err)
				a[createAcctPayerToken] = acc.Address
			},
			code: apperror.CodeInvalidTokenAccount,
		},
		{
			name: "insufficient balance",
			mutate: func(h *harness, f escrowFixture, ix *domain.CreateEscrow, _ []domain.Pubkey) {
				ix.Amount = 9_900_000
			},
			code: apperror.CodeInvalidTokenAccount,
		},
		{
			name: "fee overflow",
			mutate: func(h *harness, f escrowFixture, ix *domain.CreateEscrow, _ []domain.Pubkey) {
				ix.Amount = ^uint64(0)
			},
			code: apperror.CodeInvalidInstruction,
		},
		{
			name: "zeroed trade fee vault",
			mutate: func(h *harness, f escrowFixture, _ *domain.CreateEscrow, a []domain.Pubkey) {
				a[createAcctTradeFeeVault] = domain.Pubkey{}
			},
			code: apperror.CodeInvalidTradeFeeVaultAta,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, f := setupEscrow(t)
			ix := f.createIx(1_000_000, testPlatformBps, testTradeBps, 0)
			accts := h.createAccounts(f)
			if tc.mutate != nil {
				tc.mutate(h, f, &ix, accts)
			}
			signer := f.payer
			if tc.signer != nil {
				signer = tc.signer(f)
			}

			_, err := h.exec(signer, ix, accts...)
			assertAppError(t, err, tc.code)

			assert.Equal(t, uint64(10_000_000), h.balance(f.payerToken), "rejected create moves nothing")
			_, err = h.report.GetEscrow(h.ctx, f.hash)
			assertAppError(t, err, "REQ_404")
		})
	}
}

func TestEscrow_CreateMissingAccounts(t *testing.T) {
	h, f := setupEscrow(t)
	accts := h.createAccounts(f)

	_, err := h.exec(f.payer, f.createIx(1_000, testPlatformBps, testTradeBps, 0), accts[:createAcctCount-1]...)
	assertAppError(t, err, apperror.CodeInvalidInstruction)
}

func TestEscrow_CreateTwice(t *testing.T) {
	h, f := setupEscrow(t)
	ix := f.createIx(1_000, testPlatformBps, testTradeBps, 0)
	h.mustExec(f.payer, ix, h.createAccounts(f)...)

	_, err := h.exec(f.payer, ix, h.createAccounts(f)...)
	assertAppError(t, err, apperror.CodeAlreadyInitialized)
	assert.Equal(t, uint64(1_015), h.balance(h.vault(f.hash)))
}

func TestEscrow_CombinedFeeCeiling(t *testing.T) {
	h := newHarness(t)
	h.createPolicies(platformAuthority, 2000, tradeCollector, 501)
	f := newEscrowFixture(h, 4, tradeCollector, 1_000_000)

	_, err := h.exec(f.payer, f.createIx(1_000, 2000, 501, 0), h.createAccounts(f)...)
	assertAppError(t, err, apperror.CodeFeeTooHigh)
}

func TestEscrow_PlatformPolicyMissing(t *testing.T) {
	h := newHarness(t)
	h.mustExec(tradeCollector,
		domain.CreatePolicy{Kind: domain.PolicyKindTrade, FeeCollector: tradeCollector, FeeBps: testTradeBps},
		tradeCollector, h.tradeAddr(tradeCollector))
	f := newEscrowFixture(h, 5, tradeCollector, 1_000_000)

	_, err := h.exec(f.payer, f.createIx(1_000, testPlatformBps, testTradeBps, 0), h.createAccounts(f)...)
	assertAppError(t, err, apperror.CodeInvalidConfigState)
}

// The trade policy must still be collected by its authority for new escrows.
func TestEscrow_TradePolicyRepointed(t *testing.T) {
	h, f := setupEscrow(t)
	h.mustExec(tradeCollector,
		domain.UpdatePolicy{Kind: domain.PolicyKindTrade, FeeCollector: principal(77), FeeBps: testTradeBps},
		tradeCollector, h.tradeAddr(tradeCollector))

	_, err := h.exec(f.payer, f.createIx(1_000, testPlatformBps, testTradeBps, 0), h.createAccounts(f)...)
	assertAppError(t, err, apperror.CodeInvalidTradeConfigState)
}
