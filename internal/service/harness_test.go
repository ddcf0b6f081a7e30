package service

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"htlc-escrow/internal/adapter/storage/memory"
	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"

	"github.com/stretchr/testify/require"
)

// principal returns a deterministic ed25519 identity.
func principal(b byte) domain.Pubkey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	seed[31] = 0xA5
	var p domain.Pubkey
	copy(p[:], ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	return p
}

// mapCache is an in-process ports.IdempotencyCache.
type mapCache struct {
	mu sync.Mutex
	m  map[string]domain.IdempotencyLog
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string]domain.IdempotencyLog)} }

func (c *mapCache) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log, ok := c.m[key]
	if !ok {
		return nil, nil
	}
	return &log, nil
}

func (c *mapCache) Set(_ context.Context, log *domain.IdempotencyLog, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[log.Key] = *log
	return nil
}

// harness wires the processor to the in-memory store.
type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	ledger  *memory.TokenLedger
	records *memory.RecordRepo
	deriver *derive.Deriver
	admin   ports.LedgerAdminService
	report  ports.ReportingService
	cache   *mapCache
	proc    *Processor
	now     time.Time
	mint    domain.Pubkey
}

// harnessOption replaces the storage the instruction handlers see, leaving
// the harness's own reads on the underlying store.
type harnessOption func(ledger *ports.TokenLedger, records *ports.RecordRepository)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store := memory.NewStore()
	ledger := memory.NewTokenLedger(store)
	records := memory.NewRecordRepo(store)
	transactor := memory.NewTransactor(store)
	deriver := derive.NewDeriver(principal(200), principal(201), principal(202))
	log := newTestLogger()

	var handlerLedger ports.TokenLedger = ledger
	var handlerRecords ports.RecordRepository = records
	for _, opt := range opts {
		opt(&handlerLedger, &handlerRecords)
	}
	gateway := NewTokenGateway(handlerLedger, deriver)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		ledger:  ledger,
		records: records,
		deriver: deriver,
		admin:   NewLedgerAdminService(ledger, transactor, deriver, log),
		report:  NewReportingService(records, ledger, deriver),
		cache:   newMapCache(),
		now:     time.Unix(1_700_000_000, 0).UTC(),
		mint:    principal(100),
	}
	h.proc = NewProcessor(
		NewEscrowService(handlerRecords, gateway, deriver, 0, log),
		NewFeePolicyService(handlerRecords, gateway, deriver, 0, log),
		memory.NewIdempotencyRepo(store),
		h.cache,
		transactor,
		nil,
		nil,
		log,
	).WithClock(func() time.Time { return h.now })
	return h
}

func (h *harness) exec(signer domain.Pubkey, ix domain.Instruction, accounts ...domain.Pubkey) (*ports.InstructionResult, error) {
	h.t.Helper()
	data, err := ix.MarshalBinary()
	require.NoError(h.t, err)
	return h.proc.Process(h.ctx, ports.InstructionRequest{Signer: signer, Data: data, Accounts: accounts})
}

func (h *harness) mustExec(signer domain.Pubkey, ix domain.Instruction, accounts ...domain.Pubkey) *ports.InstructionResult {
	h.t.Helper()
	res, err := h.exec(signer, ix, accounts...)
	require.NoError(h.t, err)
	return res
}

// fund opens the canonical token account of owner and credits amount.
func (h *harness) fund(owner domain.Pubkey, amount uint64) domain.Pubkey {
	h.t.Helper()
	acc, err := h.admin.OpenAccount(h.ctx, owner, h.mint)
	require.NoError(h.t, err)
	if amount > 0 {
		_, err = h.admin.Fund(h.ctx, acc.Address, amount)
		require.NoError(h.t, err)
	}
	return acc.Address
}

func (h *harness) balance(addr domain.Pubkey) uint64 {
	h.t.Helper()
	acc, err := h.ledger.GetAccount(h.ctx, addr)
	require.NoError(h.t, err)
	if acc == nil {
		return 0
	}
	return acc.Amount
}

func (h *harness) platformAddr() domain.Pubkey {
	addr, _ := h.deriver.PlatformPolicy()
	return addr
}

func (h *harness) tradeAddr(collector domain.Pubkey) domain.Pubkey {
	addr, _ := h.deriver.TradePolicy(collector)
	return addr
}

func (h *harness) platformVault() domain.Pubkey {
	return h.deriver.TokenAccount(h.platformAddr(), h.mint)
}

func (h *harness) tradeVault(collector domain.Pubkey) domain.Pubkey {
	return h.deriver.TokenAccount(h.tradeAddr(collector), h.mint)
}

func (h *harness) createPolicies(platformAuth domain.Pubkey, platformBps uint16, tradeCollector domain.Pubkey, tradeBps uint16) {
	h.t.Helper()
	h.mustExec(platformAuth,
		domain.CreatePolicy{Kind: domain.PolicyKindPlatform, FeeCollector: platformAuth, FeeBps: platformBps},
		platformAuth, h.platformAddr())
	h.mustExec(tradeCollector,
		domain.CreatePolicy{Kind: domain.PolicyKindTrade, FeeCollector: tradeCollector, FeeBps: tradeBps},
		tradeCollector, h.tradeAddr(tradeCollector))
}

// escrowFixture is a payment hash with its preimage and the parties of one escrow.
type escrowFixture struct {
	preimage    domain.Hash
	hash        domain.Hash
	payer       domain.Pubkey
	payerToken  domain.Pubkey
	recipient   domain.Pubkey
	refundParty domain.Pubkey
	collector   domain.Pubkey
}

func newEscrowFixture(h *harness, id byte, collector domain.Pubkey, funds uint64) escrowFixture {
	var preimage domain.Hash
	for i := range preimage {
		preimage[i] = id ^ byte(i)
	}
	payer := principal(10 + id)
	return escrowFixture{
		preimage:    preimage,
		hash:        sha256.Sum256(preimage[:]),
		payer:       payer,
		payerToken:  h.fund(payer, funds),
		recipient:   principal(40 + id),
		refundParty: payer,
		collector:   collector,
	}
}

func (h *harness) escrowAddr(hash domain.Hash) domain.Pubkey {
	addr, _ := h.deriver.Escrow(hash)
	return addr
}

func (h *harness) vault(hash domain.Hash) domain.Pubkey {
	return h.deriver.TokenAccount(h.escrowAddr(hash), h.mint)
}

func (f escrowFixture) createIx(amount uint64, platformBps, tradeBps uint16, refundAfter int64) domain.CreateEscrow {
	return domain.CreateEscrow{
		PaymentHash:            f.hash,
		Recipient:              f.recipient,
		RefundParty:            f.refundParty,
		RefundAfter:            refundAfter,
		Amount:                 amount,
		ExpectedPlatformFeeBps: platformBps,
		ExpectedTradeFeeBps:    tradeBps,
		TradeFeeCollector:      f.collector,
	}
}

func (h *harness) createAccounts(f escrowFixture) []domain.Pubkey {
	return []domain.Pubkey{
		f.payer,
		f.payerToken,
		h.escrowAddr(f.hash),
		h.vault(f.hash),
		h.mint,
		h.platformAddr(),
		h.platformVault(),
		h.tradeAddr(f.collector),
		h.tradeVault(f.collector),
	}
}

// claimAccounts opens the recipient's token account if needed.
func (h *harness) claimAccounts(f escrowFixture) []domain.Pubkey {
	recipientToken := h.deriver.TokenAccount(f.recipient, h.mint)
	if acc, _ := h.ledger.GetAccount(h.ctx, recipientToken); acc == nil {
		h.fund(f.recipient, 0)
	}
	return []domain.Pubkey{
		f.recipient,
		h.escrowAddr(f.hash),
		h.vault(f.hash),
		recipientToken,
		h.platformVault(),
		h.tradeVault(f.collector),
	}
}

func (h *harness) refundAccounts(f escrowFixture) []domain.Pubkey {
	return []domain.Pubkey{
		f.refundParty,
		h.escrowAddr(f.hash),
		h.vault(f.hash),
		f.payerToken,
	}
}

func (h *harness) escrowRecord(hash domain.Hash) domain.EscrowRecord {
	h.t.Helper()
	view, err := h.report.GetEscrow(h.ctx, hash)
	require.NoError(h.t, err)
	return view.Record
}
