package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"

	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// Processor implements ports.InstructionProcessor. Each instruction runs
// in one database transaction covering every record write and token
// transfer; nothing is visible unless all checks and transfers succeed.
type Processor struct {
	escrows    *EscrowService
	policies   *FeePolicyService
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	transactor ports.DBTransactor
	publisher  ports.EventPublisher
	metrics    ports.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewProcessor creates a new Processor. publisher and metrics may be nil.
func NewProcessor(
	escrows *EscrowService,
	policies *FeePolicyService,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		escrows:    escrows,
		policies:   policies,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		transactor: transactor,
		publisher:  publisher,
		metrics:    metrics,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for refund deadlines and timestamps.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process decodes and executes one instruction on behalf of req.Signer.
func (p *Processor) Process(ctx context.Context, req ports.InstructionRequest) (*ports.InstructionResult, error) {
	start := time.Now()

	ix, err := domain.DecodeInstruction(req.Data)
	if err != nil {
		p.observe("", ports.OutcomeRejected, start)
		p.log.Warn().Err(err).Str("signer", req.Signer.String()).Msg("instruction rejected")
		return nil, apperror.ErrInvalidInstruction()
	}
	name := ix.Tag().String()

	var idempKey, fingerprint string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.Signer, req.IdempotencyKey)
		fingerprint = domain.RequestFingerprint(req.Data, req.Accounts)
		replay, err := p.lookupIdempotent(ctx, idempKey, fingerprint)
		if err != nil {
			p.observe(name, outcomeOf(err), start)
			return nil, err
		}
		if replay != nil {
			p.observe(name, ports.OutcomeReplayed, start)
			return replay, nil
		}
	}

	dbTx, err := p.transactor.Begin(ctx)
	if err != nil {
		p.observe(name, ports.OutcomeError, start)
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	inv := newInvocation(dbTx, req, ix.Tag(), p.now())
	if err := p.dispatch(ctx, inv, ix); err != nil {
		outcome := outcomeOf(err)
		p.observe(name, outcome, start)
		ev := p.log.Warn()
		if outcome == ports.OutcomeError {
			ev = p.log.Error()
		}
		ev.Err(err).
			Str("instruction", name).
			Str("signer", req.Signer.String()).
			Str("code", apperror.CodeOf(err)).
			Msg("instruction failed")
		return nil, err
	}
	result := inv.Result

	var entry *domain.IdempotencyLog
	if idempKey != "" {
		respJSON, err := json.Marshal(result)
		if err != nil {
			p.observe(name, ports.OutcomeError, start)
			return nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
		}
		entry = &domain.IdempotencyLog{
			Key:          idempKey,
			Instruction:  name,
			RequestHash:  fingerprint,
			ResultID:     result.ID,
			ResponseJSON: respJSON,
			CreatedAt:    inv.Now,
		}
		if err := p.idempRepo.Create(ctx, dbTx, entry); err != nil {
			if errors.Is(err, domain.ErrIdempotencyKeyTaken) {
				dbTx.Rollback(ctx) //nolint:errcheck
				return p.replayCommitted(ctx, name, idempKey, fingerprint, start)
			}
			p.observe(name, ports.OutcomeError, start)
			return nil, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		p.observe(name, ports.OutcomeError, start)
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	p.afterCommit(ctx, entry, result)
	p.observe(name, ports.OutcomeSuccess, start)

	p.log.Info().
		Str("result_id", result.ID.String()).
		Str("instruction", name).
		Str("signer", req.Signer.String()).
		Int("transfers", len(result.Transfers)).
		Msg("instruction processed")
	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, inv *Invocation, ix domain.Instruction) error {
	switch v := ix.(type) {
	case domain.CreateEscrow:
		return p.escrows.Create(ctx, inv, v)
	case domain.Claim:
		return p.escrows.Claim(ctx, inv, v)
	case domain.Refund:
		return p.escrows.Refund(ctx, inv, v)
	case domain.CreatePolicy:
		return p.policies.Create(ctx, inv, v)
	case domain.UpdatePolicy:
		return p.policies.Update(ctx, inv, v)
	case domain.WithdrawFees:
		return p.policies.Withdraw(ctx, inv, v)
	default:
		return apperror.ErrInvalidInstruction()
	}
}

// lookupIdempotent checks Redis first and falls back to the durable log. A
// logged key replays only for the same instruction bytes and accounts.
func (p *Processor) lookupIdempotent(ctx context.Context, key, fingerprint string) (*ports.InstructionResult, error) {
	entry, err := p.idempCache.Get(ctx, key)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if entry == nil {
		entry, err = p.idempRepo.Get(ctx, key)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
		}
	}
	if entry == nil {
		return nil, nil
	}
	if !entry.SameRequest(fingerprint) {
		p.log.Warn().Str("key", key).Str("logged_instruction", entry.Instruction).Msg("idempotency key reused for a different instruction")
		return nil, apperror.ErrIdempotencyConflict()
	}
	return unmarshalResult(entry.ResponseJSON)
}

// replayCommitted answers a request that lost the race for its idempotency
// key with the winner's stored result, discarding its own effects.
func (p *Processor) replayCommitted(ctx context.Context, name, key, fingerprint string, start time.Time) (*ports.InstructionResult, error) {
	replay, err := p.lookupIdempotent(ctx, key, fingerprint)
	if err == nil && replay == nil {
		err = apperror.InternalError(fmt.Errorf("idempotency key %s taken but not readable", key))
	}
	if err != nil {
		p.observe(name, outcomeOf(err), start)
		return nil, err
	}
	p.log.Info().Str("key", key).Str("instruction", name).Msg("concurrent duplicate answered from committed result")
	p.observe(name, ports.OutcomeReplayed, start)
	return replay, nil
}

// afterCommit runs best-effort side effects. Failures are logged only.
func (p *Processor) afterCommit(ctx context.Context, entry *domain.IdempotencyLog, result *ports.InstructionResult) {
	if entry != nil {
		if err := p.idempCache.Set(ctx, entry, idempotencyTTL); err != nil {
			p.log.Warn().Err(err).Str("key", entry.Key).Msg("failed to cache idempotency in redis")
		}
	}
	if p.metrics != nil {
		for _, t := range result.Transfers {
			p.metrics.ObserveTransfer(t.Kind, t.Amount)
		}
	}
	if p.publisher != nil && len(result.Events) > 0 {
		if err := p.publisher.Publish(ctx, result.Events); err != nil {
			p.log.Warn().Err(err).Str("result_id", result.ID.String()).Msg("failed to publish events")
		}
	}
}

func (p *Processor) observe(instruction, outcome string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveInstruction(instruction, outcome, time.Since(start))
	}
}

// outcomeOf separates rule rejections from infrastructure failures.
func outcomeOf(err error) string {
	code := apperror.CodeOf(err)
	if strings.HasPrefix(code, "ESC_") || code == apperror.CodeTransferFailed || code == apperror.CodeIdempotencyConflict {
		return ports.OutcomeRejected
	}
	return ports.OutcomeError
}

func unmarshalResult(data []byte) (*ports.InstructionResult, error) {
	var result ports.InstructionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached result: %w", err))
	}
	result.Replayed = true
	return &result, nil
}
