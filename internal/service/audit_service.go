package service

import (
	"context"
	"sync"
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"

	"github.com/rs/zerolog"
)

const auditWriteTimeout = 5 * time.Second

// AuditService implements ports.AuditService. Entries are logged at once and
// persisted in the background; Drain waits for outstanding writes.
type AuditService struct {
	repo    ports.AuditRepository
	log     zerolog.Logger
	pending sync.WaitGroup
}

// NewAuditService creates an audit service. With a nil repo entries only go
// to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// Log records entry without blocking the request. The write keeps ctx values
// but not its cancellation, since the response is usually sent by then.
func (s *AuditService) Log(ctx context.Context, entry *domain.AuditLog) {
	s.log.Info().
		Str("actor", entry.Actor).
		Str("action", string(entry.Action)).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("ip", entry.IPAddress).
		Msg("audit")

	if s.repo == nil {
		return
	}
	writeCtx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(writeCtx, auditWriteTimeout)
		defer cancel()
		if err := s.repo.Create(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
	}()
}

// Drain blocks until queued writes finish or ctx is done.
func (s *AuditService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
