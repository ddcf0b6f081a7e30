package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the timestamped HMAC-SHA256 of the request body.
const SignatureHeader = "X-Escrow-Signature"

// notifyRetryIntervals are the waits between delivery attempts.
var notifyRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// EventNotifier implements ports.EventPublisher by POSTing each event to a
// configured URL asynchronously. Every attempt is recorded. Drain stops
// pending retries and waits for deliveries in flight.
type EventNotifier struct {
	url        string
	secret     string
	sigSvc     ports.SignatureService
	deliveries ports.EventDeliveryRepository
	httpClient HTTPClient
	retries    []time.Duration
	after      func(time.Duration) <-chan time.Time
	log        zerolog.Logger

	mu       sync.Mutex
	stopped  bool
	stop     chan struct{}
	inflight sync.WaitGroup
}

// NewEventNotifier creates a new EventNotifier. deliveries may be nil.
func NewEventNotifier(
	url, secret string,
	sigSvc ports.SignatureService,
	deliveries ports.EventDeliveryRepository,
	httpClient HTTPClient,
	log zerolog.Logger,
) *EventNotifier {
	return &EventNotifier{
		url:        url,
		secret:     secret,
		sigSvc:     sigSvc,
		deliveries: deliveries,
		httpClient: httpClient,
		retries:    notifyRetryIntervals,
		after:      time.After,
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Publish schedules delivery of events and returns immediately. Events
// published after Drain are logged and dropped.
func (n *EventNotifier) Publish(_ context.Context, events []domain.Event) error {
	if n.url == "" {
		return nil
	}
	payloads := make([][]byte, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		payloads[i] = payload
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		for _, ev := range events {
			n.log.Warn().Str("event_id", ev.ID.String()).Msg("notify: shutting down, event not delivered")
		}
		return nil
	}
	for i, ev := range events {
		n.inflight.Add(1)
		go func() {
			defer n.inflight.Done()
			n.deliverWithRetries(ev, payloads[i])
		}()
	}
	return nil
}

// Drain cancels scheduled retries and blocks until every delivery goroutine
// has returned or ctx is done. Deliveries cut short stay pending with their
// next retry time recorded.
func (n *EventNotifier) Drain(ctx context.Context) error {
	n.mu.Lock()
	if !n.stopped {
		n.stopped = true
		close(n.stop)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pause waits d unless the notifier is draining.
func (n *EventNotifier) pause(d time.Duration) bool {
	select {
	case <-n.stop:
		return false
	default:
	}
	select {
	case <-n.after(d):
		return true
	case <-n.stop:
		return false
	}
}

// deliverWithRetries attempts delivery until a 2xx response or the retry
// schedule is exhausted.
func (n *EventNotifier) deliverWithRetries(ev domain.Event, payload []byte) {
	ctx := context.Background()

	now := time.Now().UTC()
	delivery := &domain.EventDelivery{
		ID:        uuid.New(),
		EventID:   ev.ID,
		EventType: ev.Type,
		URL:       n.url,
		Payload:   string(payload),
		Status:    domain.DeliveryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if n.deliveries != nil {
		if err := n.deliveries.Create(ctx, delivery); err != nil {
			n.log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("notify: failed to record delivery")
		}
	}

	for attempt := 0; attempt <= len(n.retries); attempt++ {
		if attempt > 0 && !n.pause(n.retries[attempt-1]) {
			n.log.Warn().Str("event_id", ev.ID.String()).Int("attempt", attempt+1).Msg("notify: shutting down, retry abandoned")
			return
		}
		delivery.Attempt = attempt + 1

		status, err := n.post(payload)
		if err == nil && status >= 200 && status < 300 {
			delivery.Status = domain.DeliveryStatusDelivered
			delivery.HTTPStatus = &status
			delivery.LastError = nil
			delivery.NextRetryAt = nil
			n.record(ctx, delivery)
			n.log.Info().Str("event_id", ev.ID.String()).Int("attempt", attempt+1).Int("status", status).Msg("notify: delivered successfully")
			return
		}

		msg := ""
		if err != nil {
			msg = err.Error()
			delivery.HTTPStatus = nil
		} else {
			msg = fmt.Sprintf("non-2xx response: %d", status)
			delivery.HTTPStatus = &status
		}
		delivery.LastError = &msg
		if attempt < len(n.retries) {
			next := time.Now().UTC().Add(n.retries[attempt])
			delivery.NextRetryAt = &next
		} else {
			delivery.Status = domain.DeliveryStatusFailed
			delivery.NextRetryAt = nil
		}
		n.record(ctx, delivery)
		n.log.Warn().Str("event_id", ev.ID.String()).Int("attempt", attempt+1).Str("error", msg).Msg("notify: delivery failed")
	}

	n.log.Error().Str("event_id", ev.ID.String()).Msg("notify: all retry attempts exhausted")
}

// post signs each attempt afresh so retries stay inside the receiver's
// tolerance window.
func (n *EventNotifier) post(payload []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, n.sigSvc.Sign(n.secret, time.Now().Unix(), payload))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (n *EventNotifier) record(ctx context.Context, delivery *domain.EventDelivery) {
	if n.deliveries == nil {
		return
	}
	delivery.UpdatedAt = time.Now().UTC()
	if err := n.deliveries.Update(ctx, delivery); err != nil {
		n.log.Warn().Err(err).Str("delivery_id", delivery.ID.String()).Msg("notify: failed to update delivery")
	}
}
