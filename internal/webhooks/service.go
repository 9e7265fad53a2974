// Package webhooks delivers service events to registered subscribers
// over signed HTTP POSTs. Every delivery is recorded in an attempt
// ledger; failed deliveries retry with capped backoff until a bounded
// attempt count, then are durably marked exhausted for operator replay.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"lead-enricher/internal/circuitbreaker"
	"lead-enricher/internal/common/errors"
	commonhttp "lead-enricher/internal/common/http"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/common/utils"
	"lead-enricher/internal/metrics"
	"lead-enricher/internal/storage"
)

// Config holds the delivery engine's tunables.
type Config struct {
	// Workers is the size of the delivery worker pool.
	Workers int
	// QueueSize bounds the pending task channel.
	QueueSize int
	// MaxAttempts caps deliveries per attempt record before exhausted.
	MaxAttempts int
	// RequestTimeout bounds one delivery POST.
	RequestTimeout time.Duration
	// Retry shapes the backoff between attempts.
	Retry utils.RetryConfig
}

// DefaultConfig returns the standard delivery configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		MaxAttempts:    4,
		RequestTimeout: 10 * time.Second,
		Retry: utils.RetryConfig{
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
	}
}

// task is one unit of delivery work. Only the attempt id crosses the
// queue; workers reload the ledger row so replayed or raced attempts
// are observed in their current state.
type task struct {
	attemptID string
	delay     time.Duration
}

// Service fans events out to subscribers and drives the retry loop.
type Service struct {
	store     storage.Storage
	breakers  *circuitbreaker.Manager
	collector *metrics.Collector
	client    *http.Client
	config    Config
	logger    logging.Logger

	tasks chan task
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewService creates the delivery engine and starts its worker pool.
func NewService(store storage.Storage, breakers *circuitbreaker.Manager, collector *metrics.Collector, config Config, logger logging.Logger) *Service {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if config.Retry.InitialDelay == 0 {
		config.Retry = DefaultConfig().Retry
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Service{
		store:     store,
		breakers:  breakers,
		collector: collector,
		client:    commonhttp.NewHTTPClientWithTimeout(config.RequestTimeout),
		config:    config,
		logger:    logger,
		tasks:     make(chan task, config.QueueSize),
		done:      make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Publish fans the event out to every active subscription matching its
// type. One pending attempt row is created per subscriber before any
// network traffic, so a crash between create and send leaves a visible
// pending record rather than a lost event.
func (s *Service) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.InternalError("failed to encode event payload", err)
	}

	subs, err := s.store.ListSubscriptions(ctx, event.Type, true)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, sub := range subs {
		attempt := &storage.DeliveryAttempt{
			ID:               cuid.New(),
			SubscriptionID:   sub.ID,
			EventID:          event.ID,
			EventType:        event.Type,
			TargetURL:        sub.TargetURL,
			Payload:          string(body),
			Status:           storage.DeliveryStatusPending,
			PayloadTimestamp: event.CreatedAt,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.store.CreateDeliveryAttempt(ctx, attempt); err != nil {
			return err
		}
		if err := s.enqueue(task{attemptID: attempt.ID}); err != nil {
			return err
		}
	}

	s.logger.Debug("event published",
		logging.Field{Key: "event_id", Value: event.ID},
		logging.Field{Key: "event_type", Value: event.Type},
		logging.Field{Key: "subscribers", Value: len(subs)},
	)
	return nil
}

// PublishOnce publishes the event at most once per natural key. A
// repeat call with the same key is a no-op unless force is set, which
// re-emits regardless of the recorded key.
func (s *Service) PublishOnce(ctx context.Context, naturalKey string, event Event, force bool) error {
	if naturalKey == "" {
		return errors.ValidationError("natural key is required")
	}

	first, err := s.store.RecordEmittedEvent(ctx, naturalKey, event.ID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !first && !force {
		s.logger.Debug("event already emitted, skipping",
			logging.Field{Key: "natural_key", Value: naturalKey},
			logging.Field{Key: "event_type", Value: event.Type},
		)
		return nil
	}

	return s.Publish(ctx, event)
}

// Replay re-enqueues a specific attempt for delivery. Successful
// deliveries are immutable and cannot be replayed; failed and exhausted
// ones can. The attempt counter is never reset, so the ledger stays an
// honest record of every POST ever made for the attempt.
func (s *Service) Replay(ctx context.Context, attemptID string) (*storage.DeliveryAttempt, error) {
	attempt, err := s.store.GetDeliveryAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, errors.NotFoundError("delivery attempt " + attemptID)
	}
	if attempt.Status == storage.DeliveryStatusSuccess {
		return nil, errors.ConflictError("delivery "+attemptID+" already succeeded", nil)
	}

	attempt.Status = storage.DeliveryStatusPending
	attempt.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateDeliveryAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	if err := s.enqueue(task{attemptID: attempt.ID}); err != nil {
		return nil, err
	}

	s.logger.Info("delivery replay requested",
		logging.Field{Key: "attempt_id", Value: attemptID},
		logging.Field{Key: "attempts_so_far", Value: attempt.Attempts},
	)
	return attempt, nil
}

// Close stops accepting work and waits for in-flight deliveries.
func (s *Service) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Service) enqueue(t task) error {
	select {
	case <-s.done:
		return errors.InternalError("delivery queue is shut down", nil)
	case s.tasks <- t:
		return nil
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case t := <-s.tasks:
			if t.delay > 0 {
				select {
				case <-s.done:
					return
				case <-time.After(t.delay):
				}
			}
			s.deliver(t.attemptID)
		}
	}
}

// deliver performs one POST for the attempt and updates the ledger row.
// Non-2xx and transport errors both count as failed attempts.
func (s *Service) deliver(attemptID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout+5*time.Second)
	defer cancel()

	attempt, err := s.store.GetDeliveryAttempt(ctx, attemptID)
	if err != nil {
		s.logger.Error("failed to load delivery attempt", err,
			logging.Field{Key: "attempt_id", Value: attemptID})
		return
	}
	if attempt == nil || attempt.Status.Terminal() {
		return
	}

	sub, err := s.store.GetSubscription(ctx, attempt.SubscriptionID)
	if err != nil || sub == nil {
		s.finish(ctx, attempt, false, "subscription no longer exists")
		return
	}

	attempt.Attempts++
	now := time.Now().UTC()
	attempt.LastAttemptAt = &now

	breaker := s.breakers.GetOrCreate("delivery:"+sub.ID, circuitbreaker.DeliveryConfig)
	_, err = breaker.Execute(ctx, func() (interface{}, error) {
		return nil, s.post(ctx, attempt, sub.Secret)
	})

	if err == nil {
		s.finish(ctx, attempt, true, "")
		return
	}

	attempt.LastError = err.Error()

	if attempt.Attempts >= s.config.MaxAttempts {
		s.finish(ctx, attempt, false, err.Error())
		return
	}

	attempt.Status = storage.DeliveryStatusFailed
	attempt.UpdatedAt = time.Now().UTC()
	if updateErr := s.store.UpdateDeliveryAttempt(ctx, attempt); updateErr != nil {
		s.logger.Error("failed to record delivery attempt", updateErr,
			logging.Field{Key: "attempt_id", Value: attempt.ID})
	}
	if s.collector != nil {
		s.collector.ObserveDelivery(false)
	}

	delay := s.config.Retry.DelayForAttempt(attempt.Attempts)
	s.logger.Warn("delivery failed, scheduling retry",
		logging.Field{Key: "attempt_id", Value: attempt.ID},
		logging.Field{Key: "attempts", Value: attempt.Attempts},
		logging.Field{Key: "delay", Value: delay.String()},
		logging.Field{Key: "error", Value: err.Error()},
	)

	// requeue from a fresh goroutine so a full queue cannot deadlock the
	// worker that needs to drain it
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.enqueue(task{attemptID: attempt.ID, delay: delay})
	}()
}

// finish writes the terminal state for this delivery round.
func (s *Service) finish(ctx context.Context, attempt *storage.DeliveryAttempt, success bool, lastError string) {
	if success {
		attempt.Status = storage.DeliveryStatusSuccess
		attempt.LastError = ""
	} else {
		attempt.Status = storage.DeliveryStatusExhausted
		attempt.LastError = lastError
	}
	attempt.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateDeliveryAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record delivery outcome", err,
			logging.Field{Key: "attempt_id", Value: attempt.ID})
	}

	if s.collector != nil {
		s.collector.ObserveDelivery(success)
		if !success {
			s.collector.ObserveDeliveryExhausted()
		}
	}

	if success {
		s.logger.Info("delivery succeeded",
			logging.Field{Key: "attempt_id", Value: attempt.ID},
			logging.Field{Key: "attempts", Value: attempt.Attempts},
		)
	} else {
		s.logger.Error("delivery exhausted", fmt.Errorf("%s", lastError),
			logging.Field{Key: "attempt_id", Value: attempt.ID},
			logging.Field{Key: "attempts", Value: attempt.Attempts},
			logging.Field{Key: "target_url", Value: attempt.TargetURL},
		)
	}
}

// post sends one signed delivery request. Any non-2xx response is an
// error carrying the status and a truncated body excerpt.
func (s *Service) post(ctx context.Context, attempt *storage.DeliveryAttempt, secret string) error {
	body := []byte(attempt.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, attempt.TargetURL, strings.NewReader(attempt.Payload))
	if err != nil {
		return errors.DeliveryError(attempt.TargetURL, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, body))
	req.Header.Set(TimestampHeader, strconv.FormatInt(time.Now().UTC().Unix(), 10))
	req.Header.Set("X-Event-Id", attempt.EventID)
	req.Header.Set("X-Event-Type", attempt.EventType)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.DeliveryError(attempt.TargetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return errors.DeliveryError(attempt.TargetURL,
			fmt.Errorf("subscriber responded %d: %s", resp.StatusCode, string(excerpt)))
	}

	return nil
}
