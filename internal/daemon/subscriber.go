package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// RetryConfig bounds notification registration retries.
type RetryConfig struct {
	MaxRetries        int           // Short retries before the long backoff
	RetryInterval     time.Duration // Wait between short retries
	LongRetryInterval time.Duration // Cool-down after MaxRetries failures
}

// DefaultRetryConfig returns the production retry schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		RetryInterval:     5 * time.Minute,
		LongRetryInterval: 30 * time.Minute,
	}
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() if it
// was interrupted.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Subscriber keeps a device-change notification registration alive and
// turns every delivered event into a reconciliation pass.
//
// States: Unregistered -> Registering(0..MaxRetries) -> Active, or
// Registering(MaxRetries) -> BackoffWait -> Unregistered. Registration runs
// on its own goroutine so retry waits never hold up polling.
type Subscriber struct {
	source     domain.EventSource
	reconciler domain.Reconciler
	config     RetryConfig
	observers  []domain.SubscriberObserver
	logger     *zap.Logger
	sleep      SleepFunc

	mu          sync.Mutex
	state       domain.SubscriberState
	sub         domain.Subscription
	registering bool
	closed      bool
	lastErr     error
	runCtx      context.Context
	cancel      context.CancelFunc

	wg sync.WaitGroup
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSleep replaces the wait used between registration attempts.
func WithSleep(fn SleepFunc) SubscriberOption {
	return func(s *Subscriber) { s.sleep = fn }
}

// WithSubscriberObservers registers transition observers.
func WithSubscriberObservers(obs ...domain.SubscriberObserver) SubscriberOption {
	return func(s *Subscriber) { s.observers = append(s.observers, obs...) }
}

// NewSubscriber creates a subscriber in the Unregistered state.
func NewSubscriber(
	source domain.EventSource,
	reconciler domain.Reconciler,
	config RetryConfig,
	logger *zap.Logger,
	opts ...SubscriberOption,
) *Subscriber {
	s := &Subscriber{
		source:     source,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
		sleep:      Sleep,
		state:      domain.SubscriberState{Phase: domain.PhaseUnregistered},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Subscriber) State() domain.SubscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent registration or liveness failure.
func (s *Subscriber) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Ensure checks the live registration and starts a new registration run
// when there is none. It never blocks on the platform.
func (s *Subscriber) Ensure(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.state.Phase == domain.PhaseActive {
		if s.sub != nil && s.sub.Alive() {
			return
		}
		s.lastErr = domain.ErrSubscriptionLost
		s.logger.Warn("device notification subscription lost, re-registering",
			zap.Error(domain.ErrSubscriptionLost))
		if s.sub != nil {
			if err := s.sub.Close(); err != nil {
				s.logger.Debug("failed to close lost subscription", zap.Error(err))
			}
			s.sub = nil
		}
		s.transitionLocked(domain.SubscriberState{Phase: domain.PhaseUnregistered})
	}

	if s.registering {
		return
	}

	if s.cancel == nil {
		s.runCtx, s.cancel = context.WithCancel(ctx)
	}
	s.registering = true
	s.wg.Add(1)
	go s.register(s.runCtx)
}

// register runs one registration sequence: up to MaxRetries+1 attempts,
// then the long backoff.
func (s *Subscriber) register(ctx context.Context) {
	defer s.wg.Done()

	for attempt := 0; ; attempt++ {
		s.transition(domain.SubscriberState{Phase: domain.PhaseRegistering, Attempt: attempt})

		sub, err := s.source.Subscribe(ctx, s.handleEvent(ctx))
		if err == nil {
			s.activate(sub, attempt)
			return
		}

		s.setLastErr(err)
		s.logger.Warn("device notification registration failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", s.config.MaxRetries),
			zap.Error(err))

		if attempt >= s.config.MaxRetries {
			break
		}
		if s.sleep(ctx, s.config.RetryInterval) != nil {
			s.finish()
			return
		}
	}

	exhausted := fmt.Errorf("%w after %d attempts", domain.ErrRegistrationExhausted, s.config.MaxRetries+1)
	s.setLastErr(exhausted)
	s.transition(domain.SubscriberState{Phase: domain.PhaseBackoffWait})
	s.logger.Warn("backing off before next registration attempt",
		zap.Duration("wait", s.config.LongRetryInterval),
		zap.Error(exhausted))

	_ = s.sleep(ctx, s.config.LongRetryInterval)
	s.finish()
}

func (s *Subscriber) activate(sub domain.Subscription, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registering = false
	if s.closed {
		_ = sub.Close()
		return
	}
	s.sub = sub
	s.lastErr = nil
	s.transitionLocked(domain.SubscriberState{Phase: domain.PhaseActive})
	s.logger.Info("device notifications active", zap.Int("attempts", attempt+1))
}

// finish ends a registration run without a subscription.
func (s *Subscriber) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registering = false
	if s.state.Phase != domain.PhaseUnregistered {
		s.transitionLocked(domain.SubscriberState{Phase: domain.PhaseUnregistered})
	}
}

func (s *Subscriber) handleEvent(ctx context.Context) func(domain.DeviceEvent) {
	return func(ev domain.DeviceEvent) {
		s.logger.Debug("device change notification",
			zap.String("action", ev.Action),
			zap.String("source", ev.Source),
			zap.String("detail", ev.Detail))
		if ctx.Err() != nil {
			return
		}
		// Failures are logged by the reconciler.
		_, _ = s.reconciler.RunPass(ctx, domain.TriggerEvent, false)
	}
}

func (s *Subscriber) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Subscriber) transition(to domain.SubscriberState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.transitionLocked(to)
}

// transitionLocked must be called with mu held. Observers must not call
// back into the Subscriber.
func (s *Subscriber) transitionLocked(to domain.SubscriberState) {
	from := s.state
	s.state = to
	s.logger.Debug("subscriber state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	for _, o := range s.observers {
		o.ObserveTransition(from, to)
	}
}

// Close stops any registration in flight and releases the live
// subscription. Safe to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.sub != nil {
		err = s.sub.Close()
		s.sub = nil
	}
	if s.state.Phase != domain.PhaseUnregistered {
		s.transitionLocked(domain.SubscriberState{Phase: domain.PhaseUnregistered})
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	return nil
}
