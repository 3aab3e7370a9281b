// Package daemon implements the long-running watchdog: the poll loop and
// the device notification subscriber it keeps alive.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// Flusher persists accumulated metrics.
type Flusher interface {
	Flush() error
}

// SubscriptionKeeper is the part of Subscriber the watchdog drives.
type SubscriptionKeeper interface {
	Ensure(ctx context.Context)
	State() domain.SubscriberState
	LastError() error
	Close() error
}

// WatchdogConfig holds watchdog configuration.
type WatchdogConfig struct {
	PollInterval time.Duration // Sleep between cycles; also the safety-net poll
	AppVersion   string

	// Used to restore the service registration if it disappears.
	ExecPath   string
	ConfigPath string
}

// Watchdog drives reconciliation: one forced pass at startup, then a poll
// pass every cycle while keeping the notification subscriber registered.
// Polling continues even while notifications are active.
type Watchdog struct {
	config         WatchdogConfig
	reconciler     domain.Reconciler
	subscriber     SubscriptionKeeper
	store          domain.StateStore     // optional
	service        domain.ServiceManager // optional
	processManager domain.ProcessManager
	flushers       []Flusher
	logger         *zap.Logger
	sleep          SleepFunc
	now            func() time.Time
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithStateStore records the watchdog and its heartbeat in store.
func WithStateStore(store domain.StateStore) WatchdogOption {
	return func(w *Watchdog) { w.store = store }
}

// WithServiceManager restores the service registration when it goes missing.
func WithServiceManager(sm domain.ServiceManager) WatchdogOption {
	return func(w *Watchdog) { w.service = sm }
}

// WithFlushers adds sinks flushed after every pass.
func WithFlushers(f ...Flusher) WatchdogOption {
	return func(w *Watchdog) { w.flushers = append(w.flushers, f...) }
}

// WithWatchdogSleep replaces the wait between cycles.
func WithWatchdogSleep(fn SleepFunc) WatchdogOption {
	return func(w *Watchdog) { w.sleep = fn }
}

// NewWatchdog creates a watchdog.
func NewWatchdog(
	config WatchdogConfig,
	reconciler domain.Reconciler,
	subscriber SubscriptionKeeper,
	pm domain.ProcessManager,
	logger *zap.Logger,
	opts ...WatchdogOption,
) *Watchdog {
	w := &Watchdog{
		config:         config,
		reconciler:     reconciler,
		subscriber:     subscriber,
		processManager: pm,
		logger:         logger,
		sleep:          Sleep,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the watchdog loop.
// This blocks until ctx is canceled, which is the only way it stops.
func (w *Watchdog) Run(ctx context.Context) error {
	w.register()

	w.logger.Info("watchdog started",
		zap.Int("pid", w.processManager.GetCurrentPID()),
		zap.String("version", w.config.AppVersion),
		zap.Duration("poll_interval", w.config.PollInterval))

	w.ensureServiceInstalled()

	// Catch anything the OS re-enabled while we were not running.
	w.runPass(ctx, domain.TriggerStartup, true)

	for {
		w.subscriber.Ensure(ctx)

		if err := w.sleep(ctx, w.config.PollInterval); err != nil {
			w.logger.Info("watchdog stopping")
			if err := w.subscriber.Close(); err != nil {
				w.logger.Warn("failed to close subscriber", zap.Error(err))
			}
			return nil
		}

		w.runPass(ctx, domain.TriggerPoll, false)
		w.heartbeat()
		w.ensureServiceInstalled()
	}
}

func (w *Watchdog) register() {
	if w.store == nil {
		return
	}
	now := w.now()
	rec := domain.WatchdogRecord{
		PID:             w.processManager.GetCurrentPID(),
		StartedAt:       now,
		LastHeartbeat:   now,
		SubscriberState: w.subscriber.State().String(),
		AppVersion:      w.config.AppVersion,
	}
	if err := w.store.RegisterWatchdog(rec); err != nil {
		w.logger.Warn("failed to record watchdog in state store", zap.Error(err))
	}
}

// runPass runs one pass and flushes metrics. Pass errors are already
// logged by the reconciler; the loop carries on regardless.
func (w *Watchdog) runPass(ctx context.Context, trigger domain.PassTrigger, force bool) {
	w.logger.Debug("running pass", zap.String("trigger", string(trigger)))

	if _, err := w.reconciler.RunPass(ctx, trigger, force); err != nil {
		w.logger.Debug("pass did not complete", zap.Error(err))
	}

	for _, f := range w.flushers {
		if err := f.Flush(); err != nil {
			w.logger.Warn("failed to flush metrics", zap.Error(err))
		}
	}
}

func (w *Watchdog) heartbeat() {
	if w.store == nil {
		return
	}
	var lastErr string
	if err := w.subscriber.LastError(); err != nil {
		lastErr = err.Error()
	}
	if err := w.store.UpdateHeartbeat(w.subscriber.State().String(), lastErr); err != nil {
		w.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
}

// ensureServiceInstalled restores the service registration if it was
// removed while the watchdog is still running. An outdated registration is
// only reported: rewriting it would restart this process.
func (w *Watchdog) ensureServiceInstalled() {
	if w.service == nil || w.config.ExecPath == "" {
		return
	}

	if !w.service.IsInstalled() {
		w.logger.Warn("service registration missing, restoring",
			zap.String("location", w.service.Describe()))
		if err := w.service.Install(w.config.ExecPath, w.config.ConfigPath); err != nil {
			w.logger.Error("failed to restore service registration", zap.Error(err))
		} else {
			w.logger.Info("service registration restored")
		}
	} else if w.service.NeedsUpdate(w.config.ExecPath, w.config.ConfigPath) {
		w.logger.Warn("service registration outdated, run install again to update",
			zap.String("location", w.service.Describe()))
	}
}
