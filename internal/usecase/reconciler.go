// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
	"github.com/eliteGoblin/focusd/hdaguard/internal/logging"
	"github.com/eliteGoblin/focusd/hdaguard/internal/policy"
)

// ReconcilerImpl implements domain.Reconciler.
type ReconcilerImpl struct {
	inventory domain.DeviceInventory
	policy    *policy.BanPolicy
	observers []domain.PassObserver
	logger    *zap.Logger
	now       func() time.Time

	// Held for a whole pass so event and poll passes never interleave.
	mu sync.Mutex
}

// NewReconciler creates a reconciler for the given policy.
func NewReconciler(
	inv domain.DeviceInventory,
	p *policy.BanPolicy,
	logger *zap.Logger,
	observers ...domain.PassObserver,
) *ReconcilerImpl {
	return &ReconcilerImpl{
		inventory: inv,
		policy:    p,
		observers: observers,
		logger:    logger,
		now:       time.Now,
	}
}

// AddObserver registers an observer for subsequent passes.
func (r *ReconcilerImpl) AddObserver(o domain.PassObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// RunPass enumerates devices once and drives every match toward disabled.
func (r *ReconcilerImpl) RunPass(ctx context.Context, trigger domain.PassTrigger, force bool) (*domain.PassSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := &domain.PassSummary{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Forced:    force,
		StartedAt: r.now(),
		Outcomes:  make([]domain.DeviceOutcome, 0),
	}
	defer r.notify(summary)

	logger := r.logger.With(
		zap.String("pass_id", summary.ID),
		zap.String("trigger", string(trigger)),
		zap.Bool("force", force))

	devices, err := r.inventory.ListDevices(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrAccess) {
			err = domain.NewAccessError("list devices", err)
		}
		summary.Err = err
		summary.Duration = r.now().Sub(summary.StartedAt)
		logger.Error("device enumeration failed, pass aborted", zap.Error(err))
		return summary, err
	}

	for _, device := range devices {
		if !r.policy.Matches(device) {
			continue
		}
		summary.Record(r.reconcileDevice(ctx, logger, device, force))
	}

	summary.Duration = r.now().Sub(summary.StartedAt)

	fields := []zap.Field{
		zap.Int("disabled", summary.Disabled),
		zap.Int("already_compliant", summary.AlreadyCompliant),
		zap.Int("errored", summary.Errored),
		zap.Int("transient", summary.Transient),
		zap.Duration("duration", summary.Duration),
	}
	if summary.Errored > 0 {
		logger.Warn("pass completed with errors", fields...)
	} else {
		logger.Info("pass completed", fields...)
	}

	return summary, nil
}

// reconcileDevice handles one matching device and returns its outcome.
func (r *ReconcilerImpl) reconcileDevice(ctx context.Context, logger *zap.Logger, device domain.Device, force bool) domain.DeviceOutcome {
	outcome := domain.DeviceOutcome{
		DeviceID:    device.ID,
		DisplayName: device.DisplayName,
		Status:      device.Status,
	}
	fields := []zap.Field{
		zap.String("device_id", device.ID),
		zap.String("device_name", device.DisplayName),
		zap.String("status", string(device.Status)),
	}

	if !r.policy.RequiresAction(device, force) {
		outcome.Kind = domain.OutcomeNoActionNeeded
		logger.Debug("device already compliant", fields...)
		return outcome
	}

	result, err := r.inventory.Disable(ctx, device.ID)
	if err != nil {
		outcome.Kind = domain.OutcomeFailed
		outcome.Message = err.Error()
		var devErr *domain.DeviceError
		if errors.As(err, &devErr) && devErr.Message != "" {
			outcome.Message = devErr.Message
		}
		logger.Warn("failed to disable device", append(fields, zap.Error(err))...)
		return outcome
	}

	switch result {
	case domain.DisableOK:
		outcome.Kind = domain.OutcomeDisabled
		logging.Success(logger, "disabled device", fields...)
	case domain.DisableAlreadyDisabled:
		outcome.Kind = domain.OutcomeAlreadyDisabled
		logger.Info("device was already disabled", fields...)
	case domain.DisableTransient:
		outcome.Kind = domain.OutcomeTransient
		outcome.Message = "platform reported a transient failure"
		logger.Warn("disable reported transient failure, will retry next pass", fields...)
	}
	return outcome
}

func (r *ReconcilerImpl) notify(summary *domain.PassSummary) {
	for _, o := range r.observers {
		o.ObservePass(summary)
	}
}

// Ensure ReconcilerImpl implements domain.Reconciler.
var _ domain.Reconciler = (*ReconcilerImpl)(nil)
