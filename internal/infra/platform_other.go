//go:build !linux && !windows

package infra

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

type unsupportedInventory struct{}

// NewPlatformInventory returns an inventory that always fails with
// ErrUnsupportedPlatform.
func NewPlatformInventory(logger *zap.Logger) domain.DeviceInventory {
	return unsupportedInventory{}
}

func (unsupportedInventory) ListDevices(ctx context.Context) ([]domain.Device, error) {
	return nil, domain.NewAccessError("list devices on "+runtime.GOOS, domain.ErrUnsupportedPlatform)
}

func (unsupportedInventory) Disable(ctx context.Context, id string) (domain.DisableResult, error) {
	return 0, &domain.DeviceError{DeviceID: id, Err: domain.ErrUnsupportedPlatform}
}

type unsupportedEvents struct{}

// NewPlatformEventSource returns a source whose registration always fails.
func NewPlatformEventSource(logger *zap.Logger) domain.EventSource {
	return unsupportedEvents{}
}

func (unsupportedEvents) Subscribe(ctx context.Context, handler func(domain.DeviceEvent)) (domain.Subscription, error) {
	return nil, domain.NewAccessError("subscribe on "+runtime.GOOS, domain.ErrUnsupportedPlatform)
}
