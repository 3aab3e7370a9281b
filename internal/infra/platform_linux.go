//go:build linux

package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// NewPlatformInventory returns the sysfs device inventory.
func NewPlatformInventory(logger *zap.Logger) domain.DeviceInventory {
	return NewSysfsInventory(logger)
}

// NewPlatformEventSource returns the netlink uevent source.
func NewPlatformEventSource(logger *zap.Logger) domain.EventSource {
	return NewUeventSource(logger)
}
