//go:build windows

package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// NewPlatformInventory returns the WMI device inventory.
func NewPlatformInventory(logger *zap.Logger) domain.DeviceInventory {
	return NewWMIInventory(logger)
}

// NewPlatformEventSource returns the WMI device change source.
func NewPlatformEventSource(logger *zap.Logger) domain.EventSource {
	return NewWMIEventSource(logger)
}
