//go:build linux

package infra

import "github.com/eliteGoblin/focusd/hdaguard/internal/domain"

// NewServiceManager returns the systemd unit manager.
func NewServiceManager() domain.ServiceManager {
	return NewSystemdManager()
}
