//go:build !linux && !windows

package infra

import (
	"runtime"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

type unsupportedService struct{}

// NewServiceManager reports that no service manager exists on this OS.
func NewServiceManager() domain.ServiceManager {
	return unsupportedService{}
}

func (unsupportedService) Install(execPath, configPath string) error {
	return domain.NewAccessError("install service on "+runtime.GOOS, domain.ErrUnsupportedPlatform)
}

func (unsupportedService) Uninstall() error {
	return domain.NewAccessError("uninstall service on "+runtime.GOOS, domain.ErrUnsupportedPlatform)
}

func (unsupportedService) IsInstalled() bool                            { return false }
func (unsupportedService) NeedsUpdate(execPath, configPath string) bool { return false }

func (unsupportedService) Update(execPath, configPath string) error {
	return domain.NewAccessError("update service on "+runtime.GOOS, domain.ErrUnsupportedPlatform)
}

func (unsupportedService) Describe() string { return "unsupported on " + runtime.GOOS }
