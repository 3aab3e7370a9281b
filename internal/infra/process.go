package infra

import (
	"os"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists. Works on Windows, where signal 0 does not.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// HostFields describes the host for the watchdog's startup log entry.
// Missing information is skipped.
func HostFields() []zap.Field {
	info, err := host.Info()
	if err != nil {
		return []zap.Field{zap.NamedError("host_info_error", err)}
	}
	return []zap.Field{
		zap.String("hostname", info.Hostname),
		zap.String("os", info.OS),
		zap.String("platform", info.Platform),
		zap.String("platform_version", info.PlatformVersion),
		zap.String("kernel_version", info.KernelVersion),
		zap.Uint64("uptime_seconds", info.Uptime),
	}
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
