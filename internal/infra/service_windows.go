//go:build windows

package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

const (
	serviceDisplayName = "HD Audio Guard"
	serviceDescription = "Keeps NVIDIA HD Audio outputs disabled."

	// Restart three times, one minute apart; counter resets after a day.
	recoveryRestarts    = 3
	recoveryDelay       = time.Minute
	recoveryResetPeriod = uint32(24 * 60 * 60)
)

// SCMManager implements domain.ServiceManager with the Windows service
// control manager.
type SCMManager struct {
	name string
}

// NewServiceManager returns the Windows service control manager adapter.
func NewServiceManager() domain.ServiceManager {
	return &SCMManager{name: AppName}
}

func serviceArgs(configPath string) []string {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

// commandLine mirrors how mgr.CreateService builds BinaryPathName.
func commandLine(execPath, configPath string) string {
	parts := []string{syscall.EscapeArg(execPath)}
	for _, a := range serviceArgs(configPath) {
		parts = append(parts, syscall.EscapeArg(a))
	}
	return strings.Join(parts, " ")
}

func recoveryActions() []mgr.RecoveryAction {
	actions := make([]mgr.RecoveryAction, recoveryRestarts)
	for i := range actions {
		actions[i] = mgr.RecoveryAction{Type: mgr.ServiceRestart, Delay: recoveryDelay}
	}
	return actions
}

// Install creates the service with automatic start and restart-on-failure
// recovery, then starts it.
func (m *SCMManager) Install(execPath, configPath string) error {
	scm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer scm.Disconnect()

	s, err := scm.OpenService(m.name)
	if err == nil {
		s.Close()
		return fmt.Errorf("service %s already exists", m.name)
	}

	s, err = scm.CreateService(m.name, execPath, mgr.Config{
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		StartType:   mgr.StartAutomatic,
	}, serviceArgs(configPath)...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer s.Close()

	if err := s.SetRecoveryActions(recoveryActions(), recoveryResetPeriod); err != nil {
		_ = s.Delete()
		return fmt.Errorf("failed to set recovery actions: %w", err)
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

// Uninstall stops and deletes the service.
func (m *SCMManager) Uninstall() error {
	scm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer scm.Disconnect()

	s, err := scm.OpenService(m.name)
	if err != nil {
		return fmt.Errorf("service %s is not installed: %w", m.name, err)
	}
	defer s.Close()

	// Ignore errors if already stopped
	_, _ = s.Control(svc.Stop)

	if err := s.Delete(); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

// IsInstalled checks if the service exists.
func (m *SCMManager) IsInstalled() bool {
	scm, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer scm.Disconnect()

	s, err := scm.OpenService(m.name)
	if err != nil {
		return false
	}
	s.Close()
	return true
}

// NeedsUpdate checks if the registered command line differs.
func (m *SCMManager) NeedsUpdate(execPath, configPath string) bool {
	scm, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer scm.Disconnect()

	s, err := scm.OpenService(m.name)
	if err != nil {
		return false // Needs install, not update
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return true
	}
	return !strings.EqualFold(cfg.BinaryPathName, commandLine(execPath, configPath))
}

// Update rewrites the command line and restarts the service.
func (m *SCMManager) Update(execPath, configPath string) error {
	scm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer scm.Disconnect()

	s, err := scm.OpenService(m.name)
	if err != nil {
		return fmt.Errorf("service %s is not installed: %w", m.name, err)
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return fmt.Errorf("failed to read service config: %w", err)
	}
	cfg.BinaryPathName = commandLine(execPath, configPath)
	cfg.StartType = mgr.StartAutomatic
	if err := s.UpdateConfig(cfg); err != nil {
		return fmt.Errorf("failed to update service config: %w", err)
	}
	if err := s.SetRecoveryActions(recoveryActions(), recoveryResetPeriod); err != nil {
		return fmt.Errorf("failed to set recovery actions: %w", err)
	}

	if _, err := s.Control(svc.Stop); err == nil {
		waitStopped(s, 30*time.Second)
	}
	return s.Start()
}

func waitStopped(s *mgr.Service, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := s.Query()
		if err != nil || status.State == svc.Stopped {
			return
		}
		time.Sleep(300 * time.Millisecond)
	}
}

// Describe returns the service name.
func (m *SCMManager) Describe() string {
	return "Windows service " + m.name
}

// RunService runs fn under the service control manager when started by
// it, or until Ctrl+C otherwise. Stop and shutdown requests cancel the
// context passed to fn.
func RunService(fn func(ctx context.Context) error) error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return fmt.Errorf("failed to detect service mode: %w", err)
	}
	if !isService {
		return runInteractive(fn)
	}

	h := &serviceHandler{fn: fn}
	if err := svc.Run(AppName, h); err != nil {
		return err
	}
	return h.err
}

type serviceHandler struct {
	fn  func(ctx context.Context) error
	err error
}

// Execute implements svc.Handler.
func (h *serviceHandler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.fn(ctx) }()

	changes <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case err := <-done:
			h.err = err
			changes <- svc.Status{State: svc.StopPending}
			if err != nil && !errors.Is(err, context.Canceled) {
				// Non-zero exit lets the recovery actions restart us.
				return true, uint32(windows.ERROR_SERVICE_SPECIFIC_ERROR)
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				cancel()
			}
		}
	}
}

// Ensure SCMManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SCMManager)(nil)
