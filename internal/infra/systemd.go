package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// Restart policy: back after a minute, at most 3 restarts per 10 minutes.
const systemdUnitTemplate = `[Unit]
Description=Keeps NVIDIA HD Audio outputs disabled
After=systemd-udevd.service
StartLimitIntervalSec=600
StartLimitBurst=3

[Service]
Type=simple
ExecStart={{.ExecutablePath}} run{{if .ConfigPath}} --config {{.ConfigPath}}{{end}}
Restart=on-failure
RestartSec=60
KillSignal=SIGTERM
TimeoutStopSec=30

[Install]
WantedBy=multi-user.target
`

const defaultUnitDir = "/etc/systemd/system"

type unitConfig struct {
	ExecutablePath string
	ConfigPath     string
}

// CommandRunner runs an external command.
type CommandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, bytes.TrimSpace(out))
	}
	return nil
}

// SystemdManager implements domain.ServiceManager with a systemd unit.
type SystemdManager struct {
	unitName string
	unitPath string
	run      CommandRunner
}

// NewSystemdManager creates a manager for /etc/systemd/system/hdaguard.service.
func NewSystemdManager() *SystemdManager {
	return NewSystemdManagerAt(defaultUnitDir, runCommand)
}

// NewSystemdManagerAt creates a manager writing units into unitDir.
func NewSystemdManagerAt(unitDir string, run CommandRunner) *SystemdManager {
	unitName := AppName + ".service"
	return &SystemdManager{
		unitName: unitName,
		unitPath: filepath.Join(unitDir, unitName),
		run:      run,
	}
}

// generateUnit renders the unit file for execPath.
func (m *SystemdManager) generateUnit(execPath, configPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(systemdUnitTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unitConfig{ExecutablePath: execPath, ConfigPath: configPath}); err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *SystemdManager) writeUnit(execPath, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(m.unitPath), 0755); err != nil {
		return err
	}
	content, err := m.generateUnit(execPath, configPath)
	if err != nil {
		return err
	}
	return os.WriteFile(m.unitPath, content, 0644)
}

// Install writes the unit, enables it at boot and starts it.
func (m *SystemdManager) Install(execPath, configPath string) error {
	if err := m.writeUnit(execPath, configPath); err != nil {
		return fmt.Errorf("failed to write unit: %w", err)
	}
	if err := m.run("systemctl", "daemon-reload"); err != nil {
		return err
	}
	return m.run("systemctl", "enable", "--now", m.unitName)
}

// Uninstall stops, disables and removes the unit.
func (m *SystemdManager) Uninstall() error {
	// Ignore errors if not running
	_ = m.run("systemctl", "disable", "--now", m.unitName)

	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return m.run("systemctl", "daemon-reload")
}

// IsInstalled checks if the unit file exists.
func (m *SystemdManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate checks if the unit exists but differs from what Install writes.
func (m *SystemdManager) NeedsUpdate(execPath, configPath string) bool {
	if !m.IsInstalled() {
		return false // Needs install, not update
	}

	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.generateUnit(execPath, configPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update rewrites the unit and restarts the service.
func (m *SystemdManager) Update(execPath, configPath string) error {
	if err := m.writeUnit(execPath, configPath); err != nil {
		return fmt.Errorf("failed to write unit: %w", err)
	}
	if err := m.run("systemctl", "daemon-reload"); err != nil {
		return err
	}
	return m.run("systemctl", "restart", m.unitName)
}

// Describe returns the unit file path.
func (m *SystemdManager) Describe() string {
	return m.unitPath
}

// Ensure SystemdManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SystemdManager)(nil)
