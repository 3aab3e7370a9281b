//go:build windows

package infra

import (
	"context"
	"os/exec"
	"strings"
	"syscall"

	"github.com/yusufpapurcu/wmi"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

const (
	pnpEntityQuery = "SELECT Name, DeviceID, ConfigManagerErrorCode FROM Win32_PnPEntity WHERE Name IS NOT NULL"

	// Config Manager problem code for a device disabled by the user.
	cmProbDisabled = 22
)

// win32PnPEntity maps the Win32_PnPEntity columns we read. Pointer fields
// tolerate NULL values, which WMI returns for phantom devices.
type win32PnPEntity struct {
	Name                   *string
	DeviceID               *string
	ConfigManagerErrorCode *uint32
}

// WMIInventory implements domain.DeviceInventory with WMI for enumeration
// and the PnP device cmdlets for disabling.
type WMIInventory struct {
	logger *zap.Logger
}

// NewWMIInventory creates a WMI inventory.
func NewWMIInventory(logger *zap.Logger) *WMIInventory {
	return &WMIInventory{logger: logger}
}

// ListDevices queries Win32_PnPEntity.
func (w *WMIInventory) ListDevices(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewAccessError("query Win32_PnPEntity", err)
	}

	var entities []win32PnPEntity
	if err := wmi.Query(pnpEntityQuery, &entities); err != nil {
		return nil, domain.NewAccessError("query Win32_PnPEntity", err)
	}

	devices := make([]domain.Device, 0, len(entities))
	for _, e := range entities {
		if e.DeviceID == nil || e.Name == nil {
			continue
		}
		devices = append(devices, domain.Device{
			ID:          *e.DeviceID,
			DisplayName: *e.Name,
			Status:      pnpStatus(e.ConfigManagerErrorCode),
		})
	}
	return devices, nil
}

func pnpStatus(code *uint32) domain.DeviceStatus {
	switch {
	case code == nil:
		return domain.StatusUnknown
	case *code == 0:
		return domain.StatusEnabled
	case *code == cmProbDisabled:
		return domain.StatusDisabled
	default:
		return domain.StatusError
	}
}

// Disable runs Disable-PnpDevice for the instance ID.
func (w *WMIInventory) Disable(ctx context.Context, id string) (domain.DisableResult, error) {
	script := "Disable-PnpDevice -InstanceId " + psQuote(id) + " -Confirm:$false -ErrorAction Stop"
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}

	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		w.logger.Debug("Disable-PnpDevice failed",
			zap.String("device_id", id),
			zap.String("output", msg))
		return classifyDisableError(id, msg, err)
	}
	return domain.DisableOK, nil
}

// psQuote wraps s in a single-quoted PowerShell literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Ensure WMIInventory implements domain.DeviceInventory.
var _ domain.DeviceInventory = (*WMIInventory)(nil)
