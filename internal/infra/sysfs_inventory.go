package infra

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

const (
	pciVendorNVIDIA = "0x10de"
	pciClassHDAudio = "0x0403" // multimedia / audio device, any prog-if
)

var pciVendorNames = map[string]string{
	pciVendorNVIDIA: "NVIDIA",
	"0x1002":        "AMD",
	"0x8086":        "Intel",
	"0x10ec":        "Realtek",
}

// SysfsInventory implements domain.DeviceInventory over the PCI tree in
// sysfs. Only HD Audio class functions are listed. A function bound to a
// driver is enabled; disabling unbinds it.
type SysfsInventory struct {
	// sysRoot is "/sys" in production and a synthetic tree in tests.
	sysRoot string
	logger  *zap.Logger
}

// NewSysfsInventory reads from the real /sys.
func NewSysfsInventory(logger *zap.Logger) *SysfsInventory {
	return &SysfsInventory{sysRoot: "/sys", logger: logger}
}

func newSysfsInventoryAt(sysRoot string, logger *zap.Logger) *SysfsInventory {
	return &SysfsInventory{sysRoot: sysRoot, logger: logger}
}

func (s *SysfsInventory) devicesDir() string {
	return filepath.Join(s.sysRoot, "bus", "pci", "devices")
}

// ListDevices returns every PCI HD Audio function.
func (s *SysfsInventory) ListDevices(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewAccessError("list pci devices", err)
	}

	entries, err := os.ReadDir(s.devicesDir())
	if err != nil {
		return nil, domain.NewAccessError("list pci devices", err)
	}

	var devices []domain.Device
	for _, entry := range entries {
		path := filepath.Join(s.devicesDir(), entry.Name())
		class := strings.ToLower(readSysfsString(filepath.Join(path, "class")))
		if !strings.HasPrefix(class, pciClassHDAudio) {
			continue
		}

		devices = append(devices, domain.Device{
			ID:          entry.Name(),
			DisplayName: pciDisplayName(path, entry.Name()),
			Status:      s.status(path),
		})
	}
	return devices, nil
}

func (s *SysfsInventory) status(path string) domain.DeviceStatus {
	_, err := os.Lstat(filepath.Join(path, "driver"))
	switch {
	case err == nil:
		return domain.StatusEnabled
	case errors.Is(err, fs.ErrNotExist):
		return domain.StatusDisabled
	default:
		s.logger.Debug("cannot read driver binding",
			zap.String("path", path),
			zap.Error(err))
		return domain.StatusUnknown
	}
}

// pciDisplayName names the function after its vendor so NVIDIA outputs
// read "NVIDIA High Definition Audio (0000:01:00.1)". A firmware label is
// used in place of the slot when present.
func pciDisplayName(path, slot string) string {
	vendor := strings.ToLower(readSysfsString(filepath.Join(path, "vendor")))
	name, ok := pciVendorNames[vendor]
	if !ok {
		name = "PCI " + vendor
	}
	where := slot
	if label := readSysfsString(filepath.Join(path, "label")); label != "" {
		where = label
	}
	return fmt.Sprintf("%s High Definition Audio (%s)", name, where)
}

// Disable unbinds the function from its driver.
func (s *SysfsInventory) Disable(ctx context.Context, id string) (domain.DisableResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, &domain.DeviceError{DeviceID: id, Err: err}
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return 0, &domain.DeviceError{DeviceID: id, Message: "invalid pci address"}
	}

	path := filepath.Join(s.devicesDir(), id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Gone since enumeration; nothing left to disable.
			return domain.DisableAlreadyDisabled, nil
		}
		return 0, &domain.DeviceError{DeviceID: id, Err: err}
	}
	if s.status(path) == domain.StatusDisabled {
		return domain.DisableAlreadyDisabled, nil
	}

	unbind := filepath.Join(path, "driver", "unbind")
	if err := writeSysfs(unbind, id); err != nil {
		return classifyDisableError(id, err.Error(), err)
	}
	return domain.DisableOK, nil
}

// writeSysfs writes to an existing attribute without creating it.
func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Ensure SysfsInventory implements domain.DeviceInventory.
var _ domain.DeviceInventory = (*SysfsInventory)(nil)
