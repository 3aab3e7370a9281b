//go:build !windows

package infra

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// pciFunction describes one entry in a synthetic sysfs tree.
type pciFunction struct {
	slot   string
	vendor string
	class  string
	label  string
	bound  bool
}

func writeSyntheticFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0644))
}

// newSyntheticSysfs builds sysRoot/bus/pci/{devices,drivers} for fns.
func newSyntheticSysfs(t *testing.T, fns ...pciFunction) string {
	t.Helper()
	root := t.TempDir()
	driverDir := filepath.Join(root, "bus", "pci", "drivers", "snd_hda_intel")
	writeSyntheticFile(t, filepath.Join(driverDir, "unbind"), "")

	for _, fn := range fns {
		dev := filepath.Join(root, "bus", "pci", "devices", fn.slot)
		writeSyntheticFile(t, filepath.Join(dev, "vendor"), fn.vendor)
		writeSyntheticFile(t, filepath.Join(dev, "class"), fn.class)
		if fn.label != "" {
			writeSyntheticFile(t, filepath.Join(dev, "label"), fn.label)
		}
		if fn.bound {
			require.NoError(t, os.Symlink(driverDir, filepath.Join(dev, "driver")))
		}
	}
	return root
}

func TestSysfsInventory_ListDevices(t *testing.T) {
	root := newSyntheticSysfs(t,
		pciFunction{slot: "0000:01:00.0", vendor: "0x10de", class: "0x030000", bound: true}, // GPU
		pciFunction{slot: "0000:01:00.1", vendor: "0x10de", class: "0x040300", bound: true},
		pciFunction{slot: "0000:02:00.1", vendor: "0x10DE", class: "0x040300", bound: false, label: "Monitor B"},
		pciFunction{slot: "0000:00:1f.3", vendor: "0x8086", class: "0x040380", bound: true},
	)
	inv := newSysfsInventoryAt(root, zap.NewNop())

	devices, err := inv.ListDevices(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []domain.Device{
		{ID: "0000:01:00.1", DisplayName: "NVIDIA High Definition Audio (0000:01:00.1)", Status: domain.StatusEnabled},
		{ID: "0000:02:00.1", DisplayName: "NVIDIA High Definition Audio (Monitor B)", Status: domain.StatusDisabled},
		{ID: "0000:00:1f.3", DisplayName: "Intel High Definition Audio (0000:00:1f.3)", Status: domain.StatusEnabled},
	}, devices)
}

func TestSysfsInventory_ListDevices_Unavailable(t *testing.T) {
	inv := newSysfsInventoryAt(filepath.Join(t.TempDir(), "missing"), zap.NewNop())

	_, err := inv.ListDevices(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAccess))
	var accessErr *domain.AccessError
	assert.ErrorAs(t, err, &accessErr)
}

func TestSysfsInventory_Disable(t *testing.T) {
	root := newSyntheticSysfs(t,
		pciFunction{slot: "0000:01:00.1", vendor: "0x10de", class: "0x040300", bound: true},
		pciFunction{slot: "0000:02:00.1", vendor: "0x10de", class: "0x040300", bound: false},
	)
	inv := newSysfsInventoryAt(root, zap.NewNop())
	ctx := context.Background()

	t.Run("bound function is unbound", func(t *testing.T) {
		result, err := inv.Disable(ctx, "0000:01:00.1")
		require.NoError(t, err)
		assert.Equal(t, domain.DisableOK, result)

		written, err := os.ReadFile(filepath.Join(root, "bus", "pci", "drivers", "snd_hda_intel", "unbind"))
		require.NoError(t, err)
		assert.Equal(t, "0000:01:00.1", string(written)[:len("0000:01:00.1")])
	})

	t.Run("unbound function is already disabled", func(t *testing.T) {
		result, err := inv.Disable(ctx, "0000:02:00.1")
		require.NoError(t, err)
		assert.Equal(t, domain.DisableAlreadyDisabled, result)
	})

	t.Run("vanished function is already disabled", func(t *testing.T) {
		result, err := inv.Disable(ctx, "0000:09:00.1")
		require.NoError(t, err)
		assert.Equal(t, domain.DisableAlreadyDisabled, result)
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		_, err := inv.Disable(ctx, "../../drivers/snd_hda_intel")
		var devErr *domain.DeviceError
		require.ErrorAs(t, err, &devErr)
		assert.Equal(t, "invalid pci address", devErr.Message)
	})

	t.Run("canceled context is a hard failure", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := inv.Disable(canceled, "0000:01:00.1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSysfsInventory_Disable_MissingUnbindAttribute(t *testing.T) {
	root := newSyntheticSysfs(t,
		pciFunction{slot: "0000:01:00.1", vendor: "0x10de", class: "0x040300", bound: true},
	)
	// Point the binding at a driver directory without an unbind attribute.
	dev := filepath.Join(root, "bus", "pci", "devices", "0000:01:00.1")
	require.NoError(t, os.Remove(filepath.Join(dev, "driver")))
	bare := filepath.Join(root, "bus", "pci", "drivers", "bare")
	require.NoError(t, os.MkdirAll(bare, 0755))
	require.NoError(t, os.Symlink(bare, filepath.Join(dev, "driver")))

	inv := newSysfsInventoryAt(root, zap.NewNop())
	result, err := inv.Disable(context.Background(), "0000:01:00.1")

	// ENOENT on the attribute reads as "no such file or directory".
	require.NoError(t, err)
	assert.Equal(t, domain.DisableAlreadyDisabled, result)
}
