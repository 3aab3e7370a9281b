package infra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

func TestClassifyDisableMessage(t *testing.T) {
	tests := []struct {
		msg    string
		want   domain.DisableResult
		wantOK bool
	}{
		{msg: "Disable-PnpDevice : Generic failure", want: domain.DisableTransient, wantOK: true},
		{msg: "HRESULT 0x80041001", want: domain.DisableTransient, wantOK: true},
		{msg: "write /sys/bus/pci/drivers/snd_hda_intel/unbind: device or resource busy", want: domain.DisableTransient, wantOK: true},
		{msg: "The device is already disabled.", want: domain.DisableAlreadyDisabled, wantOK: true},
		{msg: "write unbind: no such device", want: domain.DisableAlreadyDisabled, wantOK: true},
		{msg: "Access is denied.", wantOK: false},
		{msg: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got, ok := ClassifyDisableMessage(tt.msg)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassifyDisableError(t *testing.T) {
	cause := errors.New("exit status 1")

	result, err := classifyDisableError("PCI\\VEN_10DE", "Generic failure", cause)
	require.NoError(t, err)
	assert.Equal(t, domain.DisableTransient, result)

	_, err = classifyDisableError("PCI\\VEN_10DE", "  Access is denied.\r\n", cause)
	var devErr *domain.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "Access is denied.", devErr.Message)
	assert.ErrorIs(t, err, cause)
}
