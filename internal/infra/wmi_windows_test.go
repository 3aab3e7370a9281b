//go:build windows

package infra

import (
	"errors"
	"testing"

	ole "github.com/go-ole/go-ole"
	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

func TestPnPStatus(t *testing.T) {
	code := func(v uint32) *uint32 { return &v }
	tests := []struct {
		name string
		code *uint32
		want domain.DeviceStatus
	}{
		{"null", nil, domain.StatusUnknown},
		{"working", code(0), domain.StatusEnabled},
		{"disabled", code(22), domain.StatusDisabled},
		{"driver problem", code(28), domain.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pnpStatus(tt.code))
		})
	}
}

func TestPSQuote(t *testing.T) {
	assert.Equal(t, `'HDAUDIO\FUNC_01&VEN_10DE'`, psQuote(`HDAUDIO\FUNC_01&VEN_10DE`))
	assert.Equal(t, `'it''s'`, psQuote(`it's`))
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t,
		`"C:\Program Files\hdaguard\hdaguard.exe" run --config C:\ProgramData\hdaguard\hdaguard.yaml`,
		commandLine(`C:\Program Files\hdaguard\hdaguard.exe`, `C:\ProgramData\hdaguard\hdaguard.yaml`))
	assert.Equal(t, `C:\hdaguard.exe run`, commandLine(`C:\hdaguard.exe`, ""))
}

func TestCOMInitResult(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantUsable      bool
		wantInitialized bool
	}{
		{"S_OK", nil, true, true},
		{"S_FALSE", ole.NewError(sFalse), true, true},
		{"RPC_E_CHANGED_MODE", ole.NewError(rpcChangeMode), true, false},
		{"E_OUTOFMEMORY", ole.NewError(0x8007000E), false, false},
		{"not a COM error", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usable, initialized := comInitResult(tt.err)
			assert.Equal(t, tt.wantUsable, usable)
			assert.Equal(t, tt.wantInitialized, initialized, "CoUninitialize only balances a successful init")
		})
	}
}
