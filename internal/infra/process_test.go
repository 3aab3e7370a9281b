package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()

	assert.True(t, pm.IsRunning(pm.GetCurrentPID()))
	assert.False(t, pm.IsRunning(0))
	assert.False(t, pm.IsRunning(-1))
}

func TestHostFields(t *testing.T) {
	fields := HostFields()
	require.NotEmpty(t, fields)

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	if _, failed := enc.Fields["host_info_error"]; failed {
		t.Skip("host info unavailable in this environment")
	}
	assert.Contains(t, enc.Fields, "hostname")
	assert.Contains(t, enc.Fields, "os")
}
