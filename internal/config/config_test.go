package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/hdaguard/internal/policy"
)

func TestDefault(t *testing.T) {
	cfg := Default("/var/lib/hdaguard", "/var/log/hdaguard/hdaguard.log")

	assert.Equal(t, policy.DefaultPattern, cfg.DevicePattern)
	assert.Equal(t, 300*time.Second, cfg.RetryInterval())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.LongRetryInterval())
	assert.Equal(t, 14*24*time.Hour, cfg.LogRetention())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	defaults := Default("/data", "/log")
	cfg, err := Load("", defaults)

	require.NoError(t, err)
	assert.Equal(t, *defaults, *cfg)
	assert.NotSame(t, defaults, cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdaguard.yaml")
	content := `
device_pattern: "*HDMI Audio*"
retry_interval_seconds: 60
max_retries: 5
log:
  level: debug
metrics:
  textfile: /var/lib/node_exporter/hdaguard.prom
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, Default("/data", "/log/hdaguard.log"))
	require.NoError(t, err)

	assert.Equal(t, "*HDMI Audio*", cfg.DevicePattern)
	assert.Equal(t, time.Minute, cfg.RetryInterval())
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.LongRetryInterval(), "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/log/hdaguard.log", cfg.Log.Path)
	assert.Equal(t, "/var/lib/node_exporter/hdaguard.prom", cfg.Metrics.Textfile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Default("", ""))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: [1, 2"), 0644))

	_, err := Load(path, Default("", ""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty pattern", func(c *Config) { c.DevicePattern = "" }, errEmptyPattern},
		{"zero retry interval", func(c *Config) { c.RetryIntervalSeconds = 0 }, errRetryInterval},
		{"negative long interval", func(c *Config) { c.LongRetryIntervalMinutes = -1 }, errLongRetryInterval},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, errMaxRetries},
		{"negative retention", func(c *Config) { c.Log.RetentionDays = -1 }, errRetention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("", "")
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_ZeroRetriesAllowed(t *testing.T) {
	cfg := Default("", "")
	cfg.MaxRetries = 0
	assert.NoError(t, cfg.Validate())
}

func TestPolicy(t *testing.T) {
	cfg := Default("", "")
	cfg.TargetAllMatches = true

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultPattern, p.Pattern())
	assert.True(t, p.TargetAll())
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "hdaguard.yaml")
	cfg := Default("/var/lib/hdaguard", "/var/log/hdaguard/hdaguard.log")
	cfg.MaxRetries = 7
	cfg.Metrics.Textfile = "/var/lib/node_exporter/hdaguard.prom"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, Default("", ""))
	require.NoError(t, err)
	assert.Equal(t, *cfg, *loaded)
}

func TestSave_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdaguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 9\n"), 0644))

	err := Default("", "").Save(path)

	assert.ErrorIs(t, err, os.ErrExist)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "max_retries: 9\n", string(data))
}
