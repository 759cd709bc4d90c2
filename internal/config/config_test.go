package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	if got := cfg.GetGapThreshold(); got != 5*time.Minute {
		t.Errorf("GetGapThreshold() = %v, want 5m", got)
	}
	if got := cfg.GetDownsampleCap(); got != 500 {
		t.Errorf("GetDownsampleCap() = %d, want 500", got)
	}
	if got := cfg.GetCorrelationSlack(); got != time.Minute {
		t.Errorf("GetCorrelationSlack() = %v, want 1m", got)
	}
	if got := cfg.GetDBPath(); got != filepath.Join("data", "events.db") {
		t.Errorf("GetDBPath() = %q", got)
	}
	assert.Equal(t, "live", cfg.GetCaptureMode())
	assert.Equal(t, 60, cfg.GetFlushRows())
	assert.Equal(t, 90, cfg.GetRetentionDays())
}

func TestLoad_DefaultsFileMatchesGetters(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	// The shipped defaults file must agree with the built-in defaults.
	assert.Equal(t, (&Config{}).Resolve(), cfg.Resolve())
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "incubator.json", `{
  "listen": ":9090",
  "capture_mode": "simulated",
  "gap_threshold": "90s",
  "downsample_cap": 200
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, "simulated", cfg.GetCaptureMode())
	assert.Equal(t, 90*time.Second, cfg.GetGapThreshold())
	assert.Equal(t, 200, cfg.GetDownsampleCap())
	assert.Nil(t, cfg.PollInterval, "omitted fields stay unset")
	assert.Equal(t, 5*time.Second, cfg.GetPollInterval())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "incubator.yml", "data_dir: /var/lib/incubator\nretention_days: 0\nflush_rows: 10\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/incubator", cfg.GetDataDir())
	assert.Equal(t, filepath.Join("/var/lib/incubator", "events.db"), cfg.GetDBPath())
	assert.Equal(t, 0, cfg.GetRetentionDays())
	assert.Equal(t, 10, cfg.GetFlushRows())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "incubator.toml", "listen = ':1'", "extension"},
		{"bad json", "incubator.json", "{", "failed to parse"},
		{"bad yaml", "incubator.yaml", "listen: [", "failed to parse"},
		{"mode", "incubator.json", `{"capture_mode": "replay"}`, "capture_mode"},
		{"duration", "incubator.json", `{"poll_interval": "soon"}`, "poll_interval"},
		{"zero poll", "incubator.json", `{"poll_interval": "0s"}`, "must be positive"},
		{"negative gap", "incubator.yaml", "gap_threshold: -1m", "gap_threshold"},
		{"cap", "incubator.json", `{"downsample_cap": 0}`, "downsample_cap"},
		{"retention", "incubator.json", `{"retention_days": -1}`, "retention_days"},
		{"plates", "incubator.json", `{"simulated_plates": 5}`, "simulated_plates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_TooLarge(t *testing.T) {
	body := `{"listen": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := Load(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("INCUBATOR_LISTEN", ":7070")
	t.Setenv("INCUBATOR_DOWNSAMPLE_CAP", "250")
	t.Setenv("INCUBATOR_CORRELATION_SLACK", "30s")

	cfg := &Config{Listen: ptrString(":9090"), FlushRows: ptrInt(5)}
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, ":7070", cfg.GetListen(), "env overrides file")
	assert.Equal(t, 250, cfg.GetDownsampleCap())
	assert.Equal(t, 30*time.Second, cfg.GetCorrelationSlack())
	assert.Equal(t, 5, cfg.GetFlushRows(), "unset env leaves file value")
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("INCUBATOR_FLUSH_ROWS", "many")
	assert.Error(t, (&Config{}).ApplyEnv())

	t.Setenv("INCUBATOR_FLUSH_ROWS", "-3")
	assert.Error(t, (&Config{}).ApplyEnv())
}

func TestResolve(t *testing.T) {
	cfg := &Config{GapThreshold: ptrString("2m"), HardwareURL: ptrString("http://10.0.0.5")}
	eff := cfg.Resolve()
	assert.Equal(t, "2m0s", eff.GapThreshold)
	assert.Equal(t, "http://10.0.0.5", eff.HardwareURL)
	assert.Equal(t, 500, eff.DownsampleCap)
}
