// Package config holds the service configuration. Every field is optional;
// the Get* accessors supply defaults for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/incubator.report/internal/storage"
)

// DefaultConfigPath is the config file read when -config is not given and
// the file exists.
const DefaultConfigPath = "config/incubator.defaults.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Durations are strings such as "5m".
type Config struct {
	Listen      *string `json:"listen,omitempty" yaml:"listen,omitempty" env:"INCUBATOR_LISTEN"`
	DataDir     *string `json:"data_dir,omitempty" yaml:"data_dir,omitempty" env:"INCUBATOR_DATA_DIR"`
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty" env:"INCUBATOR_DB_PATH"`
	HardwareURL *string `json:"hardware_url,omitempty" yaml:"hardware_url,omitempty" env:"INCUBATOR_HARDWARE_URL"`
	CaptureMode *string `json:"capture_mode,omitempty" yaml:"capture_mode,omitempty" env:"INCUBATOR_CAPTURE_MODE"`

	// Recorder
	PollInterval  *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty" env:"INCUBATOR_POLL_INTERVAL"`
	FlushRows     *int    `json:"flush_rows,omitempty" yaml:"flush_rows,omitempty" env:"INCUBATOR_FLUSH_ROWS"`
	FlushInterval *string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty" env:"INCUBATOR_FLUSH_INTERVAL"`
	RetentionDays *int    `json:"retention_days,omitempty" yaml:"retention_days,omitempty" env:"INCUBATOR_RETENTION_DAYS"`

	// Pipeline
	RefreshInterval  *string `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty" env:"INCUBATOR_REFRESH_INTERVAL"`
	GapThreshold     *string `json:"gap_threshold,omitempty" yaml:"gap_threshold,omitempty" env:"INCUBATOR_GAP_THRESHOLD"`
	DownsampleCap    *int    `json:"downsample_cap,omitempty" yaml:"downsample_cap,omitempty" env:"INCUBATOR_DOWNSAMPLE_CAP"`
	CorrelationSlack *string `json:"correlation_slack,omitempty" yaml:"correlation_slack,omitempty" env:"INCUBATOR_CORRELATION_SLACK"`

	// Simulated capture
	SimulatedPlates *int `json:"simulated_plates,omitempty" yaml:"simulated_plates,omitempty" env:"INCUBATOR_SIMULATED_PLATES"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Load reads a .json, .yaml or .yml config file. Omitted fields stay nil.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from INCUBATOR_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return c.Validate()
}

// Validate checks every field that is set.
func (c *Config) Validate() error {
	if c.CaptureMode != nil && *c.CaptureMode != storage.ModeLive && *c.CaptureMode != storage.ModeSimulated {
		return fmt.Errorf("capture_mode must be %q or %q, got %q", storage.ModeLive, storage.ModeSimulated, *c.CaptureMode)
	}

	durations := []struct {
		name  string
		value *string
		zero  bool
	}{
		{"poll_interval", c.PollInterval, false},
		{"flush_interval", c.FlushInterval, false},
		{"refresh_interval", c.RefreshInterval, false},
		{"gap_threshold", c.GapThreshold, true},
		{"correlation_slack", c.CorrelationSlack, true},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 || (v == 0 && !d.zero) {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	if c.DownsampleCap != nil && *c.DownsampleCap <= 0 {
		return fmt.Errorf("downsample_cap must be positive, got %d", *c.DownsampleCap)
	}
	if c.FlushRows != nil && *c.FlushRows <= 0 {
		return fmt.Errorf("flush_rows must be positive, got %d", *c.FlushRows)
	}
	if c.RetentionDays != nil && *c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be non-negative, got %d", *c.RetentionDays)
	}
	if c.SimulatedPlates != nil && (*c.SimulatedPlates < 0 || *c.SimulatedPlates > 4) {
		return fmt.Errorf("simulated_plates must be between 0 and 4, got %d", *c.SimulatedPlates)
	}
	return nil
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func str(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func num(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (c *Config) GetListen() string      { return str(c.Listen, ":8080") }
func (c *Config) GetDataDir() string     { return str(c.DataDir, "data") }
func (c *Config) GetHardwareURL() string { return str(c.HardwareURL, "http://localhost:5000") }
func (c *Config) GetCaptureMode() string { return str(c.CaptureMode, storage.ModeLive) }

// GetDBPath defaults to events.db inside the data directory.
func (c *Config) GetDBPath() string {
	return str(c.DBPath, filepath.Join(c.GetDataDir(), "events.db"))
}

func (c *Config) GetPollInterval() time.Duration    { return duration(c.PollInterval, 5*time.Second) }
func (c *Config) GetFlushInterval() time.Duration   { return duration(c.FlushInterval, time.Minute) }
func (c *Config) GetRefreshInterval() time.Duration { return duration(c.RefreshInterval, 30*time.Second) }
func (c *Config) GetGapThreshold() time.Duration    { return duration(c.GapThreshold, 5*time.Minute) }
func (c *Config) GetCorrelationSlack() time.Duration {
	return duration(c.CorrelationSlack, time.Minute)
}

func (c *Config) GetFlushRows() int     { return num(c.FlushRows, 60) }
func (c *Config) GetDownsampleCap() int { return num(c.DownsampleCap, 500) }

// GetRetentionDays returns how many days of capture files to keep; 0
// disables pruning.
func (c *Config) GetRetentionDays() int   { return num(c.RetentionDays, 90) }
func (c *Config) GetSimulatedPlates() int { return num(c.SimulatedPlates, 2) }

// Effective is the fully resolved configuration, as served by /api/config.
type Effective struct {
	Listen           string `json:"listen"`
	DataDir          string `json:"data_dir"`
	DBPath           string `json:"db_path"`
	HardwareURL      string `json:"hardware_url"`
	CaptureMode      string `json:"capture_mode"`
	PollInterval     string `json:"poll_interval"`
	FlushRows        int    `json:"flush_rows"`
	FlushInterval    string `json:"flush_interval"`
	RetentionDays    int    `json:"retention_days"`
	RefreshInterval  string `json:"refresh_interval"`
	GapThreshold     string `json:"gap_threshold"`
	DownsampleCap    int    `json:"downsample_cap"`
	CorrelationSlack string `json:"correlation_slack"`
	SimulatedPlates  int    `json:"simulated_plates"`
}

// Resolve applies every default.
func (c *Config) Resolve() Effective {
	return Effective{
		Listen:           c.GetListen(),
		DataDir:          c.GetDataDir(),
		DBPath:           c.GetDBPath(),
		HardwareURL:      c.GetHardwareURL(),
		CaptureMode:      c.GetCaptureMode(),
		PollInterval:     c.GetPollInterval().String(),
		FlushRows:        c.GetFlushRows(),
		FlushInterval:    c.GetFlushInterval().String(),
		RetentionDays:    c.GetRetentionDays(),
		RefreshInterval:  c.GetRefreshInterval().String(),
		GapThreshold:     c.GetGapThreshold().String(),
		DownsampleCap:    c.GetDownsampleCap(),
		CorrelationSlack: c.GetCorrelationSlack().String(),
		SimulatedPlates:  c.GetSimulatedPlates(),
	}
}
