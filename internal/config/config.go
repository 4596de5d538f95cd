package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/eufyscope/internal/analysis"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/eufyscope/config.yaml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/eufyscope/dashboards"
	DefaultLogLevel     = "info"
	DefaultBlobPrefix   = "eufyscope"

	DefaultPollInterval       = 10 * time.Second
	DefaultInvestigationDir   = "/var/lib/eufyscope/investigation"
	DefaultAccessoryDir       = "/var/lib/eufyscope/accessories"
	DefaultMinLogInterval     = 30 * time.Second
	DefaultMaxMonitoringFiles = 10
	DefaultPeriodicEvery      = 20
	DefaultRequestsPerMinute  = 30
	DefaultHistoryDatabase    = "eufyscope"
)

// Config is the daemon configuration file.
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	Core          *CoreConfig    `yaml:"core"`
	Blob          *BlobConfig    `yaml:"blob,omitempty"`
	History       *HistoryConfig `yaml:"history,omitempty"`
	Eufy          *EufyConfig    `yaml:"eufy,omitempty"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

// BlobConfig points at an S3-compatible bucket used to mirror artifacts.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// HistoryConfig enables the ClickHouse capture archive.
type HistoryConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
}

type EufyConfig struct {
	BootstrapFile string              `yaml:"bootstrap_file"`
	StateFile     string              `yaml:"state_file"`
	Devices       []DeviceConfig      `yaml:"devices"`
	PollInterval  time.Duration       `yaml:"poll_interval"`
	MQTT          bool                `yaml:"mqtt"`
	AccessoryDir  string              `yaml:"accessory_dir"`
	Investigation InvestigationConfig `yaml:"investigation"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	API           APIConfig           `yaml:"api"`
}

type DeviceConfig struct {
	ID    string `yaml:"id"`
	Model string `yaml:"model"`
	Name  string `yaml:"name"`
}

type InvestigationConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Dir                string        `yaml:"dir"`
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxMonitoringFiles int           `yaml:"max_monitoring_files"`
	PeriodicEvery      int           `yaml:"periodic_every"`
}

type AnalysisConfig struct {
	PercentRange    analysis.Range       `yaml:"percent_range"`
	HoursRange      analysis.Range       `yaml:"hours_range"`
	ExcludedKeys    []string             `yaml:"excluded_keys"`
	ExcludedOffsets []int                `yaml:"excluded_offsets"`
	Thresholds      *analysis.Thresholds `yaml:"thresholds,omitempty"`
}

type APIConfig struct {
	BaseURL           string `yaml:"base_url"`
	CleanAPIURL       string `yaml:"clean_api_url"`
	LoginURL          string `yaml:"login_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}
	if cfg.History != nil && cfg.History.Database == "" {
		cfg.History.Database = DefaultHistoryDatabase
	}

	if cfg.Eufy == nil {
		return
	}
	e := cfg.Eufy
	if e.PollInterval == 0 {
		e.PollInterval = DefaultPollInterval
	}
	if e.AccessoryDir == "" {
		e.AccessoryDir = DefaultAccessoryDir
	}
	if e.Investigation.Dir == "" {
		e.Investigation.Dir = DefaultInvestigationDir
	}
	if e.Investigation.MinInterval == 0 {
		e.Investigation.MinInterval = DefaultMinLogInterval
	}
	if e.Investigation.MaxMonitoringFiles == 0 {
		e.Investigation.MaxMonitoringFiles = DefaultMaxMonitoringFiles
	}
	if e.Investigation.PeriodicEvery == 0 {
		e.Investigation.PeriodicEvery = DefaultPeriodicEvery
	}
	if e.Analysis.PercentRange.IsZero() {
		e.Analysis.PercentRange = analysis.DefaultPercentRange
	}
	if e.Analysis.HoursRange.IsZero() {
		e.Analysis.HoursRange = analysis.DefaultHoursRange
	}
	if e.Analysis.Thresholds == nil {
		t := analysis.DefaultThresholds()
		e.Analysis.Thresholds = &t
	}
	if e.API.RequestsPerMinute == 0 {
		e.API.RequestsPerMinute = DefaultRequestsPerMinute
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if b := cfg.Blob; b != nil {
		if b.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if b.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if b.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if b.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	if h := cfg.History; h != nil && h.Addr == "" {
		return fmt.Errorf("history.addr is required")
	}

	if e := cfg.Eufy; e != nil {
		if e.BootstrapFile == "" {
			return fmt.Errorf("eufy.bootstrap_file is required")
		}
		if len(e.Devices) == 0 {
			return fmt.Errorf("eufy.devices must list at least one device")
		}
		seen := make(map[string]bool, len(e.Devices))
		for i, dev := range e.Devices {
			if dev.ID == "" {
				return fmt.Errorf("eufy.devices[%d].id is required", i)
			}
			if seen[dev.ID] {
				return fmt.Errorf("duplicate eufy device id: %s", dev.ID)
			}
			seen[dev.ID] = true
		}
		if e.PollInterval < time.Second {
			return fmt.Errorf("eufy.poll_interval must be at least 1s")
		}
		if err := e.Analysis.PercentRange.Validate(); err != nil {
			return fmt.Errorf("eufy.analysis.percent_range: %w", err)
		}
		if err := e.Analysis.HoursRange.Validate(); err != nil {
			return fmt.Errorf("eufy.analysis.hours_range: %w", err)
		}
		if err := e.Analysis.Thresholds.Validate(); err != nil {
			return fmt.Errorf("eufy.analysis.thresholds: %w", err)
		}
		if e.Investigation.MaxMonitoringFiles < 1 {
			return fmt.Errorf("eufy.investigation.max_monitoring_files must be positive")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Eufy != nil {
		enabled["eufy"] = true
	}
	return enabled
}

// BootstrapPathForProvider resolves the bootstrap file path from config.
func BootstrapPathForProvider(cfg *Config, provider string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("config is required")
	}
	switch provider {
	case "eufy":
		if cfg.Eufy == nil || cfg.Eufy.BootstrapFile == "" {
			return "", fmt.Errorf("eufy bootstrap_file is required")
		}
		return cfg.Eufy.BootstrapFile, nil
	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
}
