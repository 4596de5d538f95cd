package eufy

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/config"
)

const (
	DefaultBaseURL     = "https://api.eufylife.com"
	DefaultCleanAPIURL = "https://aiot-clean-api-pr.eufylife.com"
	stateFileName      = "eufy-state.json"
)

// Config defines runtime configuration for the Eufy plugin.
type Config struct {
	BootstrapFile      string
	StateFile          string
	Devices            []Device
	PollInterval       time.Duration
	UseMQTT            bool
	AccessoryDir       string
	Investigate        bool
	InvestigationDir   string
	MinLogInterval     time.Duration
	MaxMonitoringFiles int
	PeriodicEvery      int
	PercentRange       analysis.Range
	HoursRange         analysis.Range
	ExcludedKeys       []string
	ExcludedOffsets    []int
	Thresholds         analysis.Thresholds
	BaseURL            string
	CleanAPIURL        string
	LoginURL           string
	RequestsPerMinute  int
}

// ConfigFromFile converts the daemon's eufy section.
func ConfigFromFile(cfg *config.EufyConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("eufy config is required")
	}
	if cfg.BootstrapFile == "" {
		return Config{}, fmt.Errorf("eufy bootstrap_file is required")
	}
	if len(cfg.Devices) == 0 {
		return Config{}, fmt.Errorf("eufy devices are required")
	}

	out := Config{
		BootstrapFile:      cfg.BootstrapFile,
		StateFile:          cfg.StateFile,
		PollInterval:       cfg.PollInterval,
		UseMQTT:            cfg.MQTT,
		AccessoryDir:       cfg.AccessoryDir,
		Investigate:        cfg.Investigation.Enabled,
		InvestigationDir:   cfg.Investigation.Dir,
		MinLogInterval:     cfg.Investigation.MinInterval,
		MaxMonitoringFiles: cfg.Investigation.MaxMonitoringFiles,
		PeriodicEvery:      cfg.Investigation.PeriodicEvery,
		PercentRange:       cfg.Analysis.PercentRange,
		HoursRange:         cfg.Analysis.HoursRange,
		ExcludedKeys:       cfg.Analysis.ExcludedKeys,
		ExcludedOffsets:    cfg.Analysis.ExcludedOffsets,
		Thresholds:         analysis.DefaultThresholds(),
		BaseURL:            cfg.API.BaseURL,
		CleanAPIURL:        cfg.API.CleanAPIURL,
		LoginURL:           cfg.API.LoginURL,
		RequestsPerMinute:  cfg.API.RequestsPerMinute,
	}
	if cfg.Analysis.Thresholds != nil {
		out.Thresholds = *cfg.Analysis.Thresholds
	}
	if out.StateFile == "" {
		out.StateFile = filepath.Join(filepath.Dir(cfg.BootstrapFile), stateFileName)
	}
	if out.PollInterval == 0 {
		out.PollInterval = config.DefaultPollInterval
	}
	if out.PercentRange.IsZero() {
		out.PercentRange = analysis.DefaultPercentRange
	}
	if out.HoursRange.IsZero() {
		out.HoursRange = analysis.DefaultHoursRange
	}
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.CleanAPIURL == "" {
		out.CleanAPIURL = DefaultCleanAPIURL
	}
	if out.RequestsPerMinute == 0 {
		out.RequestsPerMinute = config.DefaultRequestsPerMinute
	}

	for _, d := range cfg.Devices {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		out.Devices = append(out.Devices, Device{
			ID:        d.ID,
			Name:      name,
			Model:     d.Model,
			ModelName: ModelName(d.Model),
		})
	}
	return out, nil
}

// Scanner builds the offset scanner for this config.
func (c Config) Scanner() analysis.Scanner {
	s := analysis.NewScanner()
	s.HoursRange = c.HoursRange
	s.ExcludedKeys = c.ExcludedKeys
	s.ExcludedOffsets = c.ExcludedOffsets
	return s
}
