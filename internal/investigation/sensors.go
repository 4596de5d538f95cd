package investigation

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/accessory"
	"github.com/joshp123/eufyscope/internal/analysis"
)

// SensorSource supplies the accessory configuration recorded next to every
// capture. *accessory.Manager satisfies it.
type SensorSource interface {
	Template() (*accessory.File, error)
	Current() (*accessory.File, error)
}

// Where the accessory at a byte position was learned from.
const (
	SourceDeviceConfig = "device_config"
	SourceTemplate     = "template_config"
	SourceResearch     = "research_guess"
	SourceUnknown      = "unknown"
)

// AccessoryMatch names the accessory believed to live at a byte position.
type AccessoryMatch struct {
	Name               string `json:"name"`
	ExpectedPercentage *int   `json:"expected_percentage"`
	ConfigMatch        bool   `json:"config_match"`
	Source             string `json:"source"`
	SensorID           string `json:"sensor_id,omitempty"`
}

type ConfigAvailability struct {
	TemplateAvailable     bool      `json:"template_available"`
	DeviceConfigAvailable bool      `json:"device_config_available"`
	LoadedAt              time.Time `json:"load_timestamp"`
	Errors                []string  `json:"errors,omitempty"`
}

type SensorSummary struct {
	Name         string `json:"name"`
	Percentage   int    `json:"percentage"`
	BytePosition *int   `json:"byte_position"`
	Enabled      bool   `json:"enabled"`
	LastUpdated  string `json:"last_updated,omitempty"`
}

type ConfiguredPosition struct {
	Accessory          string `json:"accessory"`
	ExpectedPercentage int    `json:"expected_percentage"`
	Source             string `json:"source"`
}

// SensorsReference is the accessory configuration in force when a record
// was written. Device positions override template positions.
type SensorsReference struct {
	Availability          ConfigAvailability            `json:"config_availability"`
	AppPercentages        map[string]SensorSummary      `json:"android_app_percentages"`
	DeviceConfig          map[string]SensorSummary      `json:"current_device_config"`
	KnownPositions        map[string]ConfiguredPosition `json:"known_byte_positions"`
	InheritedFromTemplate bool                          `json:"template_inheritance_status"`
}

// sensorConfig is the template and device file read for one record.
type sensorConfig struct {
	template *accessory.File
	device   *accessory.File
	loadedAt time.Time
	errs     []string
}

func (l *Logger) loadSensors(now time.Time) sensorConfig {
	cfg := sensorConfig{loadedAt: now}
	if l.opts.Sensors == nil {
		return cfg
	}
	if f, err := l.opts.Sensors.Template(); err == nil {
		cfg.template = f
	} else if !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("load accessory template", zap.Error(err))
		cfg.errs = append(cfg.errs, fmt.Sprintf("template: %v", err))
	}
	if f, err := l.opts.Sensors.Current(); err == nil {
		cfg.device = f
	} else {
		l.logger.Warn("load accessory config", zap.Error(err))
		cfg.errs = append(cfg.errs, fmt.Sprintf("device config: %v", err))
	}
	return cfg
}

// positions returns the configured and researched offsets, ascending.
func (c sensorConfig) positions() []int {
	seen := map[int]bool{}
	for _, f := range []*accessory.File{c.template, c.device} {
		if f == nil {
			continue
		}
		for _, s := range f.Sensors {
			if s.BytePosition != nil && *s.BytePosition >= 0 {
				seen[*s.BytePosition] = true
			}
		}
	}
	for _, pos := range analysis.KnownPositions() {
		seen[pos] = true
	}
	out := make([]int, 0, len(seen))
	for pos := range seen {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// match looks pos up in the device config, then the template, then the
// researched offsets.
func (c sensorConfig) match(pos int) AccessoryMatch {
	sources := []struct {
		file   *accessory.File
		source string
	}{{c.device, SourceDeviceConfig}, {c.template, SourceTemplate}}
	for _, src := range sources {
		if src.file == nil {
			continue
		}
		for _, id := range src.file.SensorIDs() {
			s := src.file.Sensors[id]
			if s.BytePosition == nil || *s.BytePosition != pos {
				continue
			}
			name := s.Name
			if name == "" {
				name = id
			}
			expected := s.CurrentLifeRemaining
			return AccessoryMatch{
				Name:               name,
				ExpectedPercentage: &expected,
				ConfigMatch:        true,
				Source:             src.source,
				SensorID:           id,
			}
		}
	}
	if name, ok := analysis.ResearchedAccessory(pos); ok {
		return AccessoryMatch{Name: name, Source: SourceResearch}
	}
	return AccessoryMatch{Name: analysis.GuessAccessory(pos), Source: SourceUnknown}
}

// confidence grades value as the reading of m. Configured sensors are
// graded by distance from their app-reported life.
func (m AccessoryMatch) confidence(pos, value int) string {
	if !m.ConfigMatch {
		return analysis.PositionConfidence(pos, value)
	}
	if m.ExpectedPercentage == nil {
		return "medium"
	}
	diff := value - *m.ExpectedPercentage
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 2:
		return "very_high"
	case diff <= 5:
		return "high"
	default:
		return "medium"
	}
}

func (c sensorConfig) reference() *SensorsReference {
	ref := &SensorsReference{
		Availability: ConfigAvailability{
			TemplateAvailable:     c.template != nil,
			DeviceConfigAvailable: c.device != nil,
			LoadedAt:              c.loadedAt,
			Errors:                c.errs,
		},
		AppPercentages: map[string]SensorSummary{},
		DeviceConfig:   map[string]SensorSummary{},
		KnownPositions: map[string]ConfiguredPosition{},
	}
	collect := func(f *accessory.File, into map[string]SensorSummary, source string) {
		if f == nil {
			return
		}
		for _, id := range f.SensorIDs() {
			s := f.Sensors[id]
			into[id] = SensorSummary{
				Name:         s.Name,
				Percentage:   s.CurrentLifeRemaining,
				BytePosition: s.BytePosition,
				Enabled:      s.Enabled,
				LastUpdated:  s.LastUpdated,
			}
			if s.BytePosition != nil {
				ref.KnownPositions[fmt.Sprint(*s.BytePosition)] = ConfiguredPosition{
					Accessory:          s.Name,
					ExpectedPercentage: s.CurrentLifeRemaining,
					Source:             source,
				}
			}
		}
	}
	collect(c.template, ref.AppPercentages, SourceTemplate)
	collect(c.device, ref.DeviceConfig, SourceDeviceConfig)
	if c.device != nil {
		ref.InheritedFromTemplate = c.device.DeviceInfo.InheritedFromTemplate
	}
	return ref
}
