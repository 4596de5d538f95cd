package accessory

import (
	"sort"
	"time"

	"github.com/joshp123/eufyscope/internal/analysis"
)

const (
	ConfigVersion = "2.0"
	DefaultKey    = "180"
	WaterTankID   = "water_tank_level"
)

// DeviceInfo records where a device config came from.
type DeviceInfo struct {
	DeviceID              string `json:"device_id"`
	Created               string `json:"created"`
	LastUpdated           string `json:"last_updated"`
	ConfigVersion         string `json:"config_version"`
	AutoGenerated         bool   `json:"auto_generated"`
	TemplateFile          bool   `json:"template_file"`
	InheritedFromTemplate bool   `json:"inherited_from_template"`
	TemplateTimestamp     string `json:"template_timestamp,omitempty"`
	FallbackMode          bool   `json:"fallback_mode,omitempty"`
}

// Sensor is one accessory whose wear reading lives in a payload byte.
// A nil BytePosition means the offset has not been discovered yet.
type Sensor struct {
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	Key                  string `json:"key"`
	BytePosition         *int   `json:"byte_position"`
	CurrentLifeRemaining int    `json:"current_life_remaining"`
	HoursRemaining       *int   `json:"hours_remaining,omitempty"`
	MaxLifeHours         *int   `json:"max_life_hours,omitempty"`
	ReplacementThreshold int    `json:"replacement_threshold"`
	Enabled              bool   `json:"enabled"`
	AutoUpdate           bool   `json:"auto_update"`
	LastUpdated          string `json:"last_updated,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

type DiscoverySettings struct {
	EnabledForDiscovery     []string `json:"enabled_for_discovery"`
	AutoAddFoundSensors     bool     `json:"auto_add_found_sensors"`
	StopSearchingAfterFound bool     `json:"stop_searching_after_found"`
	DiscoveryTimeoutSeconds int      `json:"discovery_timeout_seconds"`
	MinUpdatesBeforeStop    int      `json:"min_updates_before_stop"`
	LastDiscoveryRun        *string  `json:"last_discovery_run"`
}

type AdvancedSettings struct {
	BackupEnabled           bool  `json:"backup_enabled"`
	AutoBackupIntervalHours int   `json:"auto_backup_interval_hours"`
	LogAccessoryChanges     bool  `json:"log_accessory_changes"`
	AlertOnLowLife          bool  `json:"alert_on_low_life"`
	MaintenanceReminderDays []int `json:"maintenance_reminder_days"`
}

// File is the on-disk sensors document.
type File struct {
	DeviceInfo        DeviceInfo        `json:"device_info"`
	Sensors           map[string]Sensor `json:"accessory_sensors"`
	DiscoverySettings DiscoverySettings `json:"discovery_settings"`
	AdvancedSettings  AdvancedSettings  `json:"advanced_settings"`
	UserNotes         []string          `json:"user_notes,omitempty"`
}

// NamedSensor pairs a sensor with its id.
type NamedSensor struct {
	ID string `json:"sensor_id"`
	Sensor
}

// SensorIDs returns the sensor ids in ascending order.
func (f *File) SensorIDs() []string {
	ids := make([]string, 0, len(f.Sensors))
	for id := range f.Sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reference turns every sensor into a comparator reference entry.
func (f *File) Reference() []analysis.ReferenceEntry {
	out := make([]analysis.ReferenceEntry, 0, len(f.Sensors))
	for _, id := range f.SensorIDs() {
		s := f.Sensors[id]
		entry := analysis.ReferenceEntry{
			AccessoryName:      id,
			ExpectedPercentage: s.CurrentLifeRemaining,
		}
		if s.HoursRemaining != nil {
			h := *s.HoursRemaining
			entry.ExpectedHours = &h
		}
		out = append(out, entry)
	}
	return out
}

func intPtr(v int) *int { return &v }

func defaultSensor(name, description string, hours, threshold int, now string) Sensor {
	return Sensor{
		Name:                 name,
		Description:          description,
		Key:                  DefaultKey,
		CurrentLifeRemaining: 100,
		HoursRemaining:       intPtr(hours),
		MaxLifeHours:         intPtr(hours),
		ReplacementThreshold: threshold,
		LastUpdated:          now,
		Notes:                "Default entry. Set byte_position once the offset is known.",
	}
}

func defaultFile(deviceID string, now time.Time) *File {
	ts := now.Format(time.RFC3339)
	return &File{
		DeviceInfo: DeviceInfo{
			DeviceID:      deviceID,
			Created:       ts,
			LastUpdated:   ts,
			ConfigVersion: ConfigVersion,
			AutoGenerated: true,
			FallbackMode:  true,
		},
		Sensors: map[string]Sensor{
			"rolling_brush": defaultSensor("Rolling Brush", "Main brush", 360, 10, ts),
			"side_brush":    defaultSensor("Side Brush", "Edge brush", 180, 15, ts),
			"dust_filter":   defaultSensor("Dust Filter", "Air filter", 150, 20, ts),
			"mop_cloth":     defaultSensor("Mop Cloth", "Mopping pad", 50, 30, ts),
		},
		DiscoverySettings: DiscoverySettings{
			EnabledForDiscovery:     []string{"181", "182", "183", "184", "185"},
			StopSearchingAfterFound: true,
			DiscoveryTimeoutSeconds: 300,
			MinUpdatesBeforeStop:    5,
		},
		AdvancedSettings: AdvancedSettings{
			BackupEnabled:           true,
			AutoBackupIntervalHours: 24,
			LogAccessoryChanges:     true,
			AlertOnLowLife:          true,
			MaintenanceReminderDays: []int{7, 3, 1},
		},
	}
}
