package accessory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/logging"
)

var ErrUnknownSensor = errors.New("unknown accessory sensor")

// Manager owns one device's sensors file, its backup and the shared template.
type Manager struct {
	dir      string
	deviceID string
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache *File
}

func NewManager(dir, deviceID string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("accessory dir is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir accessory dir: %w", err)
	}
	return &Manager{
		dir:      dir,
		deviceID: deviceID,
		logger:   logging.OrNop(logger).With(zap.String("device_id", deviceID)),
		now:      time.Now,
	}, nil
}

func (m *Manager) TemplatePath() string {
	return filepath.Join(m.dir, "sensors.json")
}

func (m *Manager) ConfigPath() string {
	return filepath.Join(m.dir, fmt.Sprintf("sensors_%s.json", m.deviceID))
}

func (m *Manager) BackupPath() string {
	return filepath.Join(m.dir, fmt.Sprintf("sensors_%s_backup.json", m.deviceID))
}

// EnsureDefault creates the device file when missing: from the backup,
// else from the template, else from built-in defaults.
func (m *Manager) EnsureDefault() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureDefaultLocked()
}

func (m *Manager) ensureDefaultLocked() error {
	if _, err := os.Stat(m.ConfigPath()); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat accessory config: %w", err)
	}

	if data, err := os.ReadFile(m.BackupPath()); err == nil {
		if json.Valid(data) {
			if err := os.WriteFile(m.ConfigPath(), data, 0o644); err != nil {
				return fmt.Errorf("restore accessory backup: %w", err)
			}
			m.logger.Info("accessory config restored from backup")
			return nil
		}
		m.logger.Warn("accessory backup is corrupt, trying template")
	}

	if f, err := m.fromTemplate(); err == nil {
		m.logger.Info("accessory config created from template", zap.Int("sensors", len(f.Sensors)))
		return m.writeLocked(f, false)
	} else if !os.IsNotExist(err) {
		m.logger.Warn("accessory template unusable, using defaults", zap.Error(err))
	}

	m.logger.Info("accessory config created from defaults")
	return m.writeLocked(defaultFile(m.deviceID, m.now()), false)
}

// Template reads the shared template as stored. A missing template returns
// an error matching fs.ErrNotExist.
func (m *Manager) Template() (*File, error) {
	data, err := os.ReadFile(m.TemplatePath())
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if f.Sensors == nil {
		f.Sensors = map[string]Sensor{}
	}
	return &f, nil
}

func (m *Manager) fromTemplate() (*File, error) {
	tmpl, err := m.Template()
	if err != nil {
		return nil, err
	}
	f := *tmpl
	ts := m.now().Format(time.RFC3339)
	version := f.DeviceInfo.ConfigVersion
	if version == "" {
		version = ConfigVersion
	}
	templateTS := f.DeviceInfo.LastUpdated
	if templateTS == "" {
		templateTS = "unknown"
	}
	f.DeviceInfo = DeviceInfo{
		DeviceID:              m.deviceID,
		Created:               ts,
		LastUpdated:           ts,
		ConfigVersion:         version,
		AutoGenerated:         true,
		InheritedFromTemplate: true,
		TemplateTimestamp:     templateTS,
	}
	return &f, nil
}

// Load reads the device file, creating it when missing. A corrupt file is
// replaced from the backup, or regenerated when the backup is unusable too.
func (m *Manager) Load() (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() (*File, error) {
	if err := m.ensureDefaultLocked(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read accessory config: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		m.logger.Error("accessory config is corrupt", zap.Error(err))
		restored, rerr := m.restoreLocked()
		if rerr != nil {
			return nil, rerr
		}
		return restored, nil
	}
	if f.Sensors == nil {
		f.Sensors = map[string]Sensor{}
	}

	if _, err := os.Stat(m.BackupPath()); os.IsNotExist(err) {
		if err := os.WriteFile(m.BackupPath(), data, 0o644); err != nil {
			m.logger.Warn("create initial accessory backup", zap.Error(err))
		}
	}

	m.cache = &f
	return cloneFile(&f), nil
}

func (m *Manager) restoreLocked() (*File, error) {
	if data, err := os.ReadFile(m.BackupPath()); err == nil {
		var f File
		if err := json.Unmarshal(data, &f); err == nil {
			if err := m.writeLocked(&f, false); err != nil {
				return nil, err
			}
			m.logger.Info("accessory config restored from backup")
			return cloneFile(&f), nil
		}
		m.logger.Error("accessory backup is corrupt too")
	}

	if err := os.Remove(m.ConfigPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove corrupt accessory config: %w", err)
	}
	if err := os.Remove(m.BackupPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove corrupt accessory backup: %w", err)
	}
	if err := m.ensureDefaultLocked(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read accessory config: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode accessory config: %w", err)
	}
	m.cache = &f
	return cloneFile(&f), nil
}

// Current returns the cached file, loading it on first use.
func (m *Manager) Current() (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache != nil {
		return cloneFile(m.cache), nil
	}
	return m.loadLocked()
}

// Save writes f. The previous file is copied to the backup first when
// backups are enabled.
func (m *Manager) Save(f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(f, f.AdvancedSettings.BackupEnabled)
}

func (m *Manager) writeLocked(f *File, backup bool) error {
	f.DeviceInfo.LastUpdated = m.now().Format(time.RFC3339)

	if backup {
		if prev, err := os.ReadFile(m.ConfigPath()); err == nil {
			if err := os.WriteFile(m.BackupPath(), prev, 0o644); err != nil {
				m.logger.Warn("write accessory backup", zap.Error(err))
			}
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accessory config: %w", err)
	}
	if err := os.WriteFile(m.ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write accessory config: %w", err)
	}
	m.cache = cloneFile(f)
	return nil
}

// UpdateLife sets a sensor's life remaining, clamped to 0-100.
func (m *Manager) UpdateLife(id string, pct int, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.loadLocked()
	if err != nil {
		return err
	}
	s, ok := f.Sensors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	old := s.CurrentLifeRemaining
	s.CurrentLifeRemaining = max(0, min(100, pct))
	s.LastUpdated = m.now().Format(time.RFC3339)
	if notes != "" {
		s.Notes = notes
	}
	f.Sensors[id] = s

	if err := m.writeLocked(f, f.AdvancedSettings.BackupEnabled); err != nil {
		return err
	}
	m.logger.Info("accessory life updated", zap.String("sensor", id), zap.Int("from", old), zap.Int("to", s.CurrentLifeRemaining))
	return nil
}

// Enabled returns the enabled sensors in id order.
func (m *Manager) Enabled() ([]NamedSensor, error) {
	f, err := m.Current()
	if err != nil {
		return nil, err
	}
	var out []NamedSensor
	for _, id := range f.SensorIDs() {
		if s := f.Sensors[id]; s.Enabled {
			out = append(out, NamedSensor{ID: id, Sensor: s})
		}
	}
	return out, nil
}

// ByKey returns the enabled sensors that read from key.
func (m *Manager) ByKey(key string) ([]NamedSensor, error) {
	enabled, err := m.Enabled()
	if err != nil {
		return nil, err
	}
	var out []NamedSensor
	for _, s := range enabled {
		if s.Key == key {
			out = append(out, s)
		}
	}
	return out, nil
}

// LowLife returns the enabled sensors at or below their replacement threshold.
func (m *Manager) LowLife() ([]NamedSensor, error) {
	enabled, err := m.Enabled()
	if err != nil {
		return nil, err
	}
	var out []NamedSensor
	for _, s := range enabled {
		if s.CurrentLifeRemaining <= s.ReplacementThreshold {
			out = append(out, s)
		}
	}
	return out, nil
}

// Reference returns comparator entries for every sensor.
func (m *Manager) Reference() ([]analysis.ReferenceEntry, error) {
	f, err := m.Current()
	if err != nil {
		return nil, err
	}
	return f.Reference(), nil
}

type Validation struct {
	Valid             bool     `json:"valid"`
	Issues            []string `json:"issues"`
	Warnings          []string `json:"warnings"`
	TotalSensors      int      `json:"total_sensors"`
	EnabledSensors    int      `json:"enabled_sensors"`
	InheritanceStatus string   `json:"inheritance_status"`
	TemplateAvailable bool     `json:"template_available"`
}

func (m *Manager) Validate() Validation {
	f, err := m.Load()
	if err != nil {
		return Validation{Issues: []string{err.Error()}, InheritanceStatus: "error"}
	}

	v := Validation{Issues: []string{}, Warnings: []string{}, TotalSensors: len(f.Sensors)}
	if f.DeviceInfo.DeviceID == "" {
		v.Issues = append(v.Issues, "device_info.device_id is missing")
	}
	if len(f.Sensors) == 0 {
		v.Issues = append(v.Issues, "accessory_sensors is empty")
	}
	for _, id := range f.SensorIDs() {
		s := f.Sensors[id]
		if s.Name == "" {
			v.Issues = append(v.Issues, fmt.Sprintf("sensor %q missing name", id))
		}
		if s.Key == "" {
			v.Issues = append(v.Issues, fmt.Sprintf("sensor %q missing key", id))
		}
		if s.CurrentLifeRemaining < 0 || s.CurrentLifeRemaining > 100 {
			v.Warnings = append(v.Warnings, fmt.Sprintf("sensor %q has invalid life percentage %d", id, s.CurrentLifeRemaining))
		}
		if s.Enabled && s.BytePosition == nil {
			v.Warnings = append(v.Warnings, fmt.Sprintf("sensor %q is enabled without a byte_position", id))
		}
		if s.Enabled {
			v.EnabledSensors++
		}
	}

	switch {
	case f.DeviceInfo.InheritedFromTemplate:
		v.InheritanceStatus = "template_inherited"
	case f.DeviceInfo.FallbackMode:
		v.InheritanceStatus = "hardcoded_fallback"
	case f.DeviceInfo.AutoGenerated:
		v.InheritanceStatus = "auto_generated"
	default:
		v.InheritanceStatus = "user_created"
	}
	if _, err := os.Stat(m.TemplatePath()); err == nil {
		v.TemplateAvailable = true
	}
	v.Valid = len(v.Issues) == 0
	return v
}

func cloneFile(f *File) *File {
	out := *f
	out.Sensors = make(map[string]Sensor, len(f.Sensors))
	for id, s := range f.Sensors {
		out.Sensors[id] = s
	}
	return &out
}
