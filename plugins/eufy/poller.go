package eufy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/accessory"
	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/blob"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/investigation"
	"github.com/joshp123/eufyscope/internal/logging"
)

var (
	ErrUnknownDevice         = errors.New("unknown eufy device")
	ErrInvestigationDisabled = errors.New("investigation is disabled")
	ErrNoData                = errors.New("no data received for device")
	ErrNoAccessoryConfig     = errors.New("accessory config is disabled")
)

// Fetcher returns the current data points of a device. Client implements it.
type Fetcher interface {
	DeviceDPS(ctx context.Context, deviceID string) (map[string]any, error)
}

type PollerOptions struct {
	Blob    blob.Store
	History history.Sink
	Logger  *zap.Logger
}

type deviceRuntime struct {
	device        Device
	investigation *investigation.Logger
	accessories   *accessory.Manager
	mqttDPS       map[string]any
}

// Poller keeps the latest state of every configured device.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	scanner analysis.Scanner
	logger  *zap.Logger
	now     func() time.Time

	order   []string
	devices map[string]*deviceRuntime

	mu      sync.RWMutex
	states  map[string]DeviceState
	matches map[string][]analysis.MatchResult
	mqtt    *mqttSubscriber
}

func NewPoller(cfg Config, fetcher Fetcher, opts PollerOptions) (*Poller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("eufy fetcher is required")
	}
	p := &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		scanner: cfg.Scanner(),
		logger:  logging.OrNop(opts.Logger).With(zap.String("plugin", "eufy")),
		now:     time.Now,
		devices: make(map[string]*deviceRuntime, len(cfg.Devices)),
		states:  make(map[string]DeviceState, len(cfg.Devices)),
		matches: make(map[string][]analysis.MatchResult),
	}

	for _, dev := range cfg.Devices {
		rt := &deviceRuntime{device: dev}
		if cfg.AccessoryDir != "" {
			mgr, err := accessory.NewManager(cfg.AccessoryDir, dev.ID, p.logger)
			if err != nil {
				return nil, err
			}
			rt.accessories = mgr
		}
		if cfg.Investigate {
			thresholds := cfg.Thresholds
			invOpts := investigation.Options{
				Dir:                cfg.InvestigationDir,
				DeviceID:           dev.ID,
				MinInterval:        cfg.MinLogInterval,
				MaxMonitoringFiles: cfg.MaxMonitoringFiles,
				PeriodicEvery:      cfg.PeriodicEvery,
				Scanner:            p.scanner,
				PercentRange:       cfg.PercentRange,
				Thresholds:         &thresholds,
				Blob:               opts.Blob,
				History:            opts.History,
				Notifier:           investigation.NotifierFunc(p.notifyMatch),
				Logger:             p.logger,
			}
			if rt.accessories != nil {
				invOpts.Sensors = rt.accessories
			}
			inv, err := investigation.New(invOpts)
			if err != nil {
				return nil, err
			}
			rt.investigation = inv
		}
		p.order = append(p.order, dev.ID)
		p.devices[dev.ID] = rt
		p.states[dev.ID] = DeviceState{Device: dev, Error: ErrNoData.Error()}
	}
	return p, nil
}

// attachMQTT subscribes every device to its telemetry topic.
func (p *Poller) attachMQTT(sub *mqttSubscriber) error {
	p.mu.Lock()
	p.mqtt = sub
	p.mu.Unlock()
	for _, id := range p.order {
		rt := p.devices[id]
		topic := mqttTopic(rt.device.Model, rt.device.ID)
		if err := sub.subscribe(topic, func(dps map[string]any) { p.mergeMQTT(id, dps) }); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		p.logger.Info("mqtt subscribed", zap.String("device_id", id), zap.String("topic", topic))
	}
	return nil
}

func (p *Poller) mergeMQTT(deviceID string, dps map[string]any) {
	rt, ok := p.devices[deviceID]
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if rt.mqttDPS == nil {
		rt.mqttDPS = make(map[string]any, len(dps))
	}
	maps.Copy(rt.mqttDPS, dps)
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.mu.RLock()
			sub := p.mqtt
			p.mu.RUnlock()
			if sub != nil {
				sub.close()
			}
			return nil
		case <-ticker.C:
			p.mu.RLock()
			sub := p.mqtt
			p.mu.RUnlock()
			if sub != nil {
				sub.reconnectIfStale()
			}
			p.PollOnce(ctx)
		}
	}
}

// PollOnce refreshes every device and returns the new states in config
// order.
func (p *Poller) PollOnce(ctx context.Context) []DeviceState {
	out := make([]DeviceState, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.poll(ctx, p.devices[id]))
	}
	return out
}

func (p *Poller) poll(ctx context.Context, rt *deviceRuntime) DeviceState {
	id := rt.device.ID
	now := p.now()

	rest, fetchErr := p.fetcher.DeviceDPS(ctx, id)
	if fetchErr != nil {
		p.logger.Warn("eufy device poll failed", zap.String("device_id", id), zap.Error(fetchErr))
	}

	p.mu.RLock()
	pushed := maps.Clone(rt.mqttDPS)
	prev := p.states[id]
	p.mu.RUnlock()

	merged, source := mergeDPS(rest, pushed)
	if len(merged) == 0 {
		state := prev
		state.Device = rt.device
		state.Error = ErrNoData.Error()
		if fetchErr != nil {
			state.Error = fetchErr.Error()
		}
		p.store(state)
		return state
	}

	state := DeviceState{
		Device:    rt.device,
		DPS:       merged,
		Status:    parseStatus(merged),
		Source:    source,
		UpdatedAt: now,
	}
	if payload, ok := decodedKey(merged, KeyAccessory); ok {
		state.Candidates = len(p.scanner.Scan(payload, p.cfg.PercentRange))
	}
	state.Accessories = p.readAccessories(rt, merged)

	if rt.investigation != nil {
		if _, err := rt.investigation.Process(ctx, investigation.Snapshot{Time: now, DPS: merged}); err != nil {
			p.logger.Warn("investigation update failed", zap.String("device_id", id), zap.Error(err))
		}
		st := rt.investigation.Status()
		state.Investigation = &st
	}

	p.store(state)
	return state
}

func (p *Poller) store(state DeviceState) {
	p.mu.Lock()
	p.states[state.Device.ID] = state
	p.mu.Unlock()
}

// mergeDPS overlays REST data points on pushed ones.
func mergeDPS(rest, pushed map[string]any) (map[string]any, string) {
	switch {
	case len(rest) > 0 && len(pushed) > 0:
		out := maps.Clone(pushed)
		maps.Copy(out, rest)
		return out, "rest+mqtt"
	case len(rest) > 0:
		return maps.Clone(rest), "rest"
	case len(pushed) > 0:
		return maps.Clone(pushed), "mqtt"
	default:
		return nil, ""
	}
}

func decodedKey(dps map[string]any, key string) ([]byte, bool) {
	raw, ok := dps[key].(string)
	if !ok || raw == "" {
		return nil, false
	}
	payload, err := analysis.DecodePayload(key, raw)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (p *Poller) readAccessories(rt *deviceRuntime, dps map[string]any) []AccessoryReading {
	if rt.accessories == nil {
		return nil
	}
	enabled, err := rt.accessories.Enabled()
	if err != nil {
		p.logger.Warn("load accessory config", zap.String("device_id", rt.device.ID), zap.Error(err))
		return nil
	}

	payloads := map[string][]byte{}
	out := make([]AccessoryReading, 0, len(enabled))
	for _, s := range enabled {
		key := s.Key
		if key == "" {
			key = accessory.DefaultKey
		}
		payload, ok := payloads[key]
		if !ok {
			payload, _ = decodedKey(dps, key)
			payloads[key] = payload
		}

		reading := AccessoryReading{ID: s.ID, Name: s.Name, Threshold: s.ReplacementThreshold}
		if v, ok := accessory.Value(s.ID, s.Sensor, payload); ok {
			reading.Percent = &v
			reading.Low = v <= s.ReplacementThreshold
			if s.AutoUpdate && v != s.CurrentLifeRemaining {
				if err := rt.accessories.UpdateLife(s.ID, v, ""); err != nil {
					p.logger.Warn("update accessory life", zap.String("sensor", s.ID), zap.Error(err))
				}
			}
		} else {
			v := s.CurrentLifeRemaining
			reading.Percent = &v
			reading.Low = v <= s.ReplacementThreshold
		}
		out = append(out, reading)
	}
	return out
}

func (p *Poller) notifyMatch(_ context.Context, deviceID string, m analysis.MatchResult) {
	p.logger.Info("accessory offset matched",
		zap.String("device_id", deviceID),
		zap.String("accessory", m.AccessoryName),
		zap.Int("offset", m.Offset),
		zap.Stringer("transform", m.Transform),
		zap.Int("expected", m.Expected),
		zap.Int("observed", m.Observed),
	)
}

// States returns the cached states in config order.
func (p *Poller) States() []DeviceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]DeviceState, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.states[id])
	}
	return out
}

// State returns the cached state of one device.
func (p *Poller) State(deviceID string) (DeviceState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.states[deviceID]
	if !ok {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return st, nil
}

// Matches returns the results of the last comparison per device.
func (p *Poller) Matches() map[string][]analysis.MatchResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]analysis.MatchResult, len(p.matches))
	for id, results := range p.matches {
		out[id] = append([]analysis.MatchResult(nil), results...)
	}
	return out
}

func (p *Poller) investigator(deviceID string) (*deviceRuntime, *investigation.Logger, error) {
	rt, ok := p.devices[deviceID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if rt.investigation == nil {
		return nil, nil, ErrInvestigationDisabled
	}
	return rt, rt.investigation, nil
}

func (p *Poller) snapshot(deviceID string) (investigation.Snapshot, error) {
	st, err := p.State(deviceID)
	if err != nil {
		return investigation.Snapshot{}, err
	}
	if len(st.DPS) == 0 {
		return investigation.Snapshot{}, fmt.Errorf("%w: %s", ErrNoData, deviceID)
	}
	return investigation.Snapshot{Time: p.now(), DPS: maps.Clone(st.DPS)}, nil
}

// CaptureBaseline records the latest data of a device as its baseline.
func (p *Poller) CaptureBaseline(ctx context.Context, deviceID string) (investigation.Result, error) {
	_, inv, err := p.investigator(deviceID)
	if err != nil {
		return investigation.Result{}, err
	}
	snap, err := p.snapshot(deviceID)
	if err != nil {
		return investigation.Result{}, err
	}
	return inv.CaptureBaseline(ctx, snap)
}

// CapturePostCleaning records the latest data of a device after a clean.
func (p *Poller) CapturePostCleaning(ctx context.Context, deviceID string) (investigation.Result, error) {
	_, inv, err := p.investigator(deviceID)
	if err != nil {
		return investigation.Result{}, err
	}
	snap, err := p.snapshot(deviceID)
	if err != nil {
		return investigation.Result{}, err
	}
	return inv.CapturePostCleaning(ctx, snap)
}

// CaptureManual records the latest data of a device under label.
func (p *Poller) CaptureManual(ctx context.Context, deviceID, label string) (investigation.Result, error) {
	_, inv, err := p.investigator(deviceID)
	if err != nil {
		return investigation.Result{}, err
	}
	snap, err := p.snapshot(deviceID)
	if err != nil {
		return investigation.Result{}, err
	}
	return inv.CaptureManual(ctx, snap, label)
}

// Compare ranks baseline and post-cleaning offsets against the device's
// accessory reference.
func (p *Poller) Compare(ctx context.Context, deviceID string) (*investigation.Comparison, error) {
	rt, inv, err := p.investigator(deviceID)
	if err != nil {
		return nil, err
	}
	var reference []analysis.ReferenceEntry
	if rt.accessories != nil {
		if reference, err = rt.accessories.Reference(); err != nil {
			return nil, err
		}
	}
	cmp, err := inv.CompareSession(ctx, reference)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.matches[deviceID] = cmp.Results
	p.mu.Unlock()
	return cmp, nil
}

// Summary writes the session summary of a device.
func (p *Poller) Summary(ctx context.Context, deviceID string) (investigation.SessionSummary, string, error) {
	_, inv, err := p.investigator(deviceID)
	if err != nil {
		return investigation.SessionSummary{}, "", err
	}
	return inv.Summary(ctx)
}

// AccessoryConfig returns the accessory file and its validation for a device.
func (p *Poller) AccessoryConfig(deviceID string) (*accessory.File, accessory.Validation, error) {
	rt, ok := p.devices[deviceID]
	if !ok {
		return nil, accessory.Validation{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if rt.accessories == nil {
		return nil, accessory.Validation{}, ErrNoAccessoryConfig
	}
	f, err := rt.accessories.Current()
	if err != nil {
		return nil, accessory.Validation{}, err
	}
	return f, rt.accessories.Validate(), nil
}

// WatchAccessories reloads accessory files as they change on disk until
// ctx is cancelled.
func (p *Poller) WatchAccessories(ctx context.Context) {
	for _, id := range p.order {
		rt := p.devices[id]
		if rt.accessories == nil {
			continue
		}
		changes, errs, err := rt.accessories.Watch(ctx)
		if err != nil {
			p.logger.Warn("watch accessory config", zap.String("device_id", id), zap.Error(err))
			continue
		}
		go func(id string) {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-changes:
					if !ok {
						return
					}
					p.logger.Info("accessory config reloaded", zap.String("device_id", id))
				case err, ok := <-errs:
					if !ok {
						return
					}
					p.logger.Warn("accessory watcher", zap.String("device_id", id), zap.Error(err))
				}
			}
		}(id)
	}
}
