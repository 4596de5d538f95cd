// Package investigation records accessory payloads worth keeping while the
// wear offsets of a device are being discovered.
package investigation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/blob"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/logging"
)

const (
	AccessoryKey  = "180"
	WorkStatusKey = "153"
	filePrefix    = "key180_"

	DefaultMinInterval        = 30 * time.Second
	DefaultMaxMonitoringFiles = 10
	DefaultPeriodicEvery      = 20
)

const (
	ReasonBaseline     = "baseline_capture"
	ReasonNoChange     = "no_change"
	ReasonTooFrequent  = "too_frequent"
	ReasonPeriodic     = "periodic_minor_change"
	ReasonMinorSkipped = "minor_change_skipped"
	ReasonPostCleaning = "manual_post_cleaning"
)

var (
	ErrNoPayload      = errors.New("snapshot has no accessory payload")
	ErrNoBaseline     = errors.New("no baseline capture")
	ErrNoPostCleaning = errors.New("no post-cleaning capture")
)

// Work status values reported while the robot is cleaning.
var cleaningStatuses = map[int]bool{5: true, 6: true, 7: true}

// Snapshot is one telemetry update: the device's data points by key.
type Snapshot struct {
	Time time.Time
	DPS  map[string]any
}

// Result reports what Process did with a snapshot.
type Result struct {
	Logged bool   `json:"logged"`
	Reason string `json:"reason"`
	Path   string `json:"path,omitempty"`
}

// Notifier receives every exact match found by CompareSession.
type Notifier interface {
	NotifyMatch(ctx context.Context, deviceID string, m analysis.MatchResult)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, deviceID string, m analysis.MatchResult)

func (f NotifierFunc) NotifyMatch(ctx context.Context, deviceID string, m analysis.MatchResult) {
	f(ctx, deviceID, m)
}

type Options struct {
	// Dir is the investigation root; each device writes to Dir/<device id>.
	Dir                string
	DeviceID           string
	MinInterval        time.Duration
	MaxMonitoringFiles int
	PeriodicEvery      int
	Scanner            analysis.Scanner
	PercentRange       analysis.Range
	// Thresholds defaults to analysis.DefaultThresholds when nil.
	Thresholds         *analysis.Thresholds
	Diff               analysis.DiffOptions
	Blob               blob.Store
	History            history.Sink
	Notifier           Notifier
	// Sensors, when set, adds the accessory configuration to every record.
	Sensors            SensorSource
	Logger             *zap.Logger
}

type capture struct {
	path    string
	payload []byte
}

// Logger decides which accessory payloads are kept for one device.
type Logger struct {
	opts       Options
	dir        string
	sessionID  string
	comparator analysis.Comparator
	logger     *zap.Logger
	now        func() time.Time

	mu                sync.Mutex
	mode              Mode
	baselineCaptured  bool
	totalUpdates      int
	meaningfulLogs    int
	duplicatesSkipped int
	lastHash          string
	lastLogged        []byte
	lastLogTime       time.Time
	lastReason        string
	baseline          *capture
	postCleaning      *capture
	files             []string
	lastComparison    *Comparison
}

func New(opts Options) (*Logger, error) {
	if strings.TrimSpace(opts.DeviceID) == "" {
		return nil, fmt.Errorf("investigation: device id is required")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("investigation: dir is required")
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MaxMonitoringFiles <= 0 {
		opts.MaxMonitoringFiles = DefaultMaxMonitoringFiles
	}
	if opts.PeriodicEvery <= 0 {
		opts.PeriodicEvery = DefaultPeriodicEvery
	}
	if opts.PercentRange.IsZero() {
		opts.PercentRange = analysis.DefaultPercentRange
	}
	thresholds := analysis.DefaultThresholds()
	if opts.Thresholds != nil {
		if err := opts.Thresholds.Validate(); err != nil {
			return nil, fmt.Errorf("investigation: %w", err)
		}
		thresholds = *opts.Thresholds
	}
	if opts.Diff == (analysis.DiffOptions{}) {
		opts.Diff = analysis.DefaultDiffOptions()
	}
	if opts.History == nil {
		opts.History = history.Nop()
	}

	dir := filepath.Join(opts.Dir, opts.DeviceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create investigation dir: %w", err)
	}

	sessionID := uuid.NewString()
	return &Logger{
		opts:       opts,
		dir:        dir,
		sessionID:  sessionID,
		comparator: analysis.NewComparator(thresholds),
		logger:     logging.OrNop(opts.Logger).With(zap.String("device_id", opts.DeviceID), zap.String("session_id", sessionID)),
		now:        time.Now,
		mode:       ModeBaseline,
	}, nil
}

func (l *Logger) Dir() string       { return l.dir }
func (l *Logger) SessionID() string { return l.sessionID }

// Process applies the logging rules to one snapshot. Snapshots without the
// accessory payload are ignored.
func (l *Logger) Process(ctx context.Context, snap Snapshot) (Result, error) {
	raw, ok := accessoryPayload(snap.DPS)
	if !ok {
		return Result{}, nil
	}
	payload, err := analysis.DecodePayload(AccessoryKey, raw)
	if err != nil {
		return Result{}, err
	}
	now := l.snapshotTime(snap)
	hash := md5Hex(raw)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalUpdates++
	res, mode, changes := l.decide(snap, payload, hash, now)
	if res.Logged {
		path, err := l.writeRecord(ctx, snap, raw, payload, hash, mode, res.Reason, changes, now)
		if err != nil {
			return res, err
		}
		res.Path = path
	} else {
		l.duplicatesSkipped++
		l.lastReason = res.Reason
	}
	l.archive(ctx, now, raw, payload, hash, res)
	return res, nil
}

func (l *Logger) decide(snap Snapshot, payload []byte, hash string, now time.Time) (Result, Mode, *analysis.ChangeReport) {
	if !l.baselineCaptured {
		return Result{Logged: true, Reason: ReasonBaseline}, ModeBaseline, nil
	}
	if hash == l.lastHash {
		return Result{Reason: ReasonNoChange}, l.mode, nil
	}
	if !l.lastLogTime.IsZero() && now.Sub(l.lastLogTime) < l.opts.MinInterval {
		return Result{Reason: ReasonTooFrequent}, l.mode, nil
	}

	report := analysis.DiffPayloads(l.lastLogged, payload, l.opts.Diff)
	if report.Significant {
		reason := fmt.Sprintf("significant_change_%d_bytes", report.ChangeCount())
		if report.LengthMismatch {
			reason = "significant_change_length_mismatch"
		}
		return Result{Logged: true, Reason: reason}, ModeSmartMonitoring, &report
	}
	if status, ok := intValue(snap.DPS[WorkStatusKey]); ok && cleaningStatuses[status] {
		return Result{Logged: true, Reason: fmt.Sprintf("cleaning_activity_work_status_%d", status)}, ModeCleaningDetected, &report
	}
	if l.totalUpdates%l.opts.PeriodicEvery == 0 {
		return Result{Logged: true, Reason: ReasonPeriodic}, l.mode, &report
	}
	return Result{Reason: ReasonMinorSkipped}, l.mode, nil
}

// CaptureBaseline records snap as the session baseline regardless of the
// logging rules.
func (l *Logger) CaptureBaseline(ctx context.Context, snap Snapshot) (Result, error) {
	return l.force(ctx, snap, ModeBaseline, ReasonBaseline)
}

// CapturePostCleaning records snap as the latest post-cleaning capture.
func (l *Logger) CapturePostCleaning(ctx context.Context, snap Snapshot) (Result, error) {
	return l.force(ctx, snap, ModePostCleaning, ReasonPostCleaning)
}

// CaptureManual records snap under a caller supplied label.
func (l *Logger) CaptureManual(ctx context.Context, snap Snapshot, label string) (Result, error) {
	label = sanitizeLabel(label)
	if label == "" {
		label = "trigger"
	}
	return l.force(ctx, snap, ModeManualTrigger, "manual_"+label)
}

func (l *Logger) force(ctx context.Context, snap Snapshot, mode Mode, reason string) (Result, error) {
	raw, ok := accessoryPayload(snap.DPS)
	if !ok {
		return Result{}, ErrNoPayload
	}
	payload, err := analysis.DecodePayload(AccessoryKey, raw)
	if err != nil {
		return Result{}, err
	}
	now := l.snapshotTime(snap)
	hash := md5Hex(raw)

	l.mu.Lock()
	defer l.mu.Unlock()

	var changes *analysis.ChangeReport
	if l.lastLogged != nil {
		report := analysis.DiffPayloads(l.lastLogged, payload, l.opts.Diff)
		changes = &report
	}
	path, err := l.writeRecord(ctx, snap, raw, payload, hash, mode, reason, changes, now)
	if err != nil {
		return Result{}, err
	}
	res := Result{Logged: true, Reason: reason, Path: path}
	l.archive(ctx, now, raw, payload, hash, res)
	return res, nil
}

func (l *Logger) writeRecord(ctx context.Context, snap Snapshot, raw string, payload []byte, hash string, mode Mode, reason string, changes *analysis.ChangeReport, now time.Time) (string, error) {
	l.meaningfulLogs++
	rec := Record{
		Metadata: Metadata{
			DeviceID:     l.opts.DeviceID,
			SessionID:    l.sessionID,
			Timestamp:    now,
			Mode:         mode,
			Reason:       reason,
			UpdateNumber: l.totalUpdates,
			Version:      Version,
			FileNumber:   l.meaningfulLogs,
		},
		Efficiency: l.efficiency(),
		Key: KeyData{
			RawBase64:     raw,
			Length:        len(raw),
			DecodedLength: len(payload),
			Hash:          hash,
		},
		Context: contextData(snap.DPS),
	}
	sensors := l.loadSensors(now)
	if l.opts.Sensors != nil {
		rec.Sensors = sensors.reference()
		rec.Metadata.IncludesSensors = true
	}
	rec.Accessories = analyzeAccessories(payload, sensors)
	if changes != nil && !bytesEqual(l.lastLogged, payload) {
		rec.Changes = changes
	}
	if wantsByteAnalysis(mode, reason) {
		rec.ByteAnalysis = analyzeBytes(payload, l.opts.Scanner.Scan(payload, l.opts.PercentRange), sensors)
	}

	name := recordName(mode, reason, now)
	path, err := l.writeJSON(ctx, name, rec)
	if err != nil {
		l.meaningfulLogs--
		return "", err
	}

	l.lastHash = hash
	l.lastLogged = payload
	l.lastLogTime = now
	l.lastReason = reason
	switch mode {
	case ModeBaseline:
		l.baselineCaptured = true
		l.baseline = &capture{path: path, payload: payload}
		l.mode = ModeSmartMonitoring
	case ModePostCleaning:
		l.postCleaning = &capture{path: path, payload: payload}
		l.mode = mode
	default:
		l.mode = mode
	}

	l.logger.Info("investigation record written",
		zap.String("file", name),
		zap.String("reason", reason),
		zap.String("mode", string(mode)),
		zap.Int("update", l.totalUpdates),
	)

	if strings.HasPrefix(name, filePrefix+"monitoring_") {
		l.cleanupMonitoring()
	}
	return path, nil
}

// writeJSON writes one artifact to the device dir and mirrors it to the
// blob store.
func (l *Logger) writeJSON(ctx context.Context, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	full := filepath.Join(l.dir, name)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	l.files = append(l.files, name)

	if l.opts.Blob != nil {
		if err := l.opts.Blob.Save(ctx, path.Join(l.opts.DeviceID, name), data); err != nil {
			l.logger.Warn("mirror investigation artifact", zap.String("file", name), zap.Error(err))
		}
	}
	return full, nil
}

func (l *Logger) archive(ctx context.Context, now time.Time, raw string, payload []byte, hash string, res Result) {
	err := l.opts.History.Record(ctx, history.Capture{
		Timestamp: now,
		DeviceID:  l.opts.DeviceID,
		Key:       AccessoryKey,
		Hash:      hash,
		Length:    len(payload),
		Payload:   raw,
		Reason:    res.Reason,
		Logged:    res.Logged,
	})
	if err != nil {
		l.logger.Warn("archive capture", zap.Error(err))
	}
}

// cleanupMonitoring keeps the newest MaxMonitoringFiles monitoring records.
func (l *Logger) cleanupMonitoring() {
	matches, err := filepath.Glob(filepath.Join(l.dir, filePrefix+"monitoring_*.json"))
	if err != nil || len(matches) <= l.opts.MaxMonitoringFiles {
		return
	}
	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: m, mod: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mod.Equal(entries[j].mod) {
			return entries[i].path > entries[j].path
		}
		return entries[i].mod.After(entries[j].mod)
	})
	for _, e := range entries[min(len(entries), l.opts.MaxMonitoringFiles):] {
		if err := os.Remove(e.path); err != nil {
			l.logger.Warn("remove old monitoring record", zap.String("file", e.path), zap.Error(err))
			continue
		}
		l.logger.Debug("removed old monitoring record", zap.String("file", filepath.Base(e.path)))
	}
}

// Status returns the current counters.
func (l *Logger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status()
}

func (l *Logger) status() Status {
	s := Status{
		Mode:                 l.mode,
		BaselineCaptured:     l.baselineCaptured,
		SessionID:            l.sessionID,
		TotalUpdates:         l.totalUpdates,
		MeaningfulLogs:       l.meaningfulLogs,
		DuplicatesSkipped:    l.duplicatesSkipped,
		EfficiencyPercentage: efficiencyPercent(l.totalUpdates, l.duplicatesSkipped),
		LastReason:           l.lastReason,
		Directory:            l.dir,
	}
	if !l.lastLogTime.IsZero() {
		t := l.lastLogTime
		s.LastLogTime = &t
	}
	return s
}

func (l *Logger) efficiency() Efficiency {
	return Efficiency{
		TotalUpdates:      l.totalUpdates,
		MeaningfulLogs:    l.meaningfulLogs,
		DuplicatesSkipped: l.duplicatesSkipped,
		LoggingEfficiency: fmt.Sprintf("%.1f%% duplicates avoided", efficiencyPercent(l.totalUpdates, l.duplicatesSkipped)),
	}
}

// Summary writes the session summary file and returns it.
func (l *Logger) Summary(ctx context.Context) (SessionSummary, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := SessionSummary{
		Session:        l.status(),
		Efficiency:     l.efficiency(),
		FilesCreated:   append([]string{}, l.files...),
		LastComparison: l.lastComparison,
		Directory:      l.dir,
		GeneratedAt:    l.now(),
	}
	path, err := l.writeJSON(ctx, fmt.Sprintf("smart_session_summary_%s.json", l.sessionID), summary)
	if err != nil {
		return SessionSummary{}, "", err
	}
	return summary, path, nil
}

func (l *Logger) snapshotTime(snap Snapshot) time.Time {
	if !snap.Time.IsZero() {
		return snap.Time
	}
	return l.now()
}

func recordName(mode Mode, reason string, now time.Time) string {
	var prefix string
	switch {
	case mode == ModeBaseline:
		prefix = "baseline_"
	case mode == ModePostCleaning:
		prefix = "post_cleaning_"
	case mode == ModeManualTrigger:
		prefix = reason + "_"
	case strings.HasPrefix(reason, "significant_change"):
		prefix = "significant_change_"
	case strings.HasPrefix(reason, "cleaning_activity"):
		prefix = "cleaning_activity_"
	default:
		prefix = "monitoring_"
	}
	return filePrefix + prefix + timestamp(now) + ".json"
}

// timestamp formats t as 20060102_150405_000.
func timestamp(t time.Time) string {
	return strings.Replace(t.Format("20060102_150405.000"), ".", "_", 1)
}

func wantsByteAnalysis(mode Mode, reason string) bool {
	return mode == ModeBaseline ||
		strings.HasPrefix(reason, "significant_change") ||
		strings.HasPrefix(reason, "cleaning_activity")
}

func accessoryPayload(dps map[string]any) (string, bool) {
	raw, ok := dps[AccessoryKey].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}
	return raw, true
}

func contextData(dps map[string]any) map[string]any {
	out := make(map[string]any, len(contextKeys)+1)
	for _, key := range contextKeys {
		out["key_"+key] = dps[key]
	}
	out["total_keys_available"] = len(dps)
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func bytesEqual(a, b []byte) bool {
	return a != nil && string(a) == string(b)
}

func sanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}
