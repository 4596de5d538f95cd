package investigation

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/joshp123/eufyscope/internal/analysis"
)

// Version tags every record written by this package.
const Version = "3.0"

// Mode is the logger's current capture phase.
type Mode string

const (
	ModeBaseline         Mode = "baseline"
	ModeSmartMonitoring  Mode = "smart_monitoring"
	ModeCleaningDetected Mode = "cleaning_detected"
	ModePostCleaning     Mode = "post_cleaning"
	ModeManualTrigger    Mode = "manual_trigger"
)

// Context keys copied into every record next to the accessory payload.
var contextKeys = []string{"163", "167", "168", "158", "153"}

const maxPercentageCandidates = 20

type Metadata struct {
	DeviceID        string    `json:"device_id"`
	SessionID       string    `json:"session_id"`
	Timestamp       time.Time `json:"timestamp"`
	Mode            Mode      `json:"log_mode"`
	Reason          string    `json:"log_reason"`
	UpdateNumber    int       `json:"update_number"`
	Version         string    `json:"smart_logger_version"`
	FileNumber      int       `json:"file_number"`
	IncludesSensors bool      `json:"includes_sensors_config"`
}

type Efficiency struct {
	TotalUpdates      int    `json:"total_updates_received"`
	MeaningfulLogs    int    `json:"meaningful_logs_created"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
	LoggingEfficiency string `json:"logging_efficiency"`
}

// KeyData is the raw accessory payload as received.
type KeyData struct {
	RawBase64     string `json:"raw_base64"`
	Length        int    `json:"length"`
	DecodedLength int    `json:"decoded_length"`
	Hash          string `json:"data_hash"`
}

type PositionReading struct {
	ByteValue       int    `json:"byte_value"`
	Hex             string `json:"hex"`
	IsPercentage    bool   `json:"is_percentage"`
	LikelyAccessory string `json:"likely_accessory"`
	Confidence      string `json:"confidence"`
}

type PercentageCandidate struct {
	Position int `json:"position"`
	Value    int `json:"value"`
}

type PositionAnalysis struct {
	Position     int            `json:"position"`
	ByteValue    int            `json:"byte_value"`
	Hex          string         `json:"hex"`
	Accessory    AccessoryMatch `json:"accessory_info"`
	Confidence   string         `json:"confidence"`
	IsPercentage bool           `json:"is_percentage"`
}

type AccessoryCandidate struct {
	Position    int    `json:"position"`
	Value       int    `json:"value"`
	Hex         string `json:"hex"`
	Accessory   string `json:"accessory_candidate"`
	ConfigMatch bool   `json:"config_match"`
	Confidence  string `json:"confidence"`
}

// AccessoryAnalysis reads every configured or researched position and every
// percentage byte against the accessory configuration. It is attached to
// every record.
type AccessoryAnalysis struct {
	TotalBytes           int                         `json:"total_bytes"`
	HexDump              string                      `json:"hex_dump"`
	KnownPositions       map[string]PositionAnalysis `json:"known_positions_analysis"`
	PercentageCandidates []AccessoryCandidate        `json:"percentage_candidates"`
}

// ByteAnalysis is attached to baseline, cleaning and significant-change
// records.
type ByteAnalysis struct {
	TotalBytes           int                        `json:"total_bytes"`
	HexDump              string                     `json:"hex_dump"`
	KnownPositions       map[string]PositionReading `json:"known_accessory_positions"`
	PercentageCandidates []PercentageCandidate      `json:"percentage_candidates"`
	Candidates           []analysis.Candidate       `json:"candidates"`
}

// Record is one investigation file.
type Record struct {
	Metadata     Metadata               `json:"metadata"`
	Efficiency   Efficiency             `json:"smart_logging_info"`
	Key          KeyData                `json:"key_180_data"`
	Changes      *analysis.ChangeReport `json:"change_analysis,omitempty"`
	Context      map[string]any         `json:"context_data"`
	Sensors      *SensorsReference      `json:"sensors_reference,omitempty"`
	Accessories  AccessoryAnalysis      `json:"accessory_analysis"`
	ByteAnalysis *ByteAnalysis          `json:"detailed_byte_analysis,omitempty"`
}

// Comparison is the result of comparing a session's baseline with its
// latest post-cleaning capture.
type Comparison struct {
	DeviceID          string                    `json:"device_id"`
	SessionID         string                    `json:"session_id"`
	Timestamp         time.Time                 `json:"timestamp"`
	BaselineFile      string                    `json:"baseline_file"`
	PostCleaningFile  string                    `json:"post_cleaning_file"`
	Reference         []analysis.ReferenceEntry `json:"reference"`
	BaselineCount     int                       `json:"baseline_candidates"`
	PostCleaningCount int                       `json:"post_cleaning_candidates"`
	Results           []analysis.MatchResult    `json:"results"`
	ExactMatches      int                       `json:"exact_matches"`
	Path              string                    `json:"-"`
}

// Status is a point-in-time view of the logger counters.
type Status struct {
	Mode                 Mode       `json:"mode"`
	BaselineCaptured     bool       `json:"baseline_captured"`
	SessionID            string     `json:"session_id"`
	TotalUpdates         int        `json:"total_updates"`
	MeaningfulLogs       int        `json:"meaningful_logs"`
	DuplicatesSkipped    int        `json:"duplicates_skipped"`
	EfficiencyPercentage float64    `json:"efficiency_percentage"`
	LastLogTime          *time.Time `json:"last_log_time"`
	LastReason           string     `json:"last_reason,omitempty"`
	Directory            string     `json:"investigation_directory"`
}

// SessionSummary is written by Logger.Summary.
type SessionSummary struct {
	Session        Status      `json:"session_info"`
	Efficiency     Efficiency  `json:"efficiency_stats"`
	FilesCreated   []string    `json:"files_created"`
	LastComparison *Comparison `json:"last_comparison,omitempty"`
	Directory      string      `json:"investigation_directory"`
	GeneratedAt    time.Time   `json:"generated_at"`
}

func efficiencyPercent(total, skipped int) float64 {
	if total == 0 {
		return 0
	}
	return float64(skipped) / float64(total) * 100
}

func hexByte(v int) string {
	return fmt.Sprintf("0x%02x", v)
}

func analyzeAccessories(payload []byte, sensors sensorConfig) AccessoryAnalysis {
	out := AccessoryAnalysis{
		TotalBytes:           len(payload),
		HexDump:              hex.EncodeToString(payload),
		KnownPositions:       map[string]PositionAnalysis{},
		PercentageCandidates: []AccessoryCandidate{},
	}
	for _, pos := range sensors.positions() {
		if pos >= len(payload) {
			continue
		}
		v := int(payload[pos])
		m := sensors.match(pos)
		out.KnownPositions[strconv.Itoa(pos)] = PositionAnalysis{
			Position:     pos,
			ByteValue:    v,
			Hex:          hexByte(v),
			Accessory:    m,
			Confidence:   m.confidence(pos, v),
			IsPercentage: analysis.DefaultPercentRange.Contains(v),
		}
	}
	for pos, b := range payload {
		v := int(b)
		if !analysis.DefaultPercentRange.Contains(v) {
			continue
		}
		m := sensors.match(pos)
		out.PercentageCandidates = append(out.PercentageCandidates, AccessoryCandidate{
			Position:    pos,
			Value:       v,
			Hex:         hexByte(v),
			Accessory:   m.Name,
			ConfigMatch: m.ConfigMatch,
			Confidence:  m.confidence(pos, v),
		})
	}
	return out
}

func analyzeBytes(payload []byte, candidates []analysis.Candidate, sensors sensorConfig) *ByteAnalysis {
	out := &ByteAnalysis{
		TotalBytes:           len(payload),
		HexDump:              hex.EncodeToString(payload),
		KnownPositions:       map[string]PositionReading{},
		PercentageCandidates: []PercentageCandidate{},
		Candidates:           candidates,
	}
	if out.Candidates == nil {
		out.Candidates = []analysis.Candidate{}
	}
	for _, pos := range sensors.positions() {
		if pos >= len(payload) {
			continue
		}
		v := int(payload[pos])
		m := sensors.match(pos)
		out.KnownPositions[fmt.Sprintf("position_%d", pos)] = PositionReading{
			ByteValue:       v,
			Hex:             hexByte(v),
			IsPercentage:    analysis.DefaultPercentRange.Contains(v),
			LikelyAccessory: m.Name,
			Confidence:      m.confidence(pos, v),
		}
	}
	for pos, b := range payload {
		if len(out.PercentageCandidates) == maxPercentageCandidates {
			break
		}
		if analysis.DefaultPercentRange.Contains(int(b)) {
			out.PercentageCandidates = append(out.PercentageCandidates, PercentageCandidate{Position: pos, Value: int(b)})
		}
	}
	return out
}
