package analysis

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is an inclusive numeric bound.
type Range struct {
	Low  int `json:"low" yaml:"low"`
	High int `json:"high" yaml:"high"`
}

var (
	// DefaultPercentRange covers accessory life readings.
	DefaultPercentRange = Range{Low: 1, High: 100}
	// DefaultHoursRange covers 16-bit "hours remaining" readings.
	DefaultHoursRange = Range{Low: 1, High: 500}
	// FullByteRange accepts every raw byte value.
	FullByteRange = Range{Low: 0, High: 255}
	// FullWordRange accepts every 16-bit value.
	FullWordRange = Range{Low: 0, High: 65535}
)

func (r Range) Contains(v int) bool {
	return v >= r.Low && v <= r.High
}

func (r Range) IsZero() bool {
	return r.Low == 0 && r.High == 0
}

func (r Range) Validate() error {
	if r.Low > r.High {
		return fmt.Errorf("range low %d exceeds high %d", r.Low, r.High)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Low, r.High)
}

// Candidate is a byte offset whose interpreted value may be a wear reading.
type Candidate struct {
	Offset           int       `json:"offset"`
	RawValue         byte      `json:"raw_value"`
	InterpretedValue int       `json:"interpreted_value"`
	Transform        Transform `json:"transform"`
}

// Scanner finds candidate offsets in decoded payloads.
//
// A zero HoursRange disables the 16-bit readings.
type Scanner struct {
	HoursRange      Range
	ExcludedOffsets []int
	ExcludedKeys    []string
}

// NewScanner returns a scanner with the default hours range.
func NewScanner() Scanner {
	return Scanner{HoursRange: DefaultHoursRange}
}

// Scan returns every candidate in payload, ascending by offset. Within one
// offset candidates follow Transforms order.
func (s Scanner) Scan(payload []byte, r Range) []Candidate {
	excluded := make(map[int]bool, len(s.ExcludedOffsets))
	for _, off := range s.ExcludedOffsets {
		excluded[off] = true
	}

	out := make([]Candidate, 0)
	for offset := range payload {
		if excluded[offset] {
			continue
		}
		raw := payload[offset]
		if r.Contains(int(raw)) {
			out = append(out, Candidate{
				Offset:           offset,
				RawValue:         raw,
				InterpretedValue: int(raw),
				Transform:        RawByte,
			})
		}
		if s.HoursRange.IsZero() {
			continue
		}
		for _, t := range []Transform{Uint16BE, Uint16LE} {
			value, ok := t.Decode(payload, offset)
			if !ok || !s.HoursRange.Contains(value) {
				continue
			}
			out = append(out, Candidate{
				Offset:           offset,
				RawValue:         raw,
				InterpretedValue: value,
				Transform:        t,
			})
		}
	}
	return out
}

// Counterparts returns a candidate for every offset and transform the
// payload can hold, ignoring the value ranges. A zero HoursRange still
// disables the 16-bit readings. The after capture of a comparison is
// scanned this way.
func (s Scanner) Counterparts(payload []byte) []Candidate {
	full := s
	if !full.HoursRange.IsZero() {
		full.HoursRange = FullWordRange
	}
	return full.Scan(payload, FullByteRange)
}

// ScanEncoded decodes a base64 payload and scans it.
func (s Scanner) ScanEncoded(key, encoded string, r Range) ([]Candidate, error) {
	payload, err := DecodePayload(key, encoded)
	if err != nil {
		return nil, err
	}
	return s.Scan(payload, r), nil
}

// Excludes reports whether key is skipped by multi-key scans.
func (s Scanner) Excludes(key string) bool {
	for _, k := range s.ExcludedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// KeyScan holds the scan of one telemetry key.
type KeyScan struct {
	Key        string      `json:"key"`
	Length     int         `json:"length"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ScanCapture scans every blob in a multi-key capture. Excluded keys are
// skipped and a key that fails to decode is reported without aborting the
// others. Results are ordered by numeric key.
func (s Scanner) ScanCapture(blobs map[string]string, r Range) []KeyScan {
	keys := make([]string, 0, len(blobs))
	for key := range blobs {
		if s.Excludes(key) {
			continue
		}
		keys = append(keys, key)
	}
	SortKeys(keys)

	out := make([]KeyScan, 0, len(keys))
	for _, key := range keys {
		payload, err := DecodePayload(key, blobs[key])
		if err != nil {
			out = append(out, KeyScan{Key: key, Error: err.Error()})
			continue
		}
		out = append(out, KeyScan{
			Key:        key,
			Length:     len(payload),
			Candidates: s.Scan(payload, r),
		})
	}
	return out
}

// DecodePayload decodes standard base64 text.
func DecodePayload(key, encoded string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	return payload, nil
}

// SortKeys orders telemetry keys numerically, falling back to lexical order
// for non-numeric keys.
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
