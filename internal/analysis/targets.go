package analysis

import "encoding/binary"

// Encoding names a fixed-width integer layout used by target searches.
type Encoding string

const (
	EncodingSingleByte Encoding = "single_byte"
	EncodingUint16BE   Encoding = "big_endian_16bit"
	EncodingUint16LE   Encoding = "little_endian_16bit"
	EncodingUint32BE   Encoding = "big_endian_32bit"
	EncodingUint32LE   Encoding = "little_endian_32bit"
)

// Target is the app-reported state of one accessory.
type Target struct {
	Description  string `json:"description,omitempty"`
	Hours        *int   `json:"hours,omitempty"`
	Percentage   *int   `json:"percentage,omitempty"`
	MaxLifeHours *int   `json:"max_life_hours,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// TargetMatch is an exact hit for a target value.
type TargetMatch struct {
	Key      string   `json:"key,omitempty"`
	Bytes    []int    `json:"bytes"`
	Value    int      `json:"value"`
	Encoding Encoding `json:"encoding"`
}

// TargetResult lists exact hits for one target.
type TargetResult struct {
	HourCandidates       []TargetMatch `json:"hour_candidates"`
	PercentageCandidates []TargetMatch `json:"percentage_candidates"`
}

// FindTargets searches payload for exact hour and percentage values.
func FindTargets(key string, payload []byte, target Target) TargetResult {
	result := TargetResult{
		HourCandidates:       []TargetMatch{},
		PercentageCandidates: []TargetMatch{},
	}
	if target.Hours != nil {
		result.HourCandidates = findHours(key, payload, *target.Hours)
	}
	if target.Percentage != nil {
		result.PercentageCandidates = findPercentage(key, payload, *target.Percentage)
	}
	return result
}

func findHours(key string, payload []byte, hours int) []TargetMatch {
	out := []TargetMatch{}
	for i := 0; i+2 <= len(payload); i++ {
		if int(binary.BigEndian.Uint16(payload[i:])) == hours {
			out = append(out, TargetMatch{Key: key, Bytes: []int{i, i + 1}, Value: hours, Encoding: EncodingUint16BE})
		}
		if int(binary.LittleEndian.Uint16(payload[i:])) == hours {
			out = append(out, TargetMatch{Key: key, Bytes: []int{i, i + 1}, Value: hours, Encoding: EncodingUint16LE})
		}
	}
	if hours >= 0 {
		for i := 0; i+4 <= len(payload); i++ {
			span := []int{i, i + 1, i + 2, i + 3}
			if uint64(binary.BigEndian.Uint32(payload[i:])) == uint64(hours) {
				out = append(out, TargetMatch{Key: key, Bytes: span, Value: hours, Encoding: EncodingUint32BE})
			}
			if uint64(binary.LittleEndian.Uint32(payload[i:])) == uint64(hours) {
				out = append(out, TargetMatch{Key: key, Bytes: span, Value: hours, Encoding: EncodingUint32LE})
			}
		}
	}
	if hours >= 0 && hours <= 255 {
		for i, b := range payload {
			if int(b) == hours {
				out = append(out, TargetMatch{Key: key, Bytes: []int{i}, Value: hours, Encoding: EncodingSingleByte})
			}
		}
	}
	return out
}

func findPercentage(key string, payload []byte, pct int) []TargetMatch {
	out := []TargetMatch{}
	if pct < 0 || pct > 100 {
		return out
	}
	for i, b := range payload {
		if int(b) == pct {
			out = append(out, TargetMatch{Key: key, Bytes: []int{i}, Value: pct, Encoding: EncodingSingleByte})
		}
	}
	return out
}
