package analysis

import (
	"fmt"
	"sort"
)

// Confidence labels how closely an observed value matches a reference.
type Confidence int

const (
	ExactMatch Confidence = iota
	CloseMatch
	NoMatch
)

var confidenceNames = [...]string{
	ExactMatch: "EXACT_MATCH",
	CloseMatch: "CLOSE_MATCH",
	NoMatch:    "NO_MATCH",
}

func (c Confidence) String() string {
	if c < ExactMatch || c > NoMatch {
		return fmt.Sprintf("confidence(%d)", int(c))
	}
	return confidenceNames[c]
}

// Downgrade lowers the label one step. NoMatch stays NoMatch.
func (c Confidence) Downgrade() Confidence {
	if c >= NoMatch {
		return NoMatch
	}
	return c + 1
}

func (c Confidence) MarshalText() ([]byte, error) {
	if c < ExactMatch || c > NoMatch {
		return nil, fmt.Errorf("unknown confidence %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(text []byte) error {
	for i, name := range confidenceNames {
		if name == string(text) {
			*c = Confidence(i)
			return nil
		}
	}
	return fmt.Errorf("unknown confidence %q", string(text))
}

// Thresholds are the absolute differences that still count as exact or
// close matches.
type Thresholds struct {
	Exact int `json:"exact" yaml:"exact"`
	Close int `json:"close" yaml:"close"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Exact: 0, Close: 2}
}

func (t Thresholds) Validate() error {
	if t.Exact < 0 {
		return fmt.Errorf("exact threshold must be >= 0")
	}
	if t.Close < t.Exact {
		return fmt.Errorf("close threshold %d is below exact threshold %d", t.Close, t.Exact)
	}
	return nil
}

// Label maps an absolute difference to a confidence.
func (t Thresholds) Label(diff int) Confidence {
	switch {
	case diff <= t.Exact:
		return ExactMatch
	case diff <= t.Close:
		return CloseMatch
	default:
		return NoMatch
	}
}

// ReferenceEntry is an externally observed accessory reading.
// ExpectedHours is optional and is matched against the 16-bit readings.
type ReferenceEntry struct {
	AccessoryName      string `json:"accessory_name" yaml:"accessory_name"`
	ExpectedPercentage int    `json:"expected_percentage" yaml:"expected_percentage"`
	ExpectedHours      *int   `json:"expected_hours,omitempty" yaml:"expected_hours,omitempty"`
}

// MatchResult is the advisory outcome for one accessory and one offset.
// Offset is -1 when the capture held no candidate of the needed unit.
type MatchResult struct {
	AccessoryName string     `json:"accessory_name"`
	Offset        int        `json:"offset"`
	Transform     Transform  `json:"transform"`
	Expected      int        `json:"expected"`
	Observed      int        `json:"observed"`
	Difference    int        `json:"difference"`
	Confidence    Confidence `json:"confidence_label"`
	Delta         *int       `json:"delta_between_captures,omitempty"`
}

// Consistent reports whether the capture delta points in the wear
// direction.
func (m MatchResult) Consistent() bool {
	return m.Delta != nil && *m.Delta < 0
}

// Comparator ranks candidate offsets against reference readings.
type Comparator struct {
	Thresholds Thresholds
}

func NewComparator(t Thresholds) Comparator {
	return Comparator{Thresholds: t}
}

// Compare uses the default thresholds.
func Compare(before, after []Candidate, reference []ReferenceEntry) []MatchResult {
	return NewComparator(DefaultThresholds()).Compare(before, after, reference)
}

type candidateKey struct {
	offset    int
	transform Transform
}

// Compare matches every reference entry against the before capture and
// checks the wear direction against the after capture. Percentages are
// matched against percent readings and hours against hour readings.
func (c Comparator) Compare(before, after []Candidate, reference []ReferenceEntry) []MatchResult {
	out := make([]MatchResult, 0, len(reference))
	if len(reference) == 0 {
		return out
	}

	afterValues := make(map[candidateKey]int, len(after))
	for _, cand := range after {
		afterValues[candidateKey{cand.Offset, cand.Transform}] = cand.InterpretedValue
	}

	for _, ref := range reference {
		out = append(out, c.match(ref.AccessoryName, ref.ExpectedPercentage, UnitPercent, before, afterValues)...)
		if ref.ExpectedHours != nil {
			out = append(out, c.match(ref.AccessoryName, *ref.ExpectedHours, UnitHours, before, afterValues)...)
		}
	}
	return out
}

func (c Comparator) match(name string, expected int, unit Unit, before []Candidate, afterValues map[candidateKey]int) []MatchResult {
	best := -1
	var tied []Candidate
	for _, cand := range before {
		if cand.Transform.Unit() != unit {
			continue
		}
		diff := absInt(expected - cand.InterpretedValue)
		switch {
		case best < 0 || diff < best:
			best = diff
			tied = append(tied[:0], cand)
		case diff == best:
			tied = append(tied, cand)
		}
	}

	if len(tied) == 0 {
		return []MatchResult{{
			AccessoryName: name,
			Offset:        -1,
			Expected:      expected,
			Difference:    -1,
			Confidence:    NoMatch,
		}}
	}

	sort.SliceStable(tied, func(i, j int) bool {
		if tied[i].Offset != tied[j].Offset {
			return tied[i].Offset < tied[j].Offset
		}
		return tied[i].Transform < tied[j].Transform
	})

	results := make([]MatchResult, 0, len(tied))
	for _, cand := range tied {
		res := MatchResult{
			AccessoryName: name,
			Offset:        cand.Offset,
			Transform:     cand.Transform,
			Expected:      expected,
			Observed:      cand.InterpretedValue,
			Difference:    best,
			Confidence:    c.Thresholds.Label(best),
		}
		if value, ok := afterValues[candidateKey{cand.Offset, cand.Transform}]; ok {
			delta := value - cand.InterpretedValue
			res.Delta = &delta
			if delta >= 0 {
				res.Confidence = res.Confidence.Downgrade()
			}
		}
		results = append(results, res)
	}
	return results
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
