package analysis

import "fmt"

// DiffOptions tune what counts as a significant change between captures.
type DiffOptions struct {
	// AccessoryRange bounds the smaller of the two values for a change to
	// count as wear.
	AccessoryRange Range
	// WearStep is the largest decrease treated as wear.
	WearStep int
	// MaxMinorChanges is how many changed bytes are tolerated before the
	// diff is significant on volume alone.
	MaxMinorChanges int
}

func DefaultDiffOptions() DiffOptions {
	return DiffOptions{
		AccessoryRange:  DefaultPercentRange,
		WearStep:        3,
		MaxMinorChanges: 5,
	}
}

// ByteChange is one differing byte between two captures.
type ByteChange struct {
	Position        int    `json:"position"`
	Previous        int    `json:"previous"`
	Current         int    `json:"current"`
	Difference      int    `json:"difference"`
	Classification  string `json:"classification"`
	LikelyAccessory string `json:"likely_accessory,omitempty"`
}

// ChangeReport summarises the difference between two captures.
type ChangeReport struct {
	LengthMismatch bool         `json:"length_mismatch"`
	Significant    bool         `json:"has_significant_changes"`
	Changes        []ByteChange `json:"total_changes"`
	WearChanges    []ByteChange `json:"accessory_wear_changes"`
	Reason         string       `json:"reason"`
}

// ChangeCount is the number of differing bytes.
func (r ChangeReport) ChangeCount() int {
	return len(r.Changes)
}

// DiffPayloads compares two decoded captures byte by byte.
func DiffPayloads(previous, current []byte, opts DiffOptions) ChangeReport {
	if len(previous) != len(current) {
		return ChangeReport{
			LengthMismatch: true,
			Significant:    true,
			Changes:        []ByteChange{},
			WearChanges:    []ByteChange{},
			Reason:         fmt.Sprintf("length changed from %d to %d", len(previous), len(current)),
		}
	}

	report := ChangeReport{Changes: []ByteChange{}, WearChanges: []ByteChange{}}
	for i := range current {
		prev, curr := int(previous[i]), int(current[i])
		if prev == curr {
			continue
		}
		diff := curr - prev
		change := ByteChange{
			Position:       i,
			Previous:       prev,
			Current:        curr,
			Difference:     diff,
			Classification: ClassifyDelta(diff),
		}
		if diff < 0 && absInt(diff) <= opts.WearStep && opts.AccessoryRange.Contains(min(prev, curr)) {
			change.LikelyAccessory = GuessAccessory(i)
			report.WearChanges = append(report.WearChanges, change)
		}
		report.Changes = append(report.Changes, change)
	}

	report.Significant = len(report.WearChanges) > 0 || len(report.Changes) > opts.MaxMinorChanges
	report.Reason = fmt.Sprintf("%d accessory wear changes, %d total changes", len(report.WearChanges), len(report.Changes))
	return report
}

// ClassifyDelta names the direction and size of a value change.
func ClassifyDelta(delta int) string {
	switch {
	case delta == 0:
		return "no_change"
	case delta < -3:
		return "large_decrease"
	case delta < 0:
		return fmt.Sprintf("decreased_by_%d", -delta)
	case delta > 3:
		return "large_increase"
	default:
		return fmt.Sprintf("increased_by_%d", delta)
	}
}
