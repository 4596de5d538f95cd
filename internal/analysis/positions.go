package analysis

import "sort"

// knownPositions are key 180 offsets observed to track accessory wear on
// the X-series firmware.
var knownPositions = map[int]string{
	5:   "mop_cloth",
	37:  "side_brush",
	75:  "cleaning_tray",
	95:  "sensors_status",
	125: "brush_guard",
	146: "rolling_brush",
	228: "dust_filter",
}

// KnownPositions returns the researched offsets in ascending order.
func KnownPositions() []int {
	out := make([]int, 0, len(knownPositions))
	for pos := range knownPositions {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// ResearchedAccessory reports the accessory recorded for pos in the
// researched offsets.
func ResearchedAccessory(pos int) (string, bool) {
	name, ok := knownPositions[pos]
	return name, ok
}

// GuessAccessory names the accessory usually stored at pos.
func GuessAccessory(pos int) string {
	if name, ok := knownPositions[pos]; ok {
		return name
	}
	return "unknown_accessory"
}

// PositionConfidence grades a byte as an accessory reading.
func PositionConfidence(pos int, value int) string {
	_, known := knownPositions[pos]
	percent := DefaultPercentRange.Contains(value)
	switch {
	case known && percent:
		return "high"
	case known:
		return "medium"
	case percent:
		return "low"
	default:
		return "very_low"
	}
}
