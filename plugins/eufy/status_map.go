package eufy

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Data point keys used by the X-series firmware.
const (
	KeyWorkStatus = "153"
	KeyCleanSpeed = "158"
	KeyBattery    = "163"
	KeyWaterTank  = "167"
	KeyErrorCode  = "177"
	KeyAccessory  = "180"
)

var workStatusNames = map[int]string{
	0: "standby",
	1: "sleep",
	2: "fault",
	3: "charging",
	4: "fast_mapping",
	5: "cleaning",
	6: "remote_ctrl",
	7: "go_home",
	8: "cruising",
}

var cleanSpeedNames = []string{"quiet", "standard", "turbo", "max"}

var errorNames = map[int]string{
	0:  "NONE",
	1:  "CRASH_BUFFER_STUCK",
	2:  "WHEEL_STUCK",
	3:  "SIDE_BRUSH_STUCK",
	4:  "ROLLING_BRUSH_STUCK",
	5:  "HOST_TRAPPED_CLEAR_OBST",
	6:  "MACHINE_TRAPPED_MOVE",
	7:  "WHEEL_OVERHANGING",
	8:  "POWER_LOW_SHUTDOWN",
	13: "HOST_TILTED",
	14: "NO_DUST_BOX",
	21: "DOCK_FAILED",
	72: "ROBOVAC_LOW_WATER",
	73: "DIRTY_TANK_FULL",
	74: "CLEAN_WATER_LOW",
	75: "WATER_TANK_ABSENT",
}

var modelNames = map[string]string{
	"T2351": "X10 Pro Omni",
	"T2320": "X10 Pro",
	"T2262": "X8",
	"T2261": "X8 Hybrid",
	"T2266": "X8 Pro",
	"T2276": "X8 Pro SES",
}

func workStatusName(code int) string {
	if name, ok := workStatusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", code)
}

func cleanSpeedName(code int) string {
	if code >= 0 && code < len(cleanSpeedNames) {
		return cleanSpeedNames[code]
	}
	return fmt.Sprintf("unknown_%d", code)
}

func errorName(code int) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_ERROR_%d", code)
}

// ModelName returns the marketing name for a model code, or the code.
func ModelName(model string) string {
	if name, ok := modelNames[model]; ok {
		return name
	}
	return model
}

// MonitoredKeys are the standard keys 150-180 followed by the enhanced
// keys 181-190.
func MonitoredKeys() []string {
	keys := make([]string, 0, 41)
	for k := 150; k <= 190; k++ {
		keys = append(keys, strconv.Itoa(k))
	}
	return keys
}

// intValue reads a numeric data point. JSON numbers arrive as float64.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// cleanSpeedCode accepts an int or a base64 blob whose first byte is the
// speed.
func cleanSpeedCode(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return intValue(v)
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		if len(data) == 0 {
			return 0, false
		}
		return int(data[0]), true
	}
	return intValue(s)
}

// parseStatus maps raw data points onto Status.
func parseStatus(dps map[string]any) Status {
	var st Status
	if v, ok := intValue(dps[KeyBattery]); ok {
		st.BatteryPercent = &v
	}
	if v, ok := intValue(dps[KeyWaterTank]); ok {
		st.WaterTankPercent = &v
	}
	if v, ok := intValue(dps[KeyWorkStatus]); ok {
		st.WorkStatusCode = &v
		st.WorkStatus = workStatusName(v)
	}
	if v, ok := cleanSpeedCode(dps[KeyCleanSpeed]); ok {
		st.CleanSpeed = cleanSpeedName(v)
	}
	if v, ok := intValue(dps[KeyErrorCode]); ok {
		st.ErrorCode = &v
		st.ErrorMessage = errorName(v)
	}
	return st
}
