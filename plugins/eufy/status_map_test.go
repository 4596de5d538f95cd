package eufy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "cleaning", workStatusName(5))
	assert.Equal(t, "unknown_42", workStatusName(42))
	assert.Equal(t, "turbo", cleanSpeedName(2))
	assert.Equal(t, "unknown_9", cleanSpeedName(9))
	assert.Equal(t, "DIRTY_TANK_FULL", errorName(73))
	assert.Equal(t, "UNKNOWN_ERROR_99", errorName(99))
	assert.Equal(t, "X10 Pro Omni", ModelName("T2351"))
	assert.Equal(t, "T9999", ModelName("T9999"))
}

func TestCleanSpeedCode(t *testing.T) {
	v, ok := cleanSpeedCode(float64(3))
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = cleanSpeedCode("AQ==")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = cleanSpeedCode("")
	assert.False(t, ok)
}

func TestParseStatus(t *testing.T) {
	st := parseStatus(map[string]any{
		"153": float64(3),
		"158": "Ag==",
		"163": float64(91),
		"167": float64(40),
		"177": float64(0),
	})
	require.NotNil(t, st.BatteryPercent)
	assert.Equal(t, 91, *st.BatteryPercent)
	require.NotNil(t, st.WaterTankPercent)
	assert.Equal(t, 40, *st.WaterTankPercent)
	assert.Equal(t, "charging", st.WorkStatus)
	assert.Equal(t, "turbo", st.CleanSpeed)
	assert.Equal(t, "NONE", st.ErrorMessage)

	empty := parseStatus(map[string]any{})
	assert.Nil(t, empty.BatteryPercent)
	assert.Empty(t, empty.WorkStatus)
}

func TestMonitoredKeys(t *testing.T) {
	keys := MonitoredKeys()
	require.Len(t, keys, 41)
	assert.Equal(t, "150", keys[0])
	assert.Contains(t, keys, KeyAccessory)
	assert.Equal(t, "190", keys[len(keys)-1])
}
