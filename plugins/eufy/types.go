package eufy

import (
	"time"

	"github.com/joshp123/eufyscope/internal/investigation"
)

// Device is a configured robot.
type Device struct {
	ID        string `json:"device_id"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	ModelName string `json:"model_name"`
}

// Status is the decoded subset of the data points.
type Status struct {
	BatteryPercent   *int   `json:"battery_percent,omitempty"`
	WaterTankPercent *int   `json:"water_tank_percent,omitempty"`
	WorkStatus       string `json:"work_status,omitempty"`
	WorkStatusCode   *int   `json:"work_status_code,omitempty"`
	CleanSpeed       string `json:"clean_speed,omitempty"`
	ErrorCode        *int   `json:"error_code,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// AccessoryReading is one enabled sensor read from the accessory payload.
type AccessoryReading struct {
	ID        string `json:"sensor_id"`
	Name      string `json:"name"`
	Percent   *int   `json:"percent"`
	Threshold int    `json:"replacement_threshold"`
	Low       bool   `json:"low"`
}

// DeviceState is the latest merged view of one device.
type DeviceState struct {
	Device        Device                `json:"device"`
	Status        Status                `json:"status"`
	DPS           map[string]any        `json:"dps"`
	Accessories   []AccessoryReading    `json:"accessories"`
	Investigation *investigation.Status `json:"investigation,omitempty"`
	Candidates    int                   `json:"candidates"`
	Source        string                `json:"source"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Error         string                `json:"error,omitempty"`
}

// Online reports whether the last poll produced data.
func (s DeviceState) Online() bool {
	return s.Error == "" && len(s.DPS) > 0
}
