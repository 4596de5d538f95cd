package eufy

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/eufyscope/internal/analysis"
)

// StateSource is the cached view the collector reads. Poller implements it.
type StateSource interface {
	States() []DeviceState
	Matches() map[string][]analysis.MatchResult
}

// MetricsCollector exports the cached device states. Scrapes never call the
// vendor API.
type MetricsCollector struct {
	source StateSource

	success prometheus.Gauge

	online            *prometheus.GaugeVec
	batteryPercent    *prometheus.GaugeVec
	waterTankPercent  *prometheus.GaugeVec
	workStatus        *prometheus.GaugeVec
	cleanSpeed        *prometheus.GaugeVec
	errorCode         *prometheus.GaugeVec
	accessoryLife     *prometheus.GaugeVec
	accessoryLow      *prometheus.GaugeVec
	updatesTotal      *prometheus.GaugeVec
	meaningfulLogs    *prometheus.GaugeVec
	duplicatesSkipped *prometheus.GaugeVec
	candidates        *prometheus.GaugeVec
	matchDifference   *prometheus.GaugeVec
}

func NewMetricsCollector(source StateSource) *MetricsCollector {
	labels := []string{"device_id", "device_name", "model"}
	workLabels := []string{"device_id", "device_name", "model", "work_status"}
	speedLabels := []string{"device_id", "device_name", "model", "clean_speed"}
	errorLabels := []string{"device_id", "device_name", "model", "error_code"}
	accessoryLabels := []string{"device_id", "device_name", "model", "accessory"}
	matchLabels := []string{"device_id", "accessory", "offset", "transform", "confidence"}
	return &MetricsCollector{
		source: source,
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_scrape_success",
			Help: "Last poll success for every device (1=ok, 0=error)",
		}),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_online",
			Help: "Whether the last poll returned data (1=yes, 0=no)",
		}, labels),
		batteryPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_battery_percent",
			Help: "Battery percentage (0-100)",
		}, labels),
		waterTankPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_water_tank_percent",
			Help: "Water tank level reported by the device",
		}, labels),
		workStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_work_status",
			Help: "Work status (label) reported by the device",
		}, workLabels),
		cleanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_clean_speed",
			Help: "Suction level (label)",
		}, speedLabels),
		errorCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_error_code",
			Help: "Error code (label)",
		}, errorLabels),
		accessoryLife: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_accessory_life_percent",
			Help: "Accessory life remaining (0-100)",
		}, accessoryLabels),
		accessoryLow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_accessory_low",
			Help: "Whether the accessory is at or below its replacement threshold (1=yes, 0=no)",
		}, accessoryLabels),
		updatesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_investigation_updates",
			Help: "Accessory payload updates seen this session",
		}, labels),
		meaningfulLogs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_investigation_logs",
			Help: "Investigation files written this session",
		}, labels),
		duplicatesSkipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_investigation_skipped",
			Help: "Accessory payload updates skipped this session",
		}, labels),
		candidates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_candidate_offsets",
			Help: "Candidate wear offsets in the latest accessory payload",
		}, labels),
		matchDifference: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eufyscope_eufy_match_difference",
			Help: "Difference between expected and observed wear for the last comparison",
		}, matchLabels),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.online,
		c.batteryPercent,
		c.waterTankPercent,
		c.workStatus,
		c.cleanSpeed,
		c.errorCode,
		c.accessoryLife,
		c.accessoryLow,
		c.updatesTotal,
		c.meaningfulLogs,
		c.duplicatesSkipped,
		c.candidates,
		c.matchDifference,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.success.Describe(ch)
	for _, v := range c.vecs() {
		v.Describe(ch)
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, v := range c.vecs() {
		v.Reset()
	}

	ok := true
	for _, state := range c.source.States() {
		labels := prometheus.Labels{
			"device_id":   state.Device.ID,
			"device_name": state.Device.Name,
			"model":       state.Device.Model,
		}
		if !state.Online() {
			ok = false
			c.online.With(labels).Set(0)
			continue
		}
		c.online.With(labels).Set(1)

		st := state.Status
		if st.BatteryPercent != nil {
			c.batteryPercent.With(labels).Set(float64(*st.BatteryPercent))
		}
		if st.WaterTankPercent != nil {
			c.waterTankPercent.With(labels).Set(float64(*st.WaterTankPercent))
		}
		if st.WorkStatus != "" {
			c.workStatus.With(withLabel(labels, "work_status", st.WorkStatus)).Set(1)
		}
		if st.CleanSpeed != "" {
			c.cleanSpeed.With(withLabel(labels, "clean_speed", st.CleanSpeed)).Set(1)
		}
		if st.ErrorMessage != "" {
			c.errorCode.With(withLabel(labels, "error_code", st.ErrorMessage)).Set(1)
		}
		for _, a := range state.Accessories {
			al := withLabel(labels, "accessory", a.ID)
			if a.Percent != nil {
				c.accessoryLife.With(al).Set(float64(*a.Percent))
			}
			c.accessoryLow.With(al).Set(boolGauge(a.Low))
		}
		if inv := state.Investigation; inv != nil {
			c.updatesTotal.With(labels).Set(float64(inv.TotalUpdates))
			c.meaningfulLogs.With(labels).Set(float64(inv.MeaningfulLogs))
			c.duplicatesSkipped.With(labels).Set(float64(inv.DuplicatesSkipped))
		}
		c.candidates.With(labels).Set(float64(state.Candidates))
	}

	for deviceID, results := range c.source.Matches() {
		for _, m := range results {
			if m.Offset < 0 {
				continue
			}
			c.matchDifference.With(prometheus.Labels{
				"device_id":  deviceID,
				"accessory":  m.AccessoryName,
				"offset":     strconv.Itoa(m.Offset),
				"transform":  m.Transform.String(),
				"confidence": m.Confidence.String(),
			}).Set(float64(m.Difference))
		}
	}

	if ok {
		c.success.Set(1)
	} else {
		c.success.Set(0)
	}
	c.success.Collect(ch)
	for _, v := range c.vecs() {
		v.Collect(ch)
	}
}

func withLabel(base prometheus.Labels, name, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[name] = value
	return out
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
