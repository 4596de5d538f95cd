package analysis

import "sort"

// HistoryOptions tune the change frequency classification.
type HistoryOptions struct {
	// InfrequentThreshold is the highest change frequency still treated as
	// infrequent.
	InfrequentThreshold float64
	MinLogs             int
}

func DefaultHistoryOptions() HistoryOptions {
	return HistoryOptions{InfrequentThreshold: 0.20, MinLogs: 3}
}

// Series is one value tracked across captures. Position is -1 for scalar
// telemetry values.
type Series struct {
	Key      string `json:"key"`
	Position int    `json:"byte_position"`
	Values   []int  `json:"values"`
}

// SeriesFrequency is the change profile of a series.
type SeriesFrequency struct {
	Key          string  `json:"key"`
	Position     int     `json:"byte_position"`
	ChangeCount  int     `json:"change_count"`
	Frequency    float64 `json:"frequency"`
	LastKnown    int     `json:"last_known_value"`
	Observations int     `json:"observations"`
}

// HistoryReport splits tracked series by how often they change.
type HistoryReport struct {
	TotalLogs  int               `json:"total_logs_for_frequency_analysis"`
	Threshold  float64           `json:"infrequent_change_threshold"`
	Series     []SeriesFrequency `json:"series"`
	Infrequent []SeriesFrequency `json:"infrequently_changing_values"`
	Frequent   []SeriesFrequency `json:"frequently_changing_values"`
}

// ChangeFrequency counts value changes between consecutive observations and
// divides by the number of comparisons. Short series report zero.
func ChangeFrequency(values []int, minLogs int) (int, float64) {
	if len(values) < minLogs || len(values) < 2 {
		return 0, 0
	}
	changes := 0
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			changes++
		}
	}
	return changes, float64(changes) / float64(len(values)-1)
}

// ByteSeries turns ordered captures of one key into per-offset series up to
// the shortest capture.
func ByteSeries(key string, captures [][]byte) []Series {
	if len(captures) == 0 {
		return nil
	}
	width := len(captures[0])
	for _, c := range captures[1:] {
		if len(c) < width {
			width = len(c)
		}
	}
	out := make([]Series, width)
	for pos := 0; pos < width; pos++ {
		values := make([]int, len(captures))
		for i, c := range captures {
			values[i] = int(c[pos])
		}
		out[pos] = Series{Key: key, Position: pos, Values: values}
	}
	return out
}

// AnalyzeHistory classifies every series. Classification only happens once
// MinLogs observations exist. A series that never changed is neither
// frequent nor infrequent.
func AnalyzeHistory(series []Series, opts HistoryOptions) HistoryReport {
	report := HistoryReport{
		Threshold:  opts.InfrequentThreshold,
		Series:     make([]SeriesFrequency, 0, len(series)),
		Infrequent: []SeriesFrequency{},
		Frequent:   []SeriesFrequency{},
	}
	for _, s := range series {
		if len(s.Values) > report.TotalLogs {
			report.TotalLogs = len(s.Values)
		}
		count, freq := ChangeFrequency(s.Values, opts.MinLogs)
		sf := SeriesFrequency{
			Key:          s.Key,
			Position:     s.Position,
			ChangeCount:  count,
			Frequency:    freq,
			Observations: len(s.Values),
		}
		if len(s.Values) > 0 {
			sf.LastKnown = s.Values[len(s.Values)-1]
		}
		report.Series = append(report.Series, sf)

		if len(s.Values) < opts.MinLogs {
			continue
		}
		switch {
		case freq > opts.InfrequentThreshold:
			report.Frequent = append(report.Frequent, sf)
		case count > 0:
			report.Infrequent = append(report.Infrequent, sf)
		}
	}

	order := func(list []SeriesFrequency) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Key != list[j].Key {
				keys := []string{list[i].Key, list[j].Key}
				SortKeys(keys)
				return keys[0] == list[i].Key
			}
			return list[i].Position < list[j].Position
		})
	}
	order(report.Infrequent)
	order(report.Frequent)
	return report
}
