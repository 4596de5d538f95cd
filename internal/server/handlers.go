package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshp123/eufyscope/internal/core"
)

type pluginHealth struct {
	Status  core.HealthStatus `json:"status"`
	Message string            `json:"message,omitempty"`
}

type healthResponse struct {
	Status  core.HealthStatus       `json:"status"`
	Plugins map[string]pluginHealth `json:"plugins"`
}

// HealthHandler reports the worst plugin health. Any plugin in ERROR
// turns the response into a 503.
func HealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: core.HealthHealthy, Plugins: make(map[string]pluginHealth, len(plugins))}
		for _, p := range plugins {
			h := p.Health()
			resp.Plugins[p.ID()] = pluginHealth{Status: h, Message: p.HealthMessage()}
			switch {
			case h == core.HealthError:
				resp.Status = core.HealthError
			case h == core.HealthDegraded && resp.Status == core.HealthHealthy:
				resp.Status = core.HealthDegraded
			}
		}
		code := http.StatusOK
		if resp.Status == core.HealthError {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry, EnableOpenMetrics: true})
}

// DashboardsHandler serves dashboard JSON by path. The bare prefix lists
// the available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	index := make([]string, 0, len(dashboards))
	for path := range dashboards {
		index = append(index, path)
	}
	sort.Strings(index)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/dashboards/" {
			_ = json.NewEncoder(w).Encode(index)
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			w.Header().Del("Content-Type")
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
}
