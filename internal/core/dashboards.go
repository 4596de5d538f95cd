package core

import (
	"fmt"
	"os"
	"path/filepath"
)

func dashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

// DashboardsMap materializes dashboard content to URL paths.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	for _, plugin := range plugins {
		manifest := plugin.Manifest()
		for _, dash := range plugin.Dashboards() {
			result[dashboardPath(manifest.PluginID, dash.Name)] = dash.JSON
		}
	}
	return result
}

// WriteDashboards writes dashboards to disk for Grafana provisioning and
// returns the files written.
func WriteDashboards(dir string, plugins []Plugin) ([]string, error) {
	if dir == "" {
		return nil, nil
	}

	var written []string
	for _, plugin := range plugins {
		manifest := plugin.Manifest()
		pluginDir := filepath.Join(dir, manifest.PluginID)
		for _, dash := range plugin.Dashboards() {
			if err := os.MkdirAll(pluginDir, 0o755); err != nil {
				return written, fmt.Errorf("create dashboard dir: %w", err)
			}
			path := filepath.Join(pluginDir, dash.Name+".json")
			if err := os.WriteFile(path, dash.JSON, 0o644); err != nil {
				return written, fmt.Errorf("write dashboard %s: %w", path, err)
			}
			written = append(written, path)
		}
	}
	return written, nil
}
