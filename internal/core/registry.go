package core

import (
	"context"
	"sync"

	"github.com/joshp123/eufyscope/internal/rate"
)

// PluginSummary is one row of ListPlugins.
type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

type DashboardRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PluginDescriptor is the full registry view of a plugin.
type PluginDescriptor struct {
	PluginSummary
	Services      []string       `json:"services"`
	AgentsMD      string         `json:"agents_md"`
	HealthMessage string         `json:"health_message"`
	Dashboards    []DashboardRef `json:"dashboards"`
	RateLimits    map[string]int `json:"rate_limits,omitempty"`
	CacheTTL      string         `json:"cache_ttl,omitempty"`
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

func (r *RegistryService) ListPlugins(_ context.Context) []PluginSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p))
	}
	return out
}

// DescribePlugin returns false when no plugin has the id.
func (r *RegistryService) DescribePlugin(_ context.Context, pluginID string) (PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		descriptor := PluginDescriptor{
			PluginSummary: summarize(p),
			Services:      append([]string{}, manifest.Services...),
			AgentsMD:      p.AgentsMD(),
			HealthMessage: p.HealthMessage(),
			Dashboards:    []DashboardRef{},
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardRef{
				Name: d.Name,
				Path: dashboardPath(manifest.PluginID, d.Name),
			})
		}
		descriptor.RateLimits, descriptor.CacheTTL = describeRate(p.RateLimits())
		return descriptor, true
	}

	return PluginDescriptor{}, false
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:    manifest.PluginID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      string(p.Health()),
	}
}

func describeRate(decl rate.Declaration) (map[string]int, string) {
	if !decl.HasLimits() {
		return nil, ""
	}
	limits := decl.Limits()
	out := make(map[string]int, len(limits))
	for w, n := range limits {
		out[w.String()] = n
	}
	ttl := ""
	if decl.CacheTTL() > 0 {
		ttl = decl.CacheTTL().String()
	}
	return out, ttl
}
