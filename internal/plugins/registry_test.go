package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/core"
)

func TestCompiledSkipsUnconfigured(t *testing.T) {
	assert.Nil(t, Compiled(nil, Deps{}))
	assert.Empty(t, Compiled(&config.Config{}, Deps{}))
}

func TestCompiledReportsBrokenConfig(t *testing.T) {
	cfg := &config.Config{Eufy: &config.EufyConfig{
		BootstrapFile: "/nonexistent/eufy.json",
		Devices:       []config.DeviceConfig{{ID: "dev-1"}},
	}}
	out := Compiled(cfg, Deps{})
	require.Len(t, out, 1)
	assert.Equal(t, "eufy", out[0].ID())
	assert.Equal(t, core.HealthError, out[0].Health())
	assert.NotEmpty(t, out[0].HealthMessage())
}
