//go:build !eufyscope_no_eufy

package plugins

import (
	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/plugins/eufy"
)

func init() {
	Register(func(cfg *config.Config, deps Deps) (core.Plugin, bool) {
		return eufy.NewPlugin(cfg.Eufy, eufy.Deps{Logger: deps.Logger, Blob: deps.Blob, History: deps.History})
	})
}
