package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/plugins"
)

func dashboardsCmd(configPath *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dashboards",
		Short: "Write plugin Grafana dashboards to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			dir := out
			if dir == "" {
				dir = cfg.Core.DashboardDir
			}
			active, err := loadPlugins(cfg, plugins.Deps{History: history.Nop()})
			if err != nil {
				return err
			}
			written, err := core.WriteDashboards(dir, active)
			if err != nil {
				return err
			}
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output directory (default core.dashboard_dir)")
	return cmd
}
