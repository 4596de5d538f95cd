package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/logging"
)

const (
	cmdName     = "eufyscope-cli"
	envPrefix   = "EUFYSCOPE"
	defaultAddr = "eufyscope:9000"
)

// cliConfig is everything viper resolves from flags, env and the optional
// config file.
type cliConfig struct {
	Addr            string `mapstructure:"addr"`
	JSON            bool   `mapstructure:"json"`
	Verbose         int    `mapstructure:"verbose"`
	PercentLow      int    `mapstructure:"percent-low"`
	PercentHigh     int    `mapstructure:"percent-high"`
	HoursLow        int    `mapstructure:"hours-low"`
	HoursHigh       int    `mapstructure:"hours-high"`
	Exact           int    `mapstructure:"exact"`
	Close           int    `mapstructure:"close"`
	ExcludedOffsets []int  `mapstructure:"exclude-offset"`
}

func (c cliConfig) percentRange() analysis.Range {
	return analysis.Range{Low: c.PercentLow, High: c.PercentHigh}
}

func (c cliConfig) scanner() analysis.Scanner {
	s := analysis.NewScanner()
	s.HoursRange = analysis.Range{Low: c.HoursLow, High: c.HoursHigh}
	s.ExcludedOffsets = c.ExcludedOffsets
	return s
}

func (c cliConfig) thresholds() analysis.Thresholds {
	return analysis.Thresholds{Exact: c.Exact, Close: c.Close}
}

func (c cliConfig) validate() error {
	if err := c.percentRange().Validate(); err != nil {
		return fmt.Errorf("percent range: %w", err)
	}
	if err := (analysis.Range{Low: c.HoursLow, High: c.HoursHigh}).Validate(); err != nil {
		return fmt.Errorf("hours range: %w", err)
	}
	return c.thresholds().Validate()
}

type app struct {
	root   *cobra.Command
	viper  *viper.Viper
	config cliConfig
	logger *zap.Logger
}

func newApp() *app {
	a := &app{viper: viper.New()}
	a.root = &cobra.Command{
		Use:           cmdName,
		Short:         "Inspect Eufy telemetry captures and talk to the eufyscope daemon",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			if err := a.initConfig(cmd); err != nil {
				return err
			}
			level := "warn"
			switch {
			case a.config.Verbose == 1:
				level = "info"
			case a.config.Verbose > 1:
				level = "debug"
			}
			logger, err := logging.New(level, logging.FormatConsole)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	a.root.CompletionOptions.HiddenDefaultCmd = true

	defaults := analysis.DefaultThresholds()
	flags := a.root.PersistentFlags()
	flags.String("config", "", "use a specific configuration file")
	flags.String("addr", "", "eufyscope gRPC address (default from the daemon config, then "+defaultAddr+")")
	flags.Bool("json", false, "print JSON instead of tables")
	flags.CountP("verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	flags.Int("percent-low", analysis.DefaultPercentRange.Low, "lowest value treated as a percentage")
	flags.Int("percent-high", analysis.DefaultPercentRange.High, "highest value treated as a percentage")
	flags.Int("hours-low", analysis.DefaultHoursRange.Low, "lowest 16-bit value treated as hours")
	flags.Int("hours-high", analysis.DefaultHoursRange.High, "highest 16-bit value treated as hours")
	flags.Int("exact", defaults.Exact, "largest difference labelled EXACT_MATCH")
	flags.Int("close", defaults.Close, "largest difference labelled CLOSE_MATCH")
	flags.IntSlice("exclude-offset", nil, "byte offsets to skip while scanning")
	if err := a.viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	a.root.AddCommand(
		a.scanCmd(),
		a.targetsCmd(),
		a.compareCmd(),
		a.historyCmd(),
		a.pluginsCmd(),
		a.servicesCmd(),
		a.callCmd(),
		a.remoteScanCmd(),
	)
	return a
}

func (a *app) Execute(ctx context.Context) error {
	return a.root.ExecuteContext(ctx)
}

// initConfig reads the optional config file, then env, then flags.
func (a *app) initConfig(cmd *cobra.Command) error {
	if path, err := cmd.Flags().GetString("config"); err == nil && path != "" {
		a.viper.SetConfigFile(path)
	} else {
		a.viper.SetConfigName(cmdName)
		a.viper.AddConfigPath(".")
		a.viper.AddConfigPath("/etc/eufyscope")
	}
	if err := a.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
	}

	a.viper.SetEnvPrefix(envPrefix)
	a.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.viper.AutomaticEnv()

	if err := a.viper.Unmarshal(&a.config); err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}
	return a.config.validate()
}

func (a *app) out(cmd *cobra.Command) outputMode {
	return outputMode{json: a.config.JSON, w: cmd.OutOrStdout()}
}
