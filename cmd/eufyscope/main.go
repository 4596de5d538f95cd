package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joshp123/eufyscope/internal/config"
)

const envConfig = "EUFYSCOPE_CONFIG"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "eufyscope: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "eufyscope",
		Short:         "Eufy RoboVac telemetry daemon",
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cmd.SilenceUsage = true
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $"+envConfig+" or "+config.DefaultPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gRPC and HTTP servers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), resolveConfigPath(configPath))
			},
		},
		bootstrapCmd(&configPath),
		dashboardsCmd(&configPath),
	)
	return root
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if value := os.Getenv(envConfig); value != "" {
		return value
	}
	return config.DefaultPath
}
