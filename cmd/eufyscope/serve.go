package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/auth"
	"github.com/joshp123/eufyscope/internal/blob"
	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/logging"
	"github.com/joshp123/eufyscope/internal/plugins"
	"github.com/joshp123/eufyscope/internal/rate"
	"github.com/joshp123/eufyscope/internal/rpc"
	"github.com/joshp123/eufyscope/internal/server"
	"github.com/joshp123/eufyscope/plugins/eufy"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Core.LogLevel, cfg.Core.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("loaded config", zap.String("path", configPath))

	deps, closeDeps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	active, err := loadPlugins(cfg, deps)
	if err != nil {
		return err
	}
	for _, p := range active {
		logger.Info("plugin loaded",
			zap.String("plugin", p.ID()),
			zap.String("health", string(p.Health())),
			zap.String("message", p.HealthMessage()),
		)
	}

	written, err := core.WriteDashboards(cfg.Core.DashboardDir, active)
	if err != nil {
		logger.Warn("write dashboards", zap.Error(err))
	} else if len(written) > 0 {
		logger.Info("dashboards written", zap.String("dir", cfg.Core.DashboardDir), zap.Int("files", len(written)))
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger.Named("grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	rpc.RegisterPlugins(grpcServer.Server, active, analysisServer(cfg))

	extra := []prometheus.Collector{grpcServer.Metrics, buildInfo()}
	extra = append(extra, rate.MetricsCollectors()...)
	extra = append(extra, auth.MetricsCollectors()...)
	registry := core.MetricsRegistry(active, extra...)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(active, registry))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range active {
		r, ok := p.(core.Runner)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(p core.Plugin, r core.Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("plugin stopped", zap.String("plugin", p.ID()), zap.Error(err))
			}
		}(p, r)
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Core.HTTPAddr))
		errs <- httpServer.ListenAndServe()
	}()
	go func() { errs <- grpcServer.Serve() }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errs:
		logger.Error("server stopped", zap.Error(serveErr))
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("grpc shutdown", zap.Error(err))
	}
	wg.Wait()
	return serveErr
}

// buildDeps connects the optional blob and history stores.
func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (plugins.Deps, func(), error) {
	deps := plugins.Deps{Logger: logger, History: history.Nop()}
	if cfg.Blob != nil {
		store, err := blob.NewS3Store(cfg.Blob)
		if err != nil {
			return plugins.Deps{}, nil, fmt.Errorf("blob store: %w", err)
		}
		deps.Blob = store
		logger.Info("blob store configured", zap.String("endpoint", cfg.Blob.Endpoint), zap.String("bucket", cfg.Blob.Bucket))
	}
	if cfg.History != nil {
		sink, err := history.NewClickHouseSink(ctx, cfg.History, logger.Named("history"))
		if err != nil {
			return plugins.Deps{}, nil, err
		}
		deps.History = sink
	}
	closeDeps := func() {
		if err := deps.History.Close(); err != nil {
			logger.Warn("close history sink", zap.Error(err))
		}
	}
	return deps, closeDeps, nil
}

func loadPlugins(cfg *config.Config, deps plugins.Deps) ([]core.Plugin, error) {
	compiled := plugins.Compiled(cfg, deps)
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return nil, err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return nil, err
	}
	return active, nil
}

// analysisServer uses the eufy analysis settings when configured.
func analysisServer(cfg *config.Config) *rpc.AnalysisServer {
	scanner, percent, thresholds := analysis.NewScanner(), analysis.DefaultPercentRange, analysis.DefaultThresholds()
	if cfg.Eufy != nil {
		if ec, err := eufy.ConfigFromFile(cfg.Eufy); err == nil {
			scanner, percent, thresholds = ec.Scanner(), ec.PercentRange, ec.Thresholds
		}
	}
	return rpc.NewAnalysisServer(scanner, percent, thresholds)
}

func buildInfo() prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "eufyscope_build_info",
		Help: "Build information",
	}, func() float64 { return 1 })
}
