package eufy

import (
	"context"
	_ "embed"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/joshp123/eufyscope/internal/auth"
	"github.com/joshp123/eufyscope/internal/blob"
	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/logging"
	"github.com/joshp123/eufyscope/internal/rate"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const mqttRetryDelay = 30 * time.Second

// Deps are the shared services a plugin may use. Every field is optional.
type Deps struct {
	Logger  *zap.Logger
	Blob    blob.Store
	History history.Sink
}

// Plugin implements the eufyscope plugin contract.
type Plugin struct {
	cfg           Config
	bootstrap     auth.Bootstrap
	poller        *Poller
	logger        *zap.Logger
	health        core.HealthStatus
	healthMessage string
}

var _ core.Runner = (*Plugin)(nil)

// NewPlugin constructs a Eufy plugin from config.
func NewPlugin(cfg *config.EufyConfig, deps Deps) (Plugin, bool) {
	if cfg == nil {
		return Plugin{}, false
	}
	logger := logging.OrNop(deps.Logger).With(zap.String("plugin", "eufy"))

	runtimeCfg, err := ConfigFromFile(cfg)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error(), logger: logger}, true
	}
	p := Plugin{cfg: runtimeCfg, logger: logger}

	bootstrap, err := auth.LoadBootstrap(runtimeCfg.BootstrapFile)
	if err != nil {
		p.health, p.healthMessage = core.HealthError, err.Error()
		return p, true
	}
	p.bootstrap = bootstrap

	session, err := auth.NewSession(bootstrap, auth.Options{
		Provider:  "eufy",
		LoginURL:  runtimeCfg.LoginURL,
		StatePath: runtimeCfg.StateFile,
		Blob:      deps.Blob,
		Logger:    logger,
	})
	if err != nil {
		p.health, p.healthMessage = core.HealthError, err.Error()
		return p, true
	}

	client, err := NewClient(runtimeCfg, session, GuardedHTTPClient(p.RateLimits()), logger)
	if err != nil {
		p.health, p.healthMessage = core.HealthError, err.Error()
		return p, true
	}

	poller, err := NewPoller(runtimeCfg, client, PollerOptions{Blob: deps.Blob, History: deps.History, Logger: logger})
	if err != nil {
		p.health, p.healthMessage = core.HealthError, err.Error()
		return p, true
	}
	p.poller = poller

	p.health = core.HealthHealthy
	if runtimeCfg.UseMQTT && !bootstrap.MQTT.Complete() {
		p.health, p.healthMessage = core.HealthDegraded, "mqtt enabled but bootstrap has no mqtt credentials"
	}
	return p, true
}

func (p Plugin) ID() string {
	return "eufy"
}

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "eufy",
		DisplayName: "Eufy RoboVac",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p Plugin) AgentsMD() string {
	return agentsMD
}

func (p Plugin) RateLimits() rate.Declaration {
	rpm := p.cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = config.DefaultRequestsPerMinute
	}
	ttl := p.cfg.PollInterval / 2
	if ttl == 0 {
		ttl = config.DefaultPollInterval / 2
	}
	return rate.Provider("eufy").
		MaxRequestsPer(rate.Minute, rpm).
		CacheFor(ttl).
		WaitUpTo(5 * time.Second)
}

func (p Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "eufy-overview", JSON: dashboardJSON}}
}

func (p Plugin) RegisterGRPC(server *grpc.Server) {
	RegisterEufyService(server, p.poller)
}

func (p Plugin) Collectors() []prometheus.Collector {
	if p.poller == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.poller)}
}

func (p Plugin) Health() core.HealthStatus {
	return p.health
}

func (p Plugin) HealthMessage() string {
	return p.healthMessage
}

// Run polls devices until ctx is cancelled. MQTT connects in the
// background and retries until it succeeds.
func (p Plugin) Run(ctx context.Context) error {
	if p.poller == nil {
		<-ctx.Done()
		return nil
	}
	if p.cfg.UseMQTT && p.bootstrap.MQTT.Complete() {
		go p.connectMQTT(ctx)
	}
	p.poller.WatchAccessories(ctx)
	return p.poller.Run(ctx)
}

func (p Plugin) connectMQTT(ctx context.Context) {
	for {
		sub, err := newMQTTSubscriber(p.bootstrap, p.logger)
		if err == nil {
			if err = p.poller.attachMQTT(sub); err == nil {
				return
			}
			sub.close()
		}
		p.logger.Warn("mqtt unavailable, retrying", zap.Error(err), zap.Duration("retry_in", mqttRetryDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(mqttRetryDelay):
		}
	}
}
