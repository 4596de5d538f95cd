package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/rate"
)

type httpPlugin struct{}

func (httpPlugin) ID() string { return "demo" }
func (httpPlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: "demo", DisplayName: "Demo", Version: "0.1.0"}
}
func (httpPlugin) AgentsMD() string             { return "" }
func (httpPlugin) RateLimits() rate.Declaration { return rate.Provider("demo") }
func (httpPlugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "demo", JSON: []byte(`{"title":"demo"}`)}}
}
func (httpPlugin) RegisterGRPC(*grpc.Server)          {}
func (httpPlugin) Collectors() []prometheus.Collector { return nil }
func (httpPlugin) Health() core.HealthStatus          { return core.HealthHealthy }
func (httpPlugin) HealthMessage() string              { return "" }
func (httpPlugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/demo/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("demo"))
	})
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMux(t *testing.T) {
	plugins := []core.Plugin{httpPlugin{}}
	mux := NewMux(plugins, core.MetricsRegistry(plugins))

	code, body := get(t, mux, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"HEALTHY","plugins":{"demo":{"status":"HEALTHY"}}}`, body)

	code, body = get(t, mux, "/dashboards/")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["/dashboards/demo/demo.json"]`, body)

	code, body = get(t, mux, "/dashboards/demo/demo.json")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"title":"demo"}`, body)

	code, _ = get(t, mux, "/dashboards/demo/missing.json")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, mux, "/demo/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "demo", body)

	code, body = get(t, mux, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
}

type brokenPlugin struct{ httpPlugin }

func (brokenPlugin) ID() string                { return "broken" }
func (brokenPlugin) Health() core.HealthStatus { return core.HealthError }
func (brokenPlugin) HealthMessage() string     { return "bootstrap missing" }

func TestHealthReportsWorstPlugin(t *testing.T) {
	code, body := get(t, HealthHandler([]core.Plugin{httpPlugin{}, brokenPlugin{}}), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"status":"ERROR"`)
	assert.Contains(t, body, "bootstrap missing")
}

func TestGRPCServerHealth(t *testing.T) {
	srv, err := NewGRPCServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()

	conn, err := grpc.NewClient(srv.Listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, srv.Shutdown(ctx))
}
