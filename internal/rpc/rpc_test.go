package rpc

import (
	"context"
	"encoding/base64"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/rate"
)

type stubPlugin struct{}

func (stubPlugin) ID() string { return "demo" }
func (stubPlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: "demo", DisplayName: "Demo", Version: "0.1.0"}
}
func (stubPlugin) AgentsMD() string                   { return "agents" }
func (stubPlugin) RateLimits() rate.Declaration       { return rate.Provider("demo") }
func (stubPlugin) Dashboards() []core.Dashboard       { return nil }
func (stubPlugin) RegisterGRPC(*grpc.Server)          {}
func (stubPlugin) Collectors() []prometheus.Collector { return nil }
func (stubPlugin) Health() core.HealthStatus          { return core.HealthHealthy }
func (stubPlugin) HealthMessage() string              { return "" }

func dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterPlugins(srv, []core.Plugin{stubPlugin{}}, NewAnalysisServer(analysis.NewScanner(), analysis.Range{}, analysis.DefaultThresholds()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRegistryOverGRPC(t *testing.T) {
	conn := dial(t)
	ctx := context.Background()

	var list ListPluginsResponse
	require.NoError(t, Invoke(ctx, conn, ListPluginsMethod, struct{}{}, &list))
	require.Len(t, list.Plugins, 1)
	assert.Equal(t, "demo", list.Plugins[0].PluginID)
	assert.Equal(t, "HEALTHY", list.Plugins[0].Status)

	var desc DescribePluginResponse
	require.NoError(t, Invoke(ctx, conn, DescribePluginMethod, DescribePluginRequest{PluginID: "demo"}, &desc))
	require.NotNil(t, desc.Plugin)
	assert.Equal(t, "agents", desc.Plugin.AgentsMD)

	desc = DescribePluginResponse{}
	require.NoError(t, Invoke(ctx, conn, DescribePluginMethod, DescribePluginRequest{PluginID: "nope"}, &desc))
	assert.Nil(t, desc.Plugin)

	err := Invoke(ctx, conn, DescribePluginMethod, DescribePluginRequest{}, &desc)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestScanOverGRPC(t *testing.T) {
	conn := dial(t)
	ctx := context.Background()
	payload := base64.StdEncoding.EncodeToString([]byte{200, 42, 200})

	var resp ScanResponse
	require.NoError(t, Invoke(ctx, conn, ScanMethod, ScanRequest{Payload: payload}, &resp))
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, analysis.Candidate{Offset: 1, RawValue: 42, InterpretedValue: 42, Transform: analysis.RawByte}, resp.Candidates[0])

	resp = ScanResponse{}
	require.NoError(t, Invoke(ctx, conn, ScanMethod, ScanRequest{Blobs: map[string]string{"180": payload, "181": "%%"}}, &resp))
	require.Len(t, resp.Scans, 2)
	assert.Equal(t, "180", resp.Scans[0].Key)
	assert.NotEmpty(t, resp.Scans[1].Error)

	err := Invoke(ctx, conn, ScanMethod, ScanRequest{Payload: "%%"}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = Invoke(ctx, conn, ScanMethod, ScanRequest{}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = Invoke(ctx, conn, ScanMethod, ScanRequest{Payload: payload, Range: &analysis.Range{Low: 9, High: 3}}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCompareOverGRPC(t *testing.T) {
	conn := dial(t)
	ctx := context.Background()
	before := base64.StdEncoding.EncodeToString([]byte{200, 50, 200})
	after := base64.StdEncoding.EncodeToString([]byte{200, 49, 200})

	var resp CompareResponse
	require.NoError(t, Invoke(ctx, conn, CompareMethod, CompareRequest{
		Before:    before,
		After:     after,
		Reference: []analysis.ReferenceEntry{{AccessoryName: "side_brush", ExpectedPercentage: 50}},
	}, &resp))
	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, 1, r.Offset)
	assert.Equal(t, analysis.ExactMatch, r.Confidence)
	require.NotNil(t, r.Delta)
	assert.Equal(t, -1, *r.Delta)

	worn := base64.StdEncoding.EncodeToString([]byte{200, 0, 200})
	require.NoError(t, Invoke(ctx, conn, CompareMethod, CompareRequest{
		Before:    before,
		After:     worn,
		Reference: []analysis.ReferenceEntry{{AccessoryName: "side_brush", ExpectedPercentage: 50}},
	}, &resp))
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Delta)
	assert.Equal(t, -50, *resp.Results[0].Delta)
	assert.Equal(t, analysis.ExactMatch, resp.Results[0].Confidence)

	err := Invoke(ctx, conn, CompareMethod, CompareRequest{Before: before, After: after, Thresholds: &analysis.Thresholds{Exact: 3, Close: 1}}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
