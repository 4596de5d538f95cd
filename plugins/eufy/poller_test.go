package eufy

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/investigation"
)

type fakeFetcher struct {
	mu  sync.Mutex
	dps map[string]map[string]any
	err error
}

func (f *fakeFetcher) DeviceDPS(_ context.Context, deviceID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	dps, ok := f.dps[deviceID]
	if !ok {
		return nil, ErrNoDPS
	}
	out := make(map[string]any, len(dps))
	for k, v := range dps {
		out[k] = v
	}
	return out, nil
}

func (f *fakeFetcher) set(deviceID string, dps map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dps == nil {
		f.dps = map[string]map[string]any{}
	}
	f.dps[deviceID] = dps
}

// wearPayload is 40 bytes outside the percentage range with one reading at
// offset 10.
func wearPayload(v byte) string {
	p := make([]byte, 40)
	for i := range p {
		p[i] = 150
	}
	p[10] = v
	return base64.StdEncoding.EncodeToString(p)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Devices:            []Device{{ID: "dev-1", Name: "Hall", Model: "T2351", ModelName: "X10 Pro Omni"}},
		PollInterval:       time.Second,
		AccessoryDir:       filepath.Join(dir, "accessories"),
		Investigate:        true,
		InvestigationDir:   filepath.Join(dir, "investigation"),
		MinLogInterval:     time.Second,
		MaxMonitoringFiles: 10,
		PeriodicEvery:      20,
		PercentRange:       analysis.DefaultPercentRange,
		HoursRange:         analysis.DefaultHoursRange,
		Thresholds:         analysis.DefaultThresholds(),
	}
}

func newTestPoller(t *testing.T, cfg Config, fetcher Fetcher) (*Poller, *history.MemorySink) {
	t.Helper()
	sink := &history.MemorySink{}
	p, err := NewPoller(cfg, fetcher, PollerOptions{History: sink})
	require.NoError(t, err)
	return p, sink
}

func enableRollingBrush(t *testing.T, p *Poller, life int) {
	t.Helper()
	mgr := p.devices["dev-1"].accessories
	f, err := mgr.Current()
	require.NoError(t, err)
	s := f.Sensors["rolling_brush"]
	pos := 10
	s.BytePosition = &pos
	s.Enabled = true
	s.CurrentLifeRemaining = life
	f.Sensors["rolling_brush"] = s
	require.NoError(t, mgr.Save(f))
}

func TestPollOnceBuildsState(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("dev-1", map[string]any{"153": float64(3), "163": float64(88), "180": wearPayload(80)})
	p, sink := newTestPoller(t, testConfig(t), fetcher)
	enableRollingBrush(t, p, 80)

	states := p.PollOnce(context.Background())
	require.Len(t, states, 1)
	st := states[0]
	assert.True(t, st.Online())
	assert.Equal(t, "rest", st.Source)
	assert.Equal(t, "charging", st.Status.WorkStatus)
	require.NotNil(t, st.Status.BatteryPercent)
	assert.Equal(t, 88, *st.Status.BatteryPercent)
	assert.Equal(t, 1, st.Candidates)

	require.Len(t, st.Accessories, 1)
	assert.Equal(t, "rolling_brush", st.Accessories[0].ID)
	require.NotNil(t, st.Accessories[0].Percent)
	assert.Equal(t, 80, *st.Accessories[0].Percent)
	assert.False(t, st.Accessories[0].Low)

	require.NotNil(t, st.Investigation)
	assert.True(t, st.Investigation.BaselineCaptured)
	assert.Equal(t, 1, st.Investigation.MeaningfulLogs)
	captures, err := sink.Captures(context.Background(), "dev-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, captures, 1)

	cached, err := p.State("dev-1")
	require.NoError(t, err)
	assert.Equal(t, st.UpdatedAt, cached.UpdatedAt)
}

func TestPollMergesMQTT(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("dev-1", map[string]any{"163": float64(70)})
	cfg := testConfig(t)
	cfg.Investigate = false
	p, _ := newTestPoller(t, cfg, fetcher)

	p.mergeMQTT("dev-1", map[string]any{"163": float64(10), "167": float64(40)})
	p.mergeMQTT("unknown", map[string]any{"163": float64(1)})

	st := p.PollOnce(context.Background())[0]
	assert.Equal(t, "rest+mqtt", st.Source)
	assert.Equal(t, 70, *st.Status.BatteryPercent)
	assert.Equal(t, 40, *st.Status.WaterTankPercent)
	assert.Nil(t, st.Investigation)

	fetcher.mu.Lock()
	fetcher.err = errors.New("offline")
	fetcher.mu.Unlock()
	st = p.PollOnce(context.Background())[0]
	assert.Equal(t, "mqtt", st.Source)
	assert.Equal(t, 10, *st.Status.BatteryPercent)
}

func TestPollFailureKeepsLastState(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("dev-1", map[string]any{"163": float64(70)})
	p, _ := newTestPoller(t, testConfig(t), fetcher)

	first := p.PollOnce(context.Background())[0]
	require.True(t, first.Online())

	fetcher.mu.Lock()
	fetcher.err = errors.New("offline")
	fetcher.mu.Unlock()

	st := p.PollOnce(context.Background())[0]
	assert.False(t, st.Online())
	assert.Equal(t, "offline", st.Error)
	assert.Equal(t, first.DPS, st.DPS)
}

func TestInvestigationRoundTrip(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("dev-1", map[string]any{"153": float64(0), "180": wearPayload(80)})
	p, _ := newTestPoller(t, testConfig(t), fetcher)
	enableRollingBrush(t, p, 80)
	ctx := context.Background()

	_, err := p.Compare(ctx, "dev-1")
	require.ErrorIs(t, err, investigation.ErrNoBaseline)

	_, err = p.CaptureBaseline(ctx, "dev-1")
	require.ErrorIs(t, err, ErrNoData)

	p.PollOnce(ctx)
	res, err := p.CaptureBaseline(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, res.Logged)

	fetcher.set("dev-1", map[string]any{"153": float64(0), "180": wearPayload(78)})
	p.PollOnce(ctx)
	res, err = p.CapturePostCleaning(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, investigation.ReasonPostCleaning, res.Reason)

	cmp, err := p.Compare(ctx, "dev-1")
	require.NoError(t, err)
	assert.FileExists(t, cmp.Path)

	var found bool
	for _, r := range cmp.Results {
		if r.AccessoryName == "rolling_brush" && r.Offset == 10 {
			found = true
			assert.Equal(t, analysis.ExactMatch, r.Confidence)
			require.NotNil(t, r.Delta)
			assert.Equal(t, -2, *r.Delta)
		}
	}
	assert.True(t, found, "rolling brush offset not ranked")
	assert.Equal(t, cmp.Results, p.Matches()["dev-1"])

	summary, path, err := p.Summary(ctx, "dev-1")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.NotNil(t, summary.LastComparison)
}

func TestInvestigationErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Investigate = false
	cfg.AccessoryDir = ""
	p, _ := newTestPoller(t, cfg, &fakeFetcher{})

	_, err := p.CaptureBaseline(context.Background(), "dev-1")
	assert.ErrorIs(t, err, ErrInvestigationDisabled)
	_, err = p.Compare(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, _, err = p.AccessoryConfig("dev-1")
	assert.ErrorIs(t, err, ErrNoAccessoryConfig)
}

func TestAccessoryAutoUpdate(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("dev-1", map[string]any{"180": wearPayload(9)})
	cfg := testConfig(t)
	cfg.Investigate = false
	p, _ := newTestPoller(t, cfg, fetcher)

	mgr := p.devices["dev-1"].accessories
	f, err := mgr.Current()
	require.NoError(t, err)
	s := f.Sensors["rolling_brush"]
	pos := 10
	s.BytePosition, s.Enabled, s.AutoUpdate = &pos, true, true
	f.Sensors["rolling_brush"] = s
	require.NoError(t, mgr.Save(f))

	st := p.PollOnce(context.Background())[0]
	require.Len(t, st.Accessories, 1)
	assert.True(t, st.Accessories[0].Low)

	f, err = mgr.Current()
	require.NoError(t, err)
	assert.Equal(t, 9, f.Sensors["rolling_brush"].CurrentLifeRemaining)

	_, err = os.Stat(mgr.ConfigPath())
	require.NoError(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("dev-1", map[string]any{"163": float64(50)})
	cfg := testConfig(t)
	cfg.Investigate = false
	cfg.AccessoryDir = ""
	p, _ := newTestPoller(t, cfg, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := p.State("dev-1")
		return st.Online()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
