package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/history"
)

func payload(values map[int]byte) []byte {
	p := make([]byte, 40)
	for off, v := range values {
		p[off] = v
	}
	return p
}

func writeDump(t *testing.T, dir, name string, ts time.Time, blobs map[string][]byte) string {
	t.Helper()
	multi := map[string]any{}
	for key, p := range blobs {
		multi[fmt.Sprintf("key_%s_data", key)] = map[string]any{
			"raw_data": base64.StdEncoding.EncodeToString(p),
		}
	}
	data, err := json.Marshal(map[string]any{
		"metadata":       map[string]any{"timestamp": ts.Format(time.RFC3339)},
		"multi_key_data": multi,
	})
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	var out bytes.Buffer
	a.root.SetOut(&out)
	a.root.SetErr(&out)
	a.root.SetIn(strings.NewReader(stdin))
	a.root.SetArgs(args)
	err := a.root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanMultiKeyDump(t *testing.T) {
	dir := t.TempDir()
	path := writeDump(t, dir, "dump.json", time.Now(), map[string][]byte{
		"180": payload(map[int]byte{10: 50}),
		"167": payload(map[int]byte{3: 90}),
	})

	out, err := run(t, "", "scan", "--json", "--hours-low", "0", "--hours-high", "0", path)
	require.NoError(t, err)

	var scans []analysis.KeyScan
	require.NoError(t, json.Unmarshal([]byte(out), &scans))
	require.Len(t, scans, 2)
	assert.Equal(t, "167", scans[0].Key)
	assert.Equal(t, "180", scans[1].Key)
	require.Len(t, scans[1].Candidates, 1)
	assert.Equal(t, 10, scans[1].Candidates[0].Offset)
	assert.Equal(t, 50, scans[1].Candidates[0].InterpretedValue)
}

func TestScanBareBase64FromStdin(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(payload(map[int]byte{5: 77}))

	out, err := run(t, raw+"\n", "scan", "--hours-low", "0", "--hours-high", "0", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "raw_byte")
	assert.Contains(t, out, "0x4d")
}

func TestScanExcludedOffset(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(payload(map[int]byte{5: 77, 6: 20}))

	out, err := run(t, raw, "scan", "--json", "--hours-low", "0", "--hours-high", "0", "--exclude-offset", "5", "-")
	require.NoError(t, err)
	var scans []analysis.KeyScan
	require.NoError(t, json.Unmarshal([]byte(out), &scans))
	require.Len(t, scans, 1)
	require.Len(t, scans[0].Candidates, 1)
	assert.Equal(t, 6, scans[0].Candidates[0].Offset)
}

func TestScanRejectsInvalidRange(t *testing.T) {
	_, err := run(t, "AAAA", "scan", "--percent-low", "90", "--percent-high", "10", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "percent range")
}

func TestCompareWithReferenceList(t *testing.T) {
	dir := t.TempDir()
	before := writeDump(t, dir, "before.json", time.Now(), map[string][]byte{"180": payload(map[int]byte{10: 50})})
	after := writeDump(t, dir, "after.json", time.Now(), map[string][]byte{"180": payload(map[int]byte{10: 48})})
	ref := filepath.Join(dir, "ref.json")
	require.NoError(t, os.WriteFile(ref, []byte(`[{"accessory_name":"rolling_brush","expected_percentage":50}]`), 0o600))

	out, err := run(t, "", "compare", "--json", "--hours-low", "0", "--hours-high", "0", "--reference", ref, before, after)
	require.NoError(t, err)

	var res compareOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.BaselineCount)
	require.Len(t, res.Results, 1)
	m := res.Results[0]
	assert.Equal(t, "rolling_brush", m.AccessoryName)
	assert.Equal(t, 10, m.Offset)
	assert.Equal(t, analysis.ExactMatch, m.Confidence)
	require.NotNil(t, m.Delta)
	assert.Equal(t, -2, *m.Delta)
}

func TestCompareWithSensorsFile(t *testing.T) {
	dir := t.TempDir()
	before := writeDump(t, dir, "before.json", time.Now(), map[string][]byte{"180": payload(map[int]byte{4: 70})})
	after := writeDump(t, dir, "after.json", time.Now(), map[string][]byte{"180": payload(map[int]byte{4: 70})})
	ref := filepath.Join(dir, "sensors.json")
	require.NoError(t, os.WriteFile(ref, []byte(`{"accessory_sensors":{"side_brush":{"name":"Side Brush","current_life_remaining":71}}}`), 0o600))

	out, err := run(t, "", "compare", "--hours-low", "0", "--hours-high", "0", "--reference", ref, before, after)
	require.NoError(t, err)
	assert.Contains(t, out, "side_brush")
	assert.Contains(t, out, "NO_MATCH")
}

func TestCompareRequiresReference(t *testing.T) {
	_, err := run(t, "", "compare", "a.json", "b.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--reference")
}

func TestTargetsSearchesEveryKey(t *testing.T) {
	dir := t.TempDir()
	dump := writeDump(t, dir, "dump.json", time.Now(), map[string][]byte{
		"180": payload(map[int]byte{2: 0x01, 3: 0x2c}),
		"167": payload(map[int]byte{8: 85}),
	})
	targets := filepath.Join(dir, "targets.json")
	require.NoError(t, os.WriteFile(targets, []byte(`{"sensors":{"filter":{"hours":300,"percentage":85}}}`), 0o600))

	out, err := run(t, "", "targets", "--json", "--targets", targets, dump)
	require.NoError(t, err)

	var results []targetOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "filter", results[0].Sensor)

	var hourKeys []string
	for _, m := range results[0].HourCandidates {
		if m.Encoding == analysis.EncodingUint16BE {
			hourKeys = append(hourKeys, m.Key)
		}
	}
	assert.Contains(t, hourKeys, "180")

	var pctKeys []string
	for _, m := range results[0].PercentageCandidates {
		pctKeys = append(pctKeys, m.Key)
	}
	assert.Contains(t, pctKeys, "167")
}

func TestHistoryDirectory(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	values := []byte{80, 80, 80, 80, 79, 79}
	for i, v := range values {
		writeDump(t, dir, fmt.Sprintf("cap_%02d.json", len(values)-i), base.Add(time.Duration(i)*time.Minute),
			map[string][]byte{"180": payload(map[int]byte{10: v, 20: byte(i)})})
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{"hello":"world"}`), 0o600))

	out, err := run(t, "", "history", "--json", dir)
	require.NoError(t, err)

	var report analysis.HistoryReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, len(values), report.TotalLogs)
	require.Len(t, report.Infrequent, 1)
	assert.Equal(t, 10, report.Infrequent[0].Position)
	assert.Equal(t, 79, report.Infrequent[0].LastKnown)
	require.Len(t, report.Frequent, 1)
	assert.Equal(t, 20, report.Frequent[0].Position)
}

func TestHistoryNeedsSource(t *testing.T) {
	_, err := run(t, "", "history")
	require.Error(t, err)
}

func TestReadArchiveSkipsUndecodable(t *testing.T) {
	sink := &history.MemorySink{}
	ctx := context.Background()
	ok := base64.StdEncoding.EncodeToString(payload(nil))
	require.NoError(t, sink.Record(ctx, history.Capture{DeviceID: "dev", Key: "180", Payload: ok}))
	require.NoError(t, sink.Record(ctx, history.Capture{DeviceID: "dev", Key: "180", Payload: "!!"}))
	require.NoError(t, sink.Record(ctx, history.Capture{DeviceID: "other", Key: "180", Payload: ok}))

	got, err := readArchive(ctx, sink, "dev", "180", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = readArchive(ctx, sink, "missing", "180", 0)
	assert.Error(t, err)
}

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{"Eufy RoboVac": "eufy"}

	id, err := resolveNamedID("plugin", "eufy-robovac", options)
	require.NoError(t, err)
	assert.Equal(t, "eufy", id)

	id, err = resolveNamedID("plugin", "EUFY", options)
	require.NoError(t, err)
	assert.Equal(t, "eufy", id)

	_, err = resolveNamedID("plugin", "tado", options)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Eufy RoboVac")
}

func TestResolveAddr(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("schema_version: 1\ncore:\n  grpc_addr: 0.0.0.0:9100\n"), 0o600))

	assert.Equal(t, "vac:1", resolveAddr("vac:1", []string{cfg}))
	assert.Equal(t, "127.0.0.1:9100", resolveAddr("", []string{filepath.Join(dir, "missing.yaml"), cfg}))
	assert.Equal(t, defaultAddr, resolveAddr("", nil))
}
