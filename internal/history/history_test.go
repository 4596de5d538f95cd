package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []any
}

type fakeConn struct {
	execs   []execCall
	execErr error
	closed  bool
}

func (f *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	f.execs = append(f.execs, execCall{query: query, args: args})
	return f.execErr
}

func (f *fakeConn) Query(context.Context, string, ...any) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestClickHouseRecord(t *testing.T) {
	fc := &fakeConn{}
	sink := &ClickHouseSink{conn: fc}
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sink.InitSchema(context.Background()))
	require.NoError(t, sink.Record(context.Background(), Capture{
		Timestamp: ts, DeviceID: "dev1", Key: "180", Hash: "abc", Length: 150, Payload: "AAEC", Reason: "baseline_capture", Logged: true,
	}))

	require.Len(t, fc.execs, 2)
	assert.Contains(t, fc.execs[0].query, "CREATE TABLE IF NOT EXISTS eufy_captures")
	assert.True(t, strings.Contains(fc.execs[1].query, "INSERT INTO eufy_captures"))
	assert.Equal(t, []any{ts, "dev1", "180", "abc", uint32(150), "AAEC", "baseline_capture", true}, fc.execs[1].args)

	require.NoError(t, sink.Close())
	assert.True(t, fc.closed)
}

func TestClickHouseErrors(t *testing.T) {
	fc := &fakeConn{execErr: errors.New("boom")}
	sink := &ClickHouseSink{conn: fc}

	assert.Error(t, sink.InitSchema(context.Background()))
	assert.Error(t, sink.Record(context.Background(), Capture{}))
	_, err := sink.Captures(context.Background(), "dev1", "180", 10)
	assert.Error(t, err)

	_, err = NewClickHouseSink(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestMemorySink(t *testing.T) {
	m := &MemorySink{}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, Capture{Timestamp: base.Add(2 * time.Minute), DeviceID: "dev1", Key: "180", Payload: "c"}))
	require.NoError(t, m.Record(ctx, Capture{Timestamp: base, DeviceID: "dev1", Key: "180", Payload: "a"}))
	require.NoError(t, m.Record(ctx, Capture{Timestamp: base.Add(time.Minute), DeviceID: "dev1", Key: "180", Payload: "b"}))
	require.NoError(t, m.Record(ctx, Capture{Timestamp: base, DeviceID: "dev2", Key: "180", Payload: "x"}))

	got, err := m.Captures(ctx, "dev1", "180", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Payload)
	assert.Equal(t, "c", got[1].Payload)

	assert.NoError(t, Nop().Record(ctx, Capture{}))
	assert.NoError(t, Nop().Close())
}
