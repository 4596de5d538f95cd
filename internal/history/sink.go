package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Capture is one processed accessory payload.
type Capture struct {
	Timestamp time.Time
	DeviceID  string
	Key       string
	Hash      string
	Length    int
	Payload   string
	Reason    string
	Logged    bool
}

// Sink archives captures.
type Sink interface {
	Record(ctx context.Context, c Capture) error
	Close() error
}

// Reader returns archived captures, oldest first.
type Reader interface {
	Captures(ctx context.Context, deviceID, key string, limit int) ([]Capture, error)
}

type nopSink struct{}

func (nopSink) Record(context.Context, Capture) error { return nil }
func (nopSink) Close() error                          { return nil }

// Nop discards every capture.
func Nop() Sink { return nopSink{} }

// MemorySink keeps captures in process.
type MemorySink struct {
	mu       sync.Mutex
	captures []Capture
}

func (m *MemorySink) Record(_ context.Context, c Capture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, c)
	return nil
}

func (m *MemorySink) Close() error { return nil }

func (m *MemorySink) Captures(_ context.Context, deviceID, key string, limit int) ([]Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Capture
	for _, c := range m.captures {
		if c.DeviceID == deviceID && (key == "" || c.Key == key) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
