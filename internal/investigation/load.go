package investigation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var ErrUnknownFormat = errors.New("unrecognised capture file")

// Dump is a capture file read back from disk: base64 blobs by key.
type Dump struct {
	Path      string
	Timestamp time.Time
	Mode      Mode
	Reason    string
	Blobs     map[string]string
}

type dumpFile struct {
	Metadata *Metadata `json:"metadata"`
	Key      *KeyData  `json:"key_180_data"`
	MultiKey map[string]struct {
		RawData any `json:"raw_data"`
	} `json:"multi_key_data"`
}

// LoadRecord reads an investigation record or an offline multi-key dump.
// Dump entries whose raw data is not text are skipped.
func LoadRecord(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRecord(path, data)
}

// ParseRecord is LoadRecord for data already in memory.
func ParseRecord(path string, data []byte) (*Dump, error) {
	var f dumpFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	d := &Dump{Path: path, Blobs: map[string]string{}}
	if f.Metadata != nil {
		d.Timestamp = f.Metadata.Timestamp
		d.Mode = f.Metadata.Mode
		d.Reason = f.Metadata.Reason
	}
	if f.Key != nil && f.Key.RawBase64 != "" {
		d.Blobs[AccessoryKey] = f.Key.RawBase64
	}
	for name, entry := range f.MultiKey {
		if !strings.HasPrefix(name, "key_") || !strings.HasSuffix(name, "_data") {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, "key_"), "_data")
		raw, ok := entry.RawData.(string)
		if key == "" || !ok || raw == "" {
			continue
		}
		d.Blobs[key] = raw
	}
	if len(d.Blobs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	return d, nil
}
