package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joshp123/eufyscope/internal/accessory"
	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/investigation"
)

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// loadBlobs accepts an investigation record, a multi-key dump or a bare
// base64 payload. Bare payloads are filed under key.
func loadBlobs(stdin io.Reader, path, key string) (map[string]string, error) {
	data, err := readInput(stdin, path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("%s: empty input", path)
	}
	if strings.HasPrefix(trimmed, "{") {
		dump, err := investigation.ParseRecord(path, data)
		if err != nil {
			return nil, err
		}
		return dump.Blobs, nil
	}
	if _, err := analysis.DecodePayload(key, trimmed); err != nil {
		return nil, err
	}
	return map[string]string{key: trimmed}, nil
}

// loadPayload returns the decoded payload of key from path.
func loadPayload(stdin io.Reader, path, key string) ([]byte, error) {
	blobs, err := loadBlobs(stdin, path, key)
	if err != nil {
		return nil, err
	}
	raw, ok := blobs[key]
	if !ok {
		return nil, fmt.Errorf("%s: no data for key %s", path, key)
	}
	return analysis.DecodePayload(key, raw)
}

// loadReference reads a sensors file or a plain list of reference entries.
func loadReference(path string) ([]analysis.ReferenceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var entries []analysis.ReferenceEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return entries, nil
	}
	var file accessory.File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(file.Sensors) == 0 {
		return nil, fmt.Errorf("%s: no accessory_sensors", path)
	}
	return file.Reference(), nil
}

var errNoTargets = errors.New("targets file has no sensors")

type targetsFile struct {
	Sensors map[string]analysis.Target `json:"sensors"`
}

func loadTargets(path string) (map[string]analysis.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f targetsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(f.Sensors) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errNoTargets)
	}
	return f.Sensors, nil
}
