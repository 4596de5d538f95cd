package accessory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the device file whenever it is written, created or renamed.
// A receive on changes means the cache holds the new contents.
func (m *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errs <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", m.dir, err)
	}

	target := filepath.Clean(m.ConfigPath())
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if err := m.reload(); err != nil {
					m.logger.Warn("reload accessory config", zap.Error(err))
					continue
				}
				m.logger.Debug("accessory config reloaded")
				select {
				case changesCh <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed")
					return
				}
				m.logger.Warn("accessory watcher error", zap.Error(err))
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// reload refreshes the cache from disk without the repair steps of Load, so
// a half-written file is skipped rather than replaced.
func (m *Manager) reload() error {
	data, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		return err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode accessory config: %w", err)
	}
	if f.Sensors == nil {
		f.Sensors = map[string]Sensor{}
	}
	m.mu.Lock()
	m.cache = &f
	m.mu.Unlock()
	return nil
}
