package investigation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
)

// CompareSession scans the baseline and the latest post-cleaning capture
// and ranks their offsets against reference. The result is written to a
// comparison file and every exact match is sent to the notifier.
//
// Captures from an earlier session in the same directory are used when
// this session has not recorded its own.
func (l *Logger) CompareSession(ctx context.Context, reference []analysis.ReferenceEntry) (*Comparison, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before, err := l.resolve(l.baseline, "baseline_", ErrNoBaseline)
	if err != nil {
		return nil, err
	}
	after, err := l.resolve(l.postCleaning, "post_cleaning_", ErrNoPostCleaning)
	if err != nil {
		return nil, err
	}

	beforeCandidates := l.opts.Scanner.Scan(before.payload, l.opts.PercentRange)
	afterCandidates := l.opts.Scanner.Scan(after.payload, l.opts.PercentRange)
	results := l.comparator.Compare(beforeCandidates, l.opts.Scanner.Counterparts(after.payload), reference)

	cmp := &Comparison{
		DeviceID:          l.opts.DeviceID,
		SessionID:         l.sessionID,
		Timestamp:         l.now(),
		BaselineFile:      filepath.Base(before.path),
		PostCleaningFile:  filepath.Base(after.path),
		Reference:         reference,
		BaselineCount:     len(beforeCandidates),
		PostCleaningCount: len(afterCandidates),
		Results:           results,
	}
	if cmp.Reference == nil {
		cmp.Reference = []analysis.ReferenceEntry{}
	}
	for _, r := range results {
		if r.Confidence == analysis.ExactMatch {
			cmp.ExactMatches++
		}
	}

	name := fmt.Sprintf("%scomparison_%s.json", filePrefix, timestamp(cmp.Timestamp))
	path, err := l.writeJSON(ctx, name, cmp)
	if err != nil {
		return nil, err
	}
	cmp.Path = path
	l.lastComparison = cmp

	l.logger.Info("investigation comparison written",
		zap.String("file", name),
		zap.Int("results", len(results)),
		zap.Int("exact_matches", cmp.ExactMatches),
	)

	if l.opts.Notifier != nil {
		for _, r := range results {
			if r.Confidence == analysis.ExactMatch {
				l.opts.Notifier.NotifyMatch(ctx, l.opts.DeviceID, r)
			}
		}
	}
	return cmp, nil
}

// LastComparison returns the most recent comparison of this session.
func (l *Logger) LastComparison() *Comparison {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastComparison
}

func (l *Logger) resolve(c *capture, prefix string, missing error) (*capture, error) {
	if c != nil {
		return c, nil
	}
	path, ok := l.latestFile(prefix)
	if !ok {
		return nil, missing
	}
	dump, err := LoadRecord(path)
	if err != nil {
		return nil, err
	}
	raw, ok := dump.Blobs[AccessoryKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), missing)
	}
	payload, err := analysis.DecodePayload(AccessoryKey, raw)
	if err != nil {
		return nil, err
	}
	return &capture{path: path, payload: payload}, nil
}

// latestFile returns the newest record with the given prefix. Timestamps in
// the name sort lexically.
func (l *Logger) latestFile(prefix string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(l.dir, filePrefix+prefix+"*.json"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	for i := len(matches) - 1; i >= 0; i-- {
		if info, err := os.Stat(matches[i]); err == nil && !info.IsDir() {
			return matches[i], true
		}
	}
	return "", false
}
