package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/config"
	"github.com/joshp123/eufyscope/internal/history"
	"github.com/joshp123/eufyscope/internal/investigation"
)

type historyFlags struct {
	key       string
	deviceID  string
	limit     int
	minLogs   int
	threshold float64
	store     config.HistoryConfig
}

func (a *app) historyCmd() *cobra.Command {
	defaults := analysis.DefaultHistoryOptions()
	f := historyFlags{}
	cmd := &cobra.Command{
		Use:   "history [dir]",
		Short: "Find bytes that change rarely across a capture history",
		Long: "Reads every capture in dir, or the ClickHouse archive when " +
			"--clickhouse-addr is set, and classifies each byte offset by how often it changes.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				payloads [][]byte
				err      error
			)
			switch {
			case f.store.Addr != "":
				payloads, err = a.archivedPayloads(cmd.Context(), f)
			case len(args) == 1:
				payloads, err = a.directoryPayloads(args[0], f.key)
			default:
				return fmt.Errorf("a capture directory or --clickhouse-addr is required")
			}
			if err != nil {
				return err
			}

			opts := analysis.HistoryOptions{InfrequentThreshold: f.threshold, MinLogs: f.minLogs}
			report := analysis.AnalyzeHistory(analysis.ByteSeries(f.key, payloads), opts)
			return a.out(cmd).emit(report, func() [][]string {
				rows := [][]string{{"KEY", "OFFSET", "CHANGES", "FREQUENCY", "LAST", "CLASS"}}
				add := func(class string, list []analysis.SeriesFrequency) {
					for _, s := range list {
						rows = append(rows, []string{
							s.Key,
							strconv.Itoa(s.Position),
							strconv.Itoa(s.ChangeCount),
							strconv.FormatFloat(s.Frequency, 'f', 3, 64),
							strconv.Itoa(s.LastKnown),
							class,
						})
					}
				}
				add("infrequent", report.Infrequent)
				add("frequent", report.Frequent)
				return rows
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.key, "key", investigation.AccessoryKey, "telemetry key to analyse")
	flags.StringVar(&f.deviceID, "device", "", "device id in the archive")
	flags.IntVar(&f.limit, "limit", 0, "newest archived captures to read")
	flags.IntVar(&f.minLogs, "min-logs", defaults.MinLogs, "observations needed before classifying")
	flags.Float64Var(&f.threshold, "threshold", defaults.InfrequentThreshold, "highest change frequency treated as infrequent")
	flags.StringVar(&f.store.Addr, "clickhouse-addr", "", "ClickHouse native address")
	flags.StringVar(&f.store.Database, "clickhouse-database", "eufyscope", "ClickHouse database")
	flags.StringVar(&f.store.Username, "clickhouse-user", "default", "ClickHouse user")
	flags.StringVar(&f.store.PasswordFile, "clickhouse-password-file", "", "file holding the ClickHouse password")
	return cmd
}

type loadedDump struct {
	dump    *investigation.Dump
	payload []byte
}

// directoryPayloads decodes key from every capture file in dir, ordered by
// capture time. Files without the key are skipped.
func (a *app) directoryPayloads(dir, key string) ([][]byte, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	loaded := make([]loadedDump, 0, len(paths))
	for _, path := range paths {
		dump, err := investigation.LoadRecord(path)
		if err != nil {
			if !errors.Is(err, investigation.ErrUnknownFormat) {
				a.logger.Warn("skip capture", zap.String("file", path), zap.Error(err))
			}
			continue
		}
		raw, ok := dump.Blobs[key]
		if !ok {
			continue
		}
		payload, err := analysis.DecodePayload(key, raw)
		if err != nil {
			a.logger.Warn("skip capture", zap.String("file", path), zap.Error(err))
			continue
		}
		loaded = append(loaded, loadedDump{dump: dump, payload: payload})
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("no captures of key %s in %s", key, dir)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		ti, tj := loaded[i].dump.Timestamp, loaded[j].dump.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return loaded[i].dump.Path < loaded[j].dump.Path
	})
	out := make([][]byte, len(loaded))
	for i, l := range loaded {
		out[i] = l.payload
	}
	a.logger.Info("loaded capture history", zap.String("dir", dir), zap.Int("captures", len(out)))
	return out, nil
}

func (a *app) archivedPayloads(ctx context.Context, f historyFlags) ([][]byte, error) {
	if f.deviceID == "" {
		return nil, fmt.Errorf("--device is required with --clickhouse-addr")
	}
	sink, err := history.NewClickHouseSink(ctx, &f.store, a.logger)
	if err != nil {
		return nil, err
	}
	defer sink.Close()
	return readArchive(ctx, sink, f.deviceID, f.key, f.limit)
}

func readArchive(ctx context.Context, r history.Reader, deviceID, key string, limit int) ([][]byte, error) {
	captures, err := r.Captures(ctx, deviceID, key, limit)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(captures))
	for _, c := range captures {
		payload, err := analysis.DecodePayload(key, c.Payload)
		if err != nil {
			continue
		}
		out = append(out, payload)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no archived captures for %s key %s", deviceID, key)
	}
	return out, nil
}
