package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshp123/eufyscope/internal/analysis"
	"github.com/joshp123/eufyscope/internal/investigation"
)

func (a *app) scanCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "scan <file|->",
		Short: "List candidate wear offsets in a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := loadBlobs(cmd.InOrStdin(), args[0], key)
			if err != nil {
				return err
			}
			scans := a.config.scanner().ScanCapture(blobs, a.config.percentRange())
			a.logger.Debug("scanned capture", zap.String("file", args[0]), zap.Int("keys", len(scans)))
			return a.out(cmd).emit(scans, func() [][]string {
				return scanRows(scans)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", investigation.AccessoryKey, "key for bare base64 input")
	return cmd
}

type compareOutput struct {
	BaselineCount     int                    `json:"baseline_candidates"`
	PostCleaningCount int                    `json:"post_cleaning_candidates"`
	Results           []analysis.MatchResult `json:"results"`
}

func (a *app) compareCmd() *cobra.Command {
	var (
		key       string
		reference string
	)
	cmd := &cobra.Command{
		Use:   "compare <baseline> <post-cleaning>",
		Short: "Rank offsets against app-reported accessory life",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reference == "" {
				return fmt.Errorf("--reference is required")
			}
			entries, err := loadReference(reference)
			if err != nil {
				return err
			}
			before, err := loadPayload(cmd.InOrStdin(), args[0], key)
			if err != nil {
				return err
			}
			after, err := loadPayload(cmd.InOrStdin(), args[1], key)
			if err != nil {
				return err
			}

			scanner := a.config.scanner()
			r := a.config.percentRange()
			beforeCandidates := scanner.Scan(before, r)
			afterCandidates := scanner.Scan(after, r)
			res := compareOutput{
				BaselineCount:     len(beforeCandidates),
				PostCleaningCount: len(afterCandidates),
				Results:           analysis.NewComparator(a.config.thresholds()).Compare(beforeCandidates, scanner.Counterparts(after), entries),
			}
			return a.out(cmd).emit(res, func() [][]string {
				rows := [][]string{{"ACCESSORY", "OFFSET", "TRANSFORM", "EXPECTED", "OBSERVED", "DIFF", "DELTA", "CONFIDENCE"}}
				for _, m := range res.Results {
					delta := "-"
					if m.Delta != nil {
						delta = strconv.Itoa(*m.Delta)
					}
					rows = append(rows, []string{
						m.AccessoryName,
						strconv.Itoa(m.Offset),
						m.Transform.String(),
						strconv.Itoa(m.Expected),
						strconv.Itoa(m.Observed),
						strconv.Itoa(m.Difference),
						delta,
						m.Confidence.String(),
					})
				}
				return rows
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", investigation.AccessoryKey, "telemetry key to compare")
	cmd.Flags().StringVar(&reference, "reference", "", "sensors file or JSON list of reference entries")
	return cmd
}

type targetOutput struct {
	Sensor string `json:"sensor"`
	analysis.Target
	analysis.TargetResult
}

func (a *app) targetsCmd() *cobra.Command {
	var targetsPath string
	cmd := &cobra.Command{
		Use:   "targets <file>",
		Short: "Search every key of a capture for exact app-reported values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetsPath == "" {
				return fmt.Errorf("--targets is required")
			}
			targets, err := loadTargets(targetsPath)
			if err != nil {
				return err
			}
			blobs, err := loadBlobs(cmd.InOrStdin(), args[0], investigation.AccessoryKey)
			if err != nil {
				return err
			}
			out := findAllTargets(targets, blobs)
			return a.out(cmd).emit(out, func() [][]string {
				rows := [][]string{{"SENSOR", "KIND", "KEY", "BYTES", "VALUE", "ENCODING"}}
				for _, t := range out {
					for _, m := range t.HourCandidates {
						rows = append(rows, targetRow(t.Sensor, "hours", m))
					}
					for _, m := range t.PercentageCandidates {
						rows = append(rows, targetRow(t.Sensor, "percentage", m))
					}
				}
				return rows
			})
		},
	}
	cmd.Flags().StringVar(&targetsPath, "targets", "", "JSON file with app-reported sensor values")
	return cmd
}

// findAllTargets runs every target over every decodable key. Sensors are
// ordered by name.
func findAllTargets(targets map[string]analysis.Target, blobs map[string]string) []targetOutput {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	keys := make([]string, 0, len(blobs))
	for key := range blobs {
		keys = append(keys, key)
	}
	analysis.SortKeys(keys)

	out := make([]targetOutput, 0, len(names))
	for _, name := range names {
		t := targetOutput{
			Sensor: name,
			Target: targets[name],
			TargetResult: analysis.TargetResult{
				HourCandidates:       []analysis.TargetMatch{},
				PercentageCandidates: []analysis.TargetMatch{},
			},
		}
		for _, key := range keys {
			payload, err := analysis.DecodePayload(key, blobs[key])
			if err != nil {
				continue
			}
			r := analysis.FindTargets(key, payload, t.Target)
			t.HourCandidates = append(t.HourCandidates, r.HourCandidates...)
			t.PercentageCandidates = append(t.PercentageCandidates, r.PercentageCandidates...)
		}
		out = append(out, t)
	}
	return out
}

func targetRow(sensor, kind string, m analysis.TargetMatch) []string {
	return []string{sensor, kind, m.Key, fmt.Sprint(m.Bytes), strconv.Itoa(m.Value), string(m.Encoding)}
}

func scanRows(scans []analysis.KeyScan) [][]string {
	rows := [][]string{{"KEY", "OFFSET", "TRANSFORM", "RAW", "VALUE"}}
	for _, s := range scans {
		if s.Error != "" {
			rows = append(rows, []string{s.Key, "-", "error", "-", s.Error})
			continue
		}
		for _, c := range s.Candidates {
			rows = append(rows, []string{
				s.Key,
				strconv.Itoa(c.Offset),
				c.Transform.String(),
				fmt.Sprintf("0x%02x", c.RawValue),
				strconv.Itoa(c.InterpretedValue),
			})
		}
	}
	return rows
}
