package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeFrequency(t *testing.T) {
	count, freq := ChangeFrequency([]int{99, 99, 98, 98, 98, 98}, 3)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 0.2, freq, 1e-9)

	count, freq = ChangeFrequency([]int{1, 2}, 3)
	assert.Zero(t, count)
	assert.Zero(t, freq)
}

func TestAnalyzeHistoryClassifies(t *testing.T) {
	captures := [][]byte{
		{99, 10, 7},
		{99, 11, 7},
		{98, 12, 7},
		{98, 13, 7},
		{98, 14, 7},
		{98, 15, 7, 1},
	}

	report := AnalyzeHistory(ByteSeries("180", captures), DefaultHistoryOptions())

	assert.Equal(t, 6, report.TotalLogs)
	require.Len(t, report.Series, 3, "only offsets present in every capture")
	require.Len(t, report.Infrequent, 1)
	assert.Equal(t, 0, report.Infrequent[0].Position)
	assert.Equal(t, 98, report.Infrequent[0].LastKnown)
	require.Len(t, report.Frequent, 1)
	assert.Equal(t, 1, report.Frequent[0].Position)
}

func TestAnalyzeHistoryNeedsMinimumLogs(t *testing.T) {
	report := AnalyzeHistory(ByteSeries("180", [][]byte{{1}, {2}}), DefaultHistoryOptions())

	assert.Empty(t, report.Infrequent)
	assert.Empty(t, report.Frequent)
}

func TestFindTargets(t *testing.T) {
	hours := 360
	pct := 99
	payload := []byte{0x01, 0x68, 0x00, 0x00, 99}

	got := FindTargets("180", payload, Target{Hours: &hours, Percentage: &pct})

	require.NotEmpty(t, got.HourCandidates)
	assert.Equal(t, EncodingUint16BE, got.HourCandidates[0].Encoding)
	assert.Equal(t, []int{0, 1}, got.HourCandidates[0].Bytes)
	require.Len(t, got.PercentageCandidates, 1)
	assert.Equal(t, []int{4}, got.PercentageCandidates[0].Bytes)
	assert.Equal(t, "180", got.PercentageCandidates[0].Key)
}

func TestFindTargetsThirtyTwoBit(t *testing.T) {
	hours := 70000 // 0x00011170
	payload := []byte{0x00, 0x01, 0x11, 0x70}

	got := FindTargets("180", payload, Target{Hours: &hours})

	require.Len(t, got.HourCandidates, 1)
	assert.Equal(t, EncodingUint32BE, got.HourCandidates[0].Encoding)
	assert.Empty(t, got.PercentageCandidates)
}

func TestFindTargetsPercentageOutOfRange(t *testing.T) {
	pct := 150
	got := FindTargets("180", []byte{150}, Target{Percentage: &pct})
	assert.Empty(t, got.PercentageCandidates)
}
