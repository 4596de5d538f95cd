package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffPayloadsWearChange(t *testing.T) {
	prev := payloadWith(150, map[int]byte{146: 99, 10: 200})
	curr := payloadWith(150, map[int]byte{146: 98, 10: 200})

	report := DiffPayloads(prev, curr, DefaultDiffOptions())

	assert.True(t, report.Significant)
	require.Len(t, report.WearChanges, 1)
	assert.Equal(t, 146, report.WearChanges[0].Position)
	assert.Equal(t, "rolling_brush", report.WearChanges[0].LikelyAccessory)
	assert.Equal(t, "decreased_by_1", report.WearChanges[0].Classification)
	assert.Equal(t, 1, report.ChangeCount())
}

func TestDiffPayloadsMinorChangesAreNotSignificant(t *testing.T) {
	prev := payloadWith(20, map[int]byte{1: 150, 2: 10})
	curr := payloadWith(20, map[int]byte{1: 151, 2: 20})

	report := DiffPayloads(prev, curr, DefaultDiffOptions())

	assert.False(t, report.Significant)
	assert.Empty(t, report.WearChanges)
	assert.Equal(t, 2, report.ChangeCount())
}

func TestDiffPayloadsVolume(t *testing.T) {
	prev := make([]byte, 10)
	curr := []byte{200, 200, 200, 200, 200, 200, 0, 0, 0, 0}

	report := DiffPayloads(prev, curr, DefaultDiffOptions())

	assert.True(t, report.Significant)
	assert.Equal(t, 6, report.ChangeCount())
}

func TestDiffPayloadsLengthMismatch(t *testing.T) {
	report := DiffPayloads([]byte{1, 2}, []byte{1, 2, 3}, DefaultDiffOptions())

	assert.True(t, report.LengthMismatch)
	assert.True(t, report.Significant)
}

func TestClassifyDelta(t *testing.T) {
	cases := map[int]string{
		0:  "no_change",
		-1: "decreased_by_1",
		-3: "decreased_by_3",
		-4: "large_decrease",
		2:  "increased_by_2",
		9:  "large_increase",
	}
	for delta, want := range cases {
		assert.Equal(t, want, ClassifyDelta(delta), "delta %d", delta)
	}
}

func TestPositionConfidence(t *testing.T) {
	assert.Equal(t, "high", PositionConfidence(37, 98))
	assert.Equal(t, "medium", PositionConfidence(37, 0))
	assert.Equal(t, "low", PositionConfidence(38, 98))
	assert.Equal(t, "very_low", PositionConfidence(38, 200))
	assert.Equal(t, "unknown_accessory", GuessAccessory(1))
	assert.Equal(t, []int{5, 37, 75, 95, 125, 146, 228}, KnownPositions())
}
