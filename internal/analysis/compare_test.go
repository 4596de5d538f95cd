package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadWith(size int, values map[int]byte) []byte {
	p := make([]byte, size)
	for off, v := range values {
		p[off] = v
	}
	return p
}

func TestCompareScenarios(t *testing.T) {
	s := NewScanner()
	reference := []ReferenceEntry{{AccessoryName: "brush_guard", ExpectedPercentage: 97}}
	before := s.Scan(payloadWith(32, map[int]byte{15: 97}), DefaultPercentRange)

	tests := []struct {
		name      string
		after     []Candidate
		wantConf  Confidence
		wantDelta *int
	}{
		{
			name:     "exact match without after capture",
			after:    nil,
			wantConf: ExactMatch,
		},
		{
			name:      "wear keeps exact match",
			after:     s.Scan(payloadWith(32, map[int]byte{15: 95}), DefaultPercentRange),
			wantConf:  ExactMatch,
			wantDelta: intPtr(-2),
		},
		{
			name:      "increase downgrades",
			after:     s.Scan(payloadWith(32, map[int]byte{15: 99}), DefaultPercentRange),
			wantConf:  CloseMatch,
			wantDelta: intPtr(2),
		},
		{
			name:      "unchanged downgrades",
			after:     before,
			wantConf:  CloseMatch,
			wantDelta: intPtr(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(before, tt.after, reference)
			require.Len(t, got, 1)
			assert.Equal(t, "brush_guard", got[0].AccessoryName)
			assert.Equal(t, 15, got[0].Offset)
			assert.Equal(t, RawByte, got[0].Transform)
			assert.Equal(t, tt.wantConf, got[0].Confidence)
			assert.Equal(t, tt.wantDelta, got[0].Delta)
		})
	}
}

func TestCompareThresholdEdges(t *testing.T) {
	tests := []struct {
		observed byte
		want     Confidence
	}{
		{observed: 97, want: ExactMatch},
		{observed: 95, want: CloseMatch},
		{observed: 99, want: CloseMatch},
		{observed: 94, want: NoMatch},
		{observed: 100, want: NoMatch},
	}
	for _, tt := range tests {
		before := []Candidate{{Offset: 3, RawValue: tt.observed, InterpretedValue: int(tt.observed), Transform: RawByte}}
		got := Compare(before, nil, []ReferenceEntry{{AccessoryName: "side_brush", ExpectedPercentage: 97}})
		require.Len(t, got, 1)
		assert.Equal(t, tt.want, got[0].Confidence, "observed %d", tt.observed)
	}
}

func TestCompareDowngradeFromCloseToNoMatch(t *testing.T) {
	before := []Candidate{{Offset: 1, RawValue: 95, InterpretedValue: 95}}
	after := []Candidate{{Offset: 1, RawValue: 96, InterpretedValue: 96}}

	got := Compare(before, after, []ReferenceEntry{{AccessoryName: "mop_cloth", ExpectedPercentage: 97}})

	require.Len(t, got, 1)
	assert.Equal(t, NoMatch, got[0].Confidence)
}

func TestCompareReferenceOrderAndTies(t *testing.T) {
	before := NewScanner().Scan(payloadWith(64, map[int]byte{40: 98, 10: 98, 20: 91}), DefaultPercentRange)
	reference := []ReferenceEntry{
		{AccessoryName: "side_brush", ExpectedPercentage: 98},
		{AccessoryName: "cliff_bump_sensors", ExpectedPercentage: 91},
	}

	got := Compare(before, nil, reference)

	require.Len(t, got, 3)
	assert.Equal(t, "side_brush", got[0].AccessoryName)
	assert.Equal(t, 10, got[0].Offset)
	assert.Equal(t, "side_brush", got[1].AccessoryName)
	assert.Equal(t, 40, got[1].Offset)
	assert.Equal(t, "cliff_bump_sensors", got[2].AccessoryName)
	assert.Equal(t, 20, got[2].Offset)
}

func TestCompareHoursUseSixteenBitReadings(t *testing.T) {
	// 0x0168 = 360 big-endian at offset 4.
	before := NewScanner().Scan(payloadWith(8, map[int]byte{4: 0x01, 5: 0x68}), Range{Low: 1, High: 0})
	after := NewScanner().Scan(payloadWith(8, map[int]byte{4: 0x01, 5: 0x67}), Range{Low: 1, High: 0})
	hours := 360

	got := Compare(before, after, []ReferenceEntry{{AccessoryName: "rolling_brush", ExpectedPercentage: 99, ExpectedHours: &hours}})

	require.Len(t, got, 2)
	assert.Equal(t, -1, got[0].Offset, "no percent candidates")
	assert.Equal(t, NoMatch, got[0].Confidence)
	assert.Equal(t, 4, got[1].Offset)
	assert.Equal(t, Uint16BE, got[1].Transform)
	assert.Equal(t, ExactMatch, got[1].Confidence)
	assert.Equal(t, intPtr(-1), got[1].Delta)
}

func TestCompareEmptyInputs(t *testing.T) {
	got := Compare(nil, nil, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = Compare(nil, nil, []ReferenceEntry{{AccessoryName: "dust_filter", ExpectedPercentage: 99}})
	require.Len(t, got, 1)
	assert.Equal(t, -1, got[0].Offset)
	assert.Equal(t, NoMatch, got[0].Confidence)
	assert.Nil(t, got[0].Delta)
}

func TestCompareDeterministicAndIdempotent(t *testing.T) {
	s := NewScanner()
	before := s.Scan(payloadWith(64, map[int]byte{5: 98, 37: 97, 60: 93}), DefaultPercentRange)
	after := s.Scan(payloadWith(64, map[int]byte{5: 97, 37: 97, 60: 92}), DefaultPercentRange)
	reference := []ReferenceEntry{
		{AccessoryName: "mop_cloth", ExpectedPercentage: 98},
		{AccessoryName: "brush_guard", ExpectedPercentage: 97},
		{AccessoryName: "cleaning_tray", ExpectedPercentage: 93},
	}

	first := Compare(before, after, reference)
	second := Compare(before, after, reference)
	require.Equal(t, first, second)

	matched := make([]Candidate, 0, len(first))
	for _, res := range first {
		matched = append(matched, Candidate{
			Offset:           res.Offset,
			RawValue:         byte(res.Observed),
			InterpretedValue: res.Observed,
			Transform:        res.Transform,
		})
	}
	again := Compare(matched, after, reference)
	require.Len(t, again, len(first))
	for i := range first {
		assert.Equal(t, first[i].Confidence, again[i].Confidence)
	}
}

func TestThresholdsConfigurable(t *testing.T) {
	c := NewComparator(Thresholds{Exact: 1, Close: 5})
	before := []Candidate{{Offset: 0, RawValue: 96, InterpretedValue: 96}}

	got := c.Compare(before, nil, []ReferenceEntry{{AccessoryName: "x", ExpectedPercentage: 97}})

	require.Len(t, got, 1)
	assert.Equal(t, ExactMatch, got[0].Confidence)
	assert.Error(t, Thresholds{Exact: 3, Close: 2}.Validate())
}

func TestConfidenceText(t *testing.T) {
	text, err := CloseMatch.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "CLOSE_MATCH", string(text))

	var c Confidence
	require.NoError(t, c.UnmarshalText([]byte("NO_MATCH")))
	assert.Equal(t, NoMatch, c)
	assert.Equal(t, NoMatch, NoMatch.Downgrade())
}

func intPtr(v int) *int { return &v }
