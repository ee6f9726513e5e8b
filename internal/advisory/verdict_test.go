package advisory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"zero unchanged", 0, 0},
		{"one unchanged", 1, 1},
		{"mid unchanged", 0.42, 0.42},
		{"above", 1.5, 1},
		{"below", -3, 0},
		{"nan", math.NaN(), DefaultConfidence},
		{"inf", math.Inf(1), 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClampConfidence(tc.input))
		})
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("duplicate_week")
	assert.True(t, ok)
	assert.Equal(t, DuplicateWeek, k)

	_, ok = ParseKind("Counts")
	assert.False(t, ok)
	_, ok = ParseKind("maybe")
	assert.False(t, ok)
}

func TestNormalizeDropsPointsForUncertain(t *testing.T) {
	v := Verdict{Verdict: Uncertain, Points: PointsOf(1), Answer: " a ", Reason: "r", Confidence: 2}.Normalize()
	assert.Nil(t, v.Points)
	assert.Equal(t, "a", v.Answer)
	assert.Equal(t, 1.0, v.Confidence)

	kept := Verdict{Verdict: Counts, Points: PointsOf(0.25), Answer: "a", Reason: "r", Confidence: 1}.Normalize()
	assert.Equal(t, 0.25, *kept.Points)
}
