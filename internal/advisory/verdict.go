package advisory

import (
	"math"
	"strings"
)

// Kind enumerates the advisory outcomes the rest of the system understands.
type Kind string

const (
	Counts        Kind = "counts"
	Partial       Kind = "partial"
	DoesNotCount  Kind = "does_not_count"
	DuplicateWeek Kind = "duplicate_week"
	Uncertain     Kind = "uncertain"
)

// DefaultConfidence is used whenever a supplied confidence is not a number.
const DefaultConfidence = 0.5

var kinds = map[Kind]struct{}{
	Counts:        {},
	Partial:       {},
	DoesNotCount:  {},
	DuplicateWeek: {},
	Uncertain:     {},
}

// ParseKind maps a raw string onto the enumeration. Matching is exact.
func ParseKind(raw string) (Kind, bool) {
	k := Kind(raw)
	_, ok := kinds[k]
	return k, ok
}

// Valid reports whether k is one of the known verdicts.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// AssignsPoints reports whether verdicts of this kind may carry a point value.
func (k Kind) AssignsPoints() bool {
	return k.Valid() && k != Uncertain
}

// Verdict is the structured answer returned to callers.
type Verdict struct {
	Verdict          Kind     `json:"verdict"`
	Points           *float64 `json:"points"`
	Answer           string   `json:"answer"`
	Reason           string   `json:"reason"`
	Confidence       float64  `json:"confidence"`
	FollowUpQuestion string   `json:"followUpQuestion,omitempty"`
}

// PointsOf returns a pointer to v, for building verdicts inline.
func PointsOf(v float64) *float64 {
	return &v
}

// Normalize clamps confidence and drops points from verdicts that cannot
// carry them. It never changes an already well-formed verdict.
func (v Verdict) Normalize() Verdict {
	v.Confidence = ClampConfidence(v.Confidence)
	if !v.Verdict.AssignsPoints() {
		v.Points = nil
	}
	v.Answer = strings.TrimSpace(v.Answer)
	v.Reason = strings.TrimSpace(v.Reason)
	v.FollowUpQuestion = strings.TrimSpace(v.FollowUpQuestion)
	return v
}

// ClampConfidence forces value into [0,1]; NaN becomes DefaultConfidence.
func ClampConfidence(value float64) float64 {
	if math.IsNaN(value) {
		return DefaultConfidence
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
