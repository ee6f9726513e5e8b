package ai

import "plant-sage/backend/internal/advisory"

// FallbackReason names why a provider answer could not be used.
type FallbackReason string

const (
	ReasonMalformed     FallbackReason = "malformed"
	ReasonUnavailable   FallbackReason = "unavailable"
	ReasonTimeout       FallbackReason = "timeout"
	ReasonNotConfigured FallbackReason = "not_configured"
)

// FallbackConfidence sits below advisory.DefaultConfidence.
const FallbackConfidence = 0.3

var fallbackReasons = map[FallbackReason]string{
	ReasonMalformed:     "The model's answer was malformed or incomplete, so it was discarded.",
	ReasonUnavailable:   "The model could not be reached, so no answer was available.",
	ReasonTimeout:       "The model took too long to answer.",
	ReasonNotConfigured: "Model access is not configured on this server.",
}

// Fallback returns the fixed uncertain verdict for reason.
func Fallback(reason FallbackReason) advisory.Verdict {
	text, ok := fallbackReasons[reason]
	if !ok {
		text = fallbackReasons[ReasonMalformed]
	}
	return advisory.Verdict{
		Verdict:    advisory.Uncertain,
		Points:     nil,
		Answer:     "I'm not sure whether this counts. Check the plant guide or try asking again.",
		Reason:     text,
		Confidence: FallbackConfidence,
	}
}
