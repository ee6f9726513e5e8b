// Package sage sequences the advisory and recognition pipelines: governor,
// deterministic rules, the policy-governed provider call, shape validation
// and fallback.
package sage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/governor"
	"plant-sage/backend/internal/telemetry"
	"plant-sage/backend/internal/util"
)

// State is a named step of the pipeline state machine.
type State string

const (
	StateValidating            State = "validating"
	StateRejected              State = "rejected"
	StateMatchingRules         State = "matching_rules"
	StateCallingProvider       State = "calling_provider"
	StateTimedOut              State = "timed_out"
	StateProviderError         State = "provider_error"
	StateValidatingShape       State = "validating_shape"
	StateResolvedDeterministic State = "resolved_deterministic"
	StateResolvedParsed        State = "resolved_parsed"
	StateResolvedFallback      State = "resolved_fallback"
	StateFailed                State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateResolvedDeterministic, StateResolvedParsed, StateResolvedFallback, StateFailed:
		return true
	}
	return false
}

const (
	FlowAdvisory    = "advisory"
	FlowRecognition = "recognition"
)

var (
	// ErrNotConfigured is returned when no provider credentials are set.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrInternal hides unexpected failures inside the pipeline.
	ErrInternal = errors.New("internal error")
)

// Provider is the outbound model call. *ai.Client satisfies it.
type Provider interface {
	Enabled() bool
	Complete(ctx context.Context, policy ai.Policy, messages []ai.Message, vision bool) (ai.Result, error)
}

// ErrorCode maps a pipeline error to its public code.
func ErrorCode(err error) string {
	if kind, ok := governor.KindOf(err); ok {
		return string(kind)
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ai.ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, ai.ErrRequestTooLarge):
		return "payload_too_large"
	case errors.Is(err, ai.ErrProviderUnreachable):
		return "provider_unreachable"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "internal"
	}
}

// run tracks one request through the state machine.
type run struct {
	id       string
	flow     string
	actor    string
	timer    util.Timer
	state    State
	trail    []State
	attempts int
}

func newRun(flow, actor string, now func() time.Time) *run {
	return &run{
		id:    uuid.NewString(),
		flow:  flow,
		actor: actor,
		timer: util.StartTimerAt(now),
	}
}

func (r *run) to(s State) {
	r.state = s
	r.trail = append(r.trail, s)
}

func (r *run) event(ruleID, verdict string, items int, err error) telemetry.Event {
	return telemetry.Event{
		RequestID:  r.id,
		Flow:       r.flow,
		Actor:      r.actor,
		State:      string(r.state),
		RuleID:     ruleID,
		Verdict:    verdict,
		ErrorCode:  ErrorCode(err),
		Attempts:   r.attempts,
		ItemCount:  items,
		LatencyMs:  r.timer.ElapsedMs(),
		OccurredAt: r.timer.Started(),
	}
}
