package sage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/governor"
	"plant-sage/backend/internal/rules"
	"plant-sage/backend/internal/telemetry"
)

// Outcome is the terminal result of one advisory question. Verdict is always
// set unless the request was rejected; Err is set for rejected, timed-out,
// unreachable, unconfigured and internal outcomes.
type Outcome struct {
	RequestID string
	Verdict   advisory.Verdict
	State     State
	RuleID    string
	Attempts  int
	Err       error
	Trail     []State
}

// Fallback reports whether the verdict is the synthesized fallback.
func (o Outcome) Fallback() bool {
	return o.State == StateResolvedFallback || o.State == StateFailed
}

// Options configures an Advisor or Recognizer. Zero values get defaults.
type Options struct {
	Governor *governor.Governor
	Matcher  *rules.Matcher
	Provider Provider
	Policies ai.Policies
	Sink     telemetry.Sink
	Catalog  Reconciler
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Governor == nil {
		o.Governor = governor.New()
	}
	if o.Matcher == nil {
		o.Matcher = rules.MustDefault()
	}
	defaults := ai.DefaultPolicies()
	if o.Policies.Advisory.Name == "" {
		o.Policies.Advisory = defaults.Advisory
	}
	if o.Policies.Recognition.Name == "" {
		o.Policies.Recognition = defaults.Recognition
	}
	if o.Sink == nil {
		o.Sink = telemetry.Multi()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Advisor answers "does this count?" questions.
type Advisor struct {
	opts Options
}

func NewAdvisor(opts Options) *Advisor {
	return &Advisor{opts: opts.withDefaults()}
}

// Policy returns the advisory resilience policy in effect.
func (a *Advisor) Policy() ai.Policy {
	return a.opts.Policies.Advisory
}

// Matcher returns the rule matcher in use.
func (a *Advisor) Matcher() *rules.Matcher {
	return a.opts.Matcher
}

// Ask runs raw through the pipeline. It never returns an unvalidated
// provider answer.
func (a *Advisor) Ask(ctx context.Context, raw []byte, actor string) (out Outcome) {
	r := newRun(FlowAdvisory, actor, a.opts.Now)
	defer func() {
		if p := recover(); p != nil {
			logrus.WithFields(logrus.Fields{
				"request_id": r.id,
				"state":      r.state,
				"panic":      fmt.Sprint(p),
			}).Error("advisory pipeline panicked")
			r.to(StateFailed)
			out = Outcome{Verdict: ai.Fallback(ai.ReasonUnavailable), Err: ErrInternal}
		}
		out.RequestID = r.id
		out.State = r.state
		out.Attempts = r.attempts
		out.Trail = r.trail
		verdict := ""
		if out.State != StateRejected {
			verdict = string(out.Verdict.Verdict)
		}
		a.opts.Sink.Record(ctx, r.event(out.RuleID, verdict, 0, out.Err))
	}()

	r.to(StateValidating)
	question, err := a.opts.Governor.CheckAdvisory(raw)
	if err != nil {
		r.to(StateRejected)
		return Outcome{Err: err}
	}

	r.to(StateMatchingRules)
	verdict, hit, ok := a.opts.Matcher.Match(question.Question, rules.Context{
		AlreadyLogged: question.Context.AlreadyLoggedThisWeek,
		Recognized:    question.Context.RecognizedNames(),
	})
	if ok {
		r.to(StateResolvedDeterministic)
		return Outcome{Verdict: verdict, RuleID: hit.RuleID}
	}

	if a.opts.Provider == nil || !a.opts.Provider.Enabled() {
		r.to(StateResolvedFallback)
		return Outcome{Verdict: ai.Fallback(ai.ReasonNotConfigured), Err: ErrNotConfigured}
	}

	r.to(StateCallingProvider)
	result, err := a.opts.Provider.Complete(ctx, a.opts.Policies.Advisory, ai.AdvisoryMessages(question), false)
	r.attempts = result.Attempts
	if err = providerFailure(result, err); err != nil {
		return a.failed(r, err)
	}

	r.to(StateValidatingShape)
	verdict, err = ai.ValidateVerdictPayload(result.Body)
	if err != nil {
		logrus.WithError(err).WithField("request_id", r.id).Warn("provider verdict rejected; using fallback")
		r.to(StateResolvedFallback)
		return Outcome{Verdict: ai.Fallback(ai.ReasonMalformed)}
	}
	r.to(StateResolvedParsed)
	return Outcome{Verdict: verdict}
}

func (a *Advisor) failed(r *run, err error) Outcome {
	reason := ai.ReasonUnavailable
	if errors.Is(err, ai.ErrProviderTimeout) {
		r.to(StateTimedOut)
		reason = ai.ReasonTimeout
	} else {
		r.to(StateProviderError)
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"request_id": r.id,
		"attempts":   r.attempts,
	}).Warn("provider call failed")
	r.to(StateResolvedFallback)
	return Outcome{Verdict: ai.Fallback(reason), Err: err}
}

// providerFailure folds a non-2xx reply into ErrProviderUnreachable.
func providerFailure(result ai.Result, err error) error {
	if err != nil {
		return err
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ai.ErrProviderUnreachable, result.StatusCode)
	}
	return nil
}
