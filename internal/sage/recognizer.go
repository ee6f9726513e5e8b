package sage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/ai"
)

// Reconciler maps recognized names onto catalog entries.
type Reconciler interface {
	Reconcile(items []advisory.RecognizedItem) []advisory.RecognizedItem
}

// Recognition is the terminal result of one image recognition request.
// Plants is never nil.
type Recognition struct {
	RequestID string
	Plants    []advisory.RecognizedItem
	State     State
	Attempts  int
	Err       error
	Trail     []State
}

// Recognizer lists the plants visible in a meal photo.
type Recognizer struct {
	opts Options
}

func NewRecognizer(opts Options) *Recognizer {
	return &Recognizer{opts: opts.withDefaults()}
}

// Policy returns the recognition resilience policy in effect.
func (rc *Recognizer) Policy() ai.Policy {
	return rc.opts.Policies.Recognition
}

// Recognize validates the image body, asks the vision model and reconciles
// the answer against the catalog. contentLength is -1 when unknown.
func (rc *Recognizer) Recognize(ctx context.Context, raw []byte, contentLength int64, actor string) (out Recognition) {
	r := newRun(FlowRecognition, actor, rc.opts.Now)
	defer func() {
		if p := recover(); p != nil {
			logrus.WithFields(logrus.Fields{
				"request_id": r.id,
				"state":      r.state,
				"panic":      fmt.Sprint(p),
			}).Error("recognition pipeline panicked")
			r.to(StateFailed)
			out = Recognition{Err: ErrInternal}
		}
		if out.Plants == nil {
			out.Plants = []advisory.RecognizedItem{}
		}
		out.RequestID = r.id
		out.State = r.state
		out.Attempts = r.attempts
		out.Trail = r.trail
		rc.opts.Sink.Record(ctx, r.event("", "", len(out.Plants), out.Err))
	}()

	r.to(StateValidating)
	image, err := rc.opts.Governor.CheckImage(raw, contentLength)
	if err != nil {
		r.to(StateRejected)
		return Recognition{Err: err}
	}

	if rc.opts.Provider == nil || !rc.opts.Provider.Enabled() {
		r.to(StateResolvedFallback)
		return Recognition{Err: ErrNotConfigured}
	}

	r.to(StateCallingProvider)
	result, err := rc.opts.Provider.Complete(ctx, rc.opts.Policies.Recognition, ai.RecognitionMessages(image.DataURL), true)
	r.attempts = result.Attempts
	if err = providerFailure(result, err); err != nil {
		if errors.Is(err, ai.ErrProviderTimeout) {
			r.to(StateTimedOut)
		} else {
			r.to(StateProviderError)
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"request_id": r.id,
			"attempts":   r.attempts,
			"mime":       image.MIME,
		}).Warn("vision call failed")
		r.to(StateResolvedFallback)
		return Recognition{Err: err}
	}

	r.to(StateValidatingShape)
	items, err := ai.ValidateRecognitionPayload(result.Body)
	if err != nil {
		logrus.WithError(err).WithField("request_id", r.id).Warn("vision reply rejected; returning no plants")
		r.to(StateResolvedFallback)
		return Recognition{}
	}
	if rc.opts.Catalog != nil {
		items = rc.opts.Catalog.Reconcile(items)
	}
	r.to(StateResolvedParsed)
	return Recognition{Plants: items}
}
