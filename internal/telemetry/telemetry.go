package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/store"
)

// Event is the terminal record of one request through the pipeline.
type Event struct {
	RequestID  string    `json:"request_id"`
	Flow       string    `json:"flow"`
	Actor      string    `json:"actor,omitempty"`
	State      string    `json:"state"`
	RuleID     string    `json:"rule_id,omitempty"`
	Verdict    string    `json:"verdict,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Attempts   int       `json:"attempts"`
	ItemCount  int       `json:"item_count,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink accepts terminal events. Implementations must not block the caller
// for long and must tolerate concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var kept multi
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return kept
}

type multi []Sink

func (m multi) Record(ctx context.Context, event Event) {
	for _, s := range m {
		s.Record(ctx, event)
	}
}

// LogSink writes events through logrus.
type LogSink struct{}

func (LogSink) Record(_ context.Context, event Event) {
	entry := logrus.WithFields(logrus.Fields{
		"request_id": event.RequestID,
		"flow":       event.Flow,
		"state":      event.State,
		"attempts":   event.Attempts,
		"latency_ms": event.LatencyMs,
	})
	if event.RuleID != "" {
		entry = entry.WithField("rule_id", event.RuleID)
	}
	if event.Verdict != "" {
		entry = entry.WithField("verdict", event.Verdict)
	}
	if event.ErrorCode != "" {
		entry.WithField("error_code", event.ErrorCode).Warn("advisory request finished with error")
		return
	}
	entry.Info("advisory request finished")
}

// StoreSink persists events.
type StoreSink struct {
	db *store.Database
}

func NewStoreSink(db *store.Database) *StoreSink {
	return &StoreSink{db: db}
}

func (s *StoreSink) Record(_ context.Context, event Event) {
	if s == nil || s.db == nil {
		return
	}
	row := ToRow(event)
	if err := s.db.SaveEvent(&row); err != nil {
		logrus.WithError(err).WithField("request_id", event.RequestID).Warn("persist telemetry event")
	}
}

// ToRow converts an event to its stored form.
func ToRow(e Event) store.AdvisoryEvent {
	return store.AdvisoryEvent{
		RequestID:  e.RequestID,
		Flow:       e.Flow,
		Actor:      e.Actor,
		State:      e.State,
		RuleID:     e.RuleID,
		Verdict:    e.Verdict,
		ErrorCode:  e.ErrorCode,
		Attempts:   e.Attempts,
		ItemCount:  e.ItemCount,
		LatencyMs:  e.LatencyMs,
		OccurredAt: e.OccurredAt,
	}
}

// FromRow converts a stored row back to an event.
func FromRow(r store.AdvisoryEvent) Event {
	return Event{
		RequestID:  r.RequestID,
		Flow:       r.Flow,
		Actor:      r.Actor,
		State:      r.State,
		RuleID:     r.RuleID,
		Verdict:    r.Verdict,
		ErrorCode:  r.ErrorCode,
		Attempts:   r.Attempts,
		ItemCount:  r.ItemCount,
		LatencyMs:  r.LatencyMs,
		OccurredAt: r.OccurredAt,
	}
}
