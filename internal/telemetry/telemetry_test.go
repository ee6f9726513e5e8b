package telemetry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sage/backend/internal/store"
)

type fakeConn struct {
	mu      sync.Mutex
	written []interface{}
	fail    bool
	closed  bool
	block   chan struct{}
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) snapshot() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.written...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Record(_ context.Context, e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestNotifierBroadcastAndReplay(t *testing.T) {
	n := NewNotifier()
	first := &fakeConn{}
	client := n.Register(first)
	assert.Empty(t, first.snapshot())

	event := Event{RequestID: "r1", Flow: "advisory", State: "resolved_parsed"}
	n.Record(context.Background(), event)
	require.Eventually(t, func() bool { return len(first.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, event, first.snapshot()[0])

	late := &fakeConn{}
	n.Register(late)
	require.Eventually(t, func() bool { return len(late.snapshot()) == 1 }, time.Second, 5*time.Millisecond,
		"late subscriber receives the most recent event")
	assert.Equal(t, 2, n.Clients())

	n.Unregister(client)
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, n.Clients())
	n.Unregister(client)
	n.Unregister(nil)
}

func TestNotifierDropsFailingClients(t *testing.T) {
	n := NewNotifier()
	broken := &fakeConn{fail: true}
	n.Register(broken)
	n.Record(context.Background(), Event{RequestID: "r1"})
	require.Eventually(t, func() bool { return n.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, broken.isClosed())
	require.NotNil(t, n.Last())
	assert.Equal(t, "r1", n.Last().RequestID)
}

func TestNotifierRecordDoesNotWaitForStalledClient(t *testing.T) {
	n := NewNotifier()
	stalled := &fakeConn{block: make(chan struct{})}
	defer close(stalled.block)
	n.Register(stalled)

	start := time.Now()
	for i := 0; i < clientBuffer+2; i++ {
		n.Record(context.Background(), Event{RequestID: "r"})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, stalled.isClosed(), "a client that falls a full buffer behind is dropped")
	assert.Zero(t, n.Clients())

	healthy := &fakeConn{}
	n.Register(healthy)
	n.Record(context.Background(), Event{RequestID: "r2"})
	require.Eventually(t, func() bool { return len(healthy.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestMultiSkipsNilSinks(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	sink := Multi(a, nil, b, LogSink{})
	sink.Record(context.Background(), Event{RequestID: "r1", ErrorCode: "provider_timeout"})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestStoreSinkPersists(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "events.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	sink := NewStoreSink(db)
	sink.Record(context.Background(), Event{
		RequestID: "r1", Flow: "advisory", Actor: "ana", State: "resolved_deterministic",
		RuleID: "coffee", Verdict: "counts", LatencyMs: 3, OccurredAt: at,
	})

	rows, total, err := db.ListEvents(store.EventQuery{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	got := FromRow(rows[0])
	assert.Equal(t, "coffee", got.RuleID)
	assert.Equal(t, "ana", got.Actor)
	assert.True(t, at.Equal(got.OccurredAt))

	var nilSink *StoreSink
	nilSink.Record(context.Background(), Event{RequestID: "ignored"})
}
