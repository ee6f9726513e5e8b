package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the notifier writes to.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// clientBuffer is how many events a subscriber may fall behind before it is
// dropped.
const clientBuffer = 16

// Client is one subscriber with its own writer goroutine.
type Client struct {
	conn Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

// Notifier keeps track of active websocket clients and broadcasts events.
// Record never blocks on a subscriber.
type Notifier struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	last    *Event
}

// NewNotifier constructs a notifier instance.
func NewNotifier() *Notifier {
	return &Notifier{clients: make(map[*Client]struct{})}
}

// Register attaches a connection and replays the most recent event to it.
func (n *Notifier) Register(conn Conn) *Client {
	client := &Client{
		conn: conn,
		send: make(chan Event, clientBuffer),
		done: make(chan struct{}),
	}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	if n.last != nil {
		client.send <- *n.last
	}
	n.mu.Unlock()

	go n.writeLoop(client)
	return client
}

// Unregister removes the client and closes its socket.
func (n *Notifier) Unregister(client *Client) {
	if client == nil {
		return
	}
	n.drop(client)
}

// Record queues event for every registered client. A client whose buffer is
// full is dropped.
func (n *Notifier) Record(_ context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := event
	n.last = &snapshot
	for client := range n.clients {
		select {
		case client.send <- event:
		default:
			delete(n.clients, client)
			client.stop()
		}
	}
}

// Clients reports the number of connected subscribers.
func (n *Notifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// Last returns a copy of the most recent event.
func (n *Notifier) Last() *Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return nil
	}
	ev := *n.last
	return &ev
}

func (n *Notifier) writeLoop(client *Client) {
	for {
		select {
		case <-client.done:
			return
		case event := <-client.send:
			if err := client.writeJSON(event); err != nil {
				n.drop(client)
				return
			}
		}
	}
}

func (n *Notifier) drop(client *Client) {
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	client.stop()
}

func (c *Client) stop() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) writeJSON(payload interface{}) error {
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
