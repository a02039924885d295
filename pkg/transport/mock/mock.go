// Package mock provides an in-memory transport.Transport for exercising the
// protocol engine without a real serial port or socket.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/commatea/modbus-engine/pkg/transport"
)

// Transport is a Transport whose wire is entirely in-process: Inject feeds
// bytes that Events will later deliver, and Sent records everything passed
// to Send.
type Transport struct {
	mu        sync.Mutex
	connected bool
	stats     transport.Statistics

	subs []chan transport.Event

	Sent    [][]byte
	SendErr error
}

// New creates a connected mock transport.
func New() *Transport {
	return &Transport{connected: true}
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	for _, s := range t.subs {
		close(s)
	}
	t.subs = nil
	return nil
}

func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.Sent = append(t.Sent, cp)
	t.stats.BytesSent += uint64(len(data))
	t.stats.MessagesSent++
	return nil
}

// Events implements transport.Transport. The returned channel is closed
// when ctx is done; Disconnect also closes every outstanding subscription.
func (t *Transport) Events(ctx context.Context) <-chan transport.Event {
	ch := make(chan transport.Event, 16)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s == ch {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				close(s)
				break
			}
		}
	}()
	return ch
}

// Inject delivers data as a message chunk to every active subscriber.
func (t *Transport) Inject(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.BytesReceived += uint64(len(data))
	t.stats.MessagesReceived++
	for _, s := range t.subs {
		select {
		case s <- transport.Event{Kind: transport.EventMessage, Data: data}:
		default:
		}
	}
}

// InjectError delivers a terminal error to every active subscriber.
func (t *Transport) InjectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Errors++
	for _, s := range t.subs {
		s <- transport.Event{Kind: transport.EventErr, Err: err}
	}
}

// Close delivers a normal close to every active subscriber.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s <- transport.Event{Kind: transport.EventClosed}
	}
}

func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := transport.StateDisconnected
	if t.connected {
		state = transport.StateConnected
	}
	now := time.Now()
	return transport.Info{
		ID:          "mock",
		Type:        "mock",
		State:       state,
		Statistics:  t.stats,
		ConnectedAt: &now,
	}
}
