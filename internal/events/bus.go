// Package events fans out connection-level notifications to listeners.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// Type identifies what happened on a connection.
type Type string

const (
	Connected        Type = "connected"
	Disconnected     Type = "disconnected"
	MessageSent      Type = "messageSent"
	MessageReceived  Type = "messageReceived"
	ConnectionFailed Type = "connectionFailed"
)

// Event is one notification. Fields that do not apply to Type are zero.
type Event struct {
	ID           string
	Type         Type
	ConnectionID string
	RequestID    string
	Path         string
	StatusCode   int
	Reason       string
	Err          error
	Timestamp    time.Time
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t Type, connectionID string) Event {
	return Event{
		ID:           xid.New().String(),
		Type:         t,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// Listener receives events on the publisher's goroutine.
type Listener func(Event)

type subscription struct {
	id       uint64
	listener Listener
}

// Bus delivers each event synchronously to every listener attached at the
// time of publishing, in attach order. A panicking listener is logged and
// skipped. Events are not buffered for listeners attached later.
type Bus struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger.With().Str("component", "events").Logger()}
}

// Attach registers l and returns a function that detaches it. Calling the
// detach function more than once is a no-op.
func (b *Bus) Attach(l Listener) (detach func()) {
	if l == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.detach(id) })
	}
}

func (b *Bus) detach(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of attached listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to the current listeners and returns once all of them
// have run.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_type", string(e.Type)).
				Str("connection_id", e.ConnectionID).
				Uint64("listener", s.id).
				Str("panic", fmt.Sprint(r)).
				Msg("Event listener panicked")
		}
	}()
	s.listener(e)
}
