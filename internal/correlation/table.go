// Package correlation routes inbound turn messages to the logical turn that
// owns them and guarantees each turn completes exactly once.
package correlation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// Handler receives messages routed to a turn. Returning done=true completes
// the turn with err once the handler returns. A handler must not call
// Complete for its own turn.
type Handler func(m *protocol.Message) (done bool, err error)

// CompletionFunc observes a turn's terminal outcome. err is nil on success.
type CompletionFunc func(err error)

// Handle is the caller's view of a registered turn.
type Handle struct {
	requestID string

	once sync.Once
	done chan struct{}
	err  error
}

func (h *Handle) RequestID() string { return h.requestID }

// Done is closed once the turn has completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the completion error. It is only meaningful after Done.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Completed reports whether the turn has reached its terminal outcome.
func (h *Handle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the turn completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	handle     *Handle
	handler    Handler
	onComplete CompletionFunc
	streamIDs  []string

	// dispatchMu serializes handler calls with completion so a handler
	// never runs after onComplete.
	dispatchMu sync.Mutex
	completed  bool
}

// Table maps request ids (and bound stream ids) to in-flight turns.
type Table struct {
	logger zerolog.Logger

	mu       sync.Mutex
	requests map[string]*entry
	streams  map[string]*entry
}

func NewTable(logger zerolog.Logger) *Table {
	return &Table{
		logger:   logger.With().Str("component", "correlation").Logger(),
		requests: make(map[string]*entry),
		streams:  make(map[string]*entry),
	}
}

// Register adds a turn. handler may be nil. A request id that is already
// registered is rejected.
func (t *Table) Register(requestID string, handler Handler, onComplete CompletionFunc) (*Handle, error) {
	if requestID == "" {
		return nil, speecherr.InvalidArgument("request id must not be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.requests[requestID]; exists {
		return nil, speecherr.TurnInProgress(requestID)
	}
	e := &entry{
		handle:     &Handle{requestID: requestID, done: make(chan struct{})},
		handler:    handler,
		onComplete: onComplete,
	}
	t.requests[requestID] = e
	return e.handle, nil
}

// BindStream routes messages carrying only X-StreamId to requestID's turn.
func (t *Table) BindStream(requestID, streamID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.requests[requestID]
	if !ok || streamID == "" {
		return false
	}
	t.streams[streamID] = e
	e.streamIDs = append(e.streamIDs, streamID)
	return true
}

// Lookup returns the handle for requestID if it is still in flight.
func (t *Table) Lookup(requestID string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.requests[requestID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Len returns the number of in-flight turns.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// RequestIDs returns the ids of all in-flight turns.
func (t *Table) RequestIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.requests))
	for id := range t.requests {
		ids = append(ids, id)
	}
	return ids
}

func (t *Table) find(m *protocol.Message) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id := m.RequestID(); id != "" {
		if e, ok := t.requests[id]; ok {
			return e
		}
	}
	if sid := m.StreamID(); sid != "" {
		if e, ok := t.streams[sid]; ok {
			return e
		}
	}
	return nil
}

// Dispatch routes m to its turn's handler. It returns false when no live
// turn claims the message; such messages are logged and dropped.
func (t *Table) Dispatch(m *protocol.Message) bool {
	e := t.find(m)
	if e == nil {
		t.logger.Debug().
			Str("path", m.Path()).
			Str("request_id", m.RequestID()).
			Str("stream_id", m.StreamID()).
			Msg("Dropping unroutable message")
		return false
	}

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.completed {
		return false
	}
	if e.handler == nil {
		return true
	}
	if done, err := e.handler(m); done {
		t.mu.Lock()
		t.remove(e)
		t.mu.Unlock()
		t.finishLocked(e, err)
	}
	return true
}

// Complete removes requestID's turn and fires its completion exactly once.
// It waits for a handler call already in progress for the same turn. It
// returns false if the turn was unknown or already completed.
func (t *Table) Complete(requestID string, err error) bool {
	t.mu.Lock()
	e, ok := t.requests[requestID]
	if ok {
		t.remove(e)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	return t.finish(e, err)
}

// CancelAll completes every in-flight turn with err and returns how many
// turns it completed.
func (t *Table) CancelAll(err error) int {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.requests))
	for _, e := range t.requests {
		entries = append(entries, e)
	}
	for _, e := range entries {
		t.remove(e)
	}
	t.mu.Unlock()

	n := 0
	for _, e := range entries {
		if t.finish(e, err) {
			n++
		}
	}
	return n
}

// remove must be called with t.mu held.
func (t *Table) remove(e *entry) {
	if t.requests[e.handle.requestID] == e {
		delete(t.requests, e.handle.requestID)
	}
	for _, sid := range e.streamIDs {
		if t.streams[sid] == e {
			delete(t.streams, sid)
		}
	}
}

func (t *Table) finish(e *entry, err error) bool {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	return t.finishLocked(e, err)
}

// finishLocked must be called with e.dispatchMu held.
func (t *Table) finishLocked(e *entry, err error) bool {
	if e.completed {
		return false
	}
	e.completed = true

	// Waiters wake only after onComplete has returned.
	defer e.handle.once.Do(func() {
		e.handle.err = err
		close(e.handle.done)
	})
	if e.onComplete != nil {
		e.onComplete(err)
	}
	return true
}
