// Package protocol implements the speech service's WebSocket message format:
// a colon-delimited header block followed by a JSON text body, or, for binary
// frames, a 2-byte big-endian header length, the header block and a raw payload.
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// MessageType is the WebSocket frame kind a message travels in.
type MessageType int

const (
	Text MessageType = iota
	Binary
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Well-known header names. Keys are case-sensitive.
const (
	HeaderPath         = "Path"
	HeaderRequestID    = "X-RequestId"
	HeaderStreamID     = "X-StreamId"
	HeaderTimestamp    = "X-Timestamp"
	HeaderContentType  = "Content-Type"
	HeaderConnectionID = "X-ConnectionId"
)

// Content types used by outgoing messages.
const (
	ContentTypeJSON = "application/json"
	ContentTypeSSML = "application/ssml+xml"
	ContentTypeWAV  = "audio/x-wav"
)

// Header is a single name/value pair.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Set replaces an existing value in place
// so the original position is kept.
type Headers struct {
	list []Header
}

// NewHeaders builds a header list from alternating name/value pairs.
func NewHeaders(pairs ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

// Get returns the value for name and whether it was present.
func (h Headers) Get(name string) (string, bool) {
	for _, hd := range h.list {
		if hd.Name == name {
			return hd.Value, true
		}
	}
	return "", false
}

// Value returns the value for name, or "" when absent.
func (h Headers) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

func (h *Headers) Set(name, value string) {
	for i := range h.list {
		if h.list[i].Name == name {
			h.list[i].Value = value
			return
		}
	}
	h.list = append(h.list, Header{Name: name, Value: value})
}

func (h *Headers) Del(name string) {
	for i := range h.list {
		if h.list[i].Name == name {
			h.list = append(h.list[:i], h.list[i+1:]...)
			return
		}
	}
}

func (h Headers) Len() int {
	return len(h.list)
}

// List returns a copy of the headers in order.
func (h Headers) List() []Header {
	out := make([]Header, len(h.list))
	copy(out, h.list)
	return out
}

// Message is one framed unit on the wire. Exactly one of Text or Binary is
// meaningful, matching Type.
type Message struct {
	Type    MessageType
	Headers Headers
	Text    string
	Binary  []byte
}

// NewTextMessage builds a text message. requestID may be empty for
// connection-scoped messages such as speech.config.
func NewTextMessage(path, requestID, contentType, body string) *Message {
	m := &Message{Type: Text, Text: body}
	m.Headers.Set(HeaderPath, path)
	if requestID != "" {
		m.Headers.Set(HeaderRequestID, requestID)
	}
	m.Headers.Set(HeaderTimestamp, Timestamp(time.Now()))
	if contentType != "" {
		m.Headers.Set(HeaderContentType, contentType)
	}
	return m
}

// NewBinaryMessage builds a binary message carrying payload.
func NewBinaryMessage(path, requestID string, payload []byte) *Message {
	m := &Message{Type: Binary, Binary: payload}
	m.Headers.Set(HeaderPath, path)
	if requestID != "" {
		m.Headers.Set(HeaderRequestID, requestID)
	}
	m.Headers.Set(HeaderTimestamp, Timestamp(time.Now()))
	return m
}

// NewAudioMessage builds an audio chunk frame for a turn. An empty payload
// signals end of audio for the turn.
func NewAudioMessage(requestID string, chunk []byte) *Message {
	return NewBinaryMessage(PathAudio, requestID, chunk)
}

func (m *Message) Path() string {
	return m.Headers.Value(HeaderPath)
}

func (m *Message) RequestID() string {
	return m.Headers.Value(HeaderRequestID)
}

func (m *Message) StreamID() string {
	return m.Headers.Value(HeaderStreamID)
}

// IsEndOfAudio reports whether m is the empty audio frame that ends a turn's
// audio stream.
func (m *Message) IsEndOfAudio() bool {
	return m.Type == Binary && m.Path() == PathAudio && len(m.Binary) == 0
}

// Size is the payload size in bytes.
func (m *Message) Size() int {
	if m.Type == Binary {
		return len(m.Binary)
	}
	return len(m.Text)
}

// Timestamp formats t the way the service expects in X-Timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s message path=%s", m.Type, m.Path())
	if id := m.RequestID(); id != "" {
		fmt.Fprintf(&b, " request_id=%s", id)
	}
	fmt.Fprintf(&b, " size=%d", m.Size())
	return b.String()
}
