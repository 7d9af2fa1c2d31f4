package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

const crlf = "\r\n"

// Encode serializes m into a WebSocket frame payload.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, speecherr.Framing("cannot encode nil message")
	}
	if path, ok := m.Headers.Get(HeaderPath); !ok || path == "" {
		return nil, speecherr.Framing("message is missing required %s header", HeaderPath)
	}

	block, err := encodeHeaders(m.Headers)
	if err != nil {
		return nil, err
	}

	switch m.Type {
	case Text:
		out := make([]byte, 0, len(block)+len(crlf)+len(m.Text))
		out = append(out, block...)
		out = append(out, crlf...)
		out = append(out, m.Text...)
		return out, nil

	case Binary:
		if len(block) > math.MaxUint16 {
			return nil, speecherr.Framing("binary header block too large: %d bytes", len(block))
		}
		out := make([]byte, 2, 2+len(block)+len(m.Binary))
		binary.BigEndian.PutUint16(out, uint16(len(block)))
		out = append(out, block...)
		out = append(out, m.Binary...)
		return out, nil
	}

	return nil, speecherr.Framing("unknown message type %d", int(m.Type))
}

// Decode parses a raw frame of the given type into a Message. An empty
// binary payload decodes to a nil Binary, as NewAudioMessage builds the
// end-of-audio frame.
func Decode(mt MessageType, data []byte) (*Message, error) {
	switch mt {
	case Text:
		return decodeText(data)
	case Binary:
		return decodeBinary(data)
	}
	return nil, speecherr.Framing("unknown message type %d", int(mt))
}

func decodeText(data []byte) (*Message, error) {
	sep := bytes.Index(data, []byte(crlf+crlf))
	var block, body []byte
	switch {
	case sep >= 0:
		block = data[:sep+len(crlf)]
		body = data[sep+2*len(crlf):]
	case bytes.HasPrefix(data, []byte(crlf)):
		// No headers at all; caught by the Path check below.
		body = data[len(crlf):]
	default:
		return nil, speecherr.Framing("text frame has no header terminator")
	}

	headers, err := decodeHeaders(string(block))
	if err != nil {
		return nil, err
	}
	m := &Message{Type: Text, Headers: headers, Text: string(body)}
	if err := requirePath(m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeBinary(data []byte) (*Message, error) {
	if len(data) < 2 {
		return nil, speecherr.Framing("binary frame too short: %d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	if 2+n > len(data) {
		return nil, speecherr.Framing("binary header length %d exceeds frame size %d", n, len(data)-2)
	}

	headers, err := decodeHeaders(string(data[2 : 2+n]))
	if err != nil {
		return nil, err
	}
	var payload []byte
	if rest := data[2+n:]; len(rest) > 0 {
		payload = make([]byte, len(rest))
		copy(payload, rest)
	}

	m := &Message{Type: Binary, Headers: headers, Binary: payload}
	if err := requirePath(m); err != nil {
		return nil, err
	}
	return m, nil
}

func requirePath(m *Message) error {
	if path, ok := m.Headers.Get(HeaderPath); !ok || path == "" {
		return speecherr.Framing("frame is missing required %s header", HeaderPath)
	}
	return nil
}

func encodeHeaders(h Headers) ([]byte, error) {
	var b bytes.Buffer
	for _, hd := range h.list {
		if hd.Name == "" || strings.ContainsAny(hd.Name, ":\r\n") {
			return nil, speecherr.Framing("invalid header name %q", hd.Name)
		}
		if strings.ContainsAny(hd.Value, "\r\n") {
			return nil, speecherr.Framing("invalid value for header %s", hd.Name)
		}
		b.WriteString(hd.Name)
		b.WriteString(": ")
		b.WriteString(hd.Value)
		b.WriteString(crlf)
	}
	return b.Bytes(), nil
}

// decodeHeaders parses "Name: value\r\n" lines. A single space after the
// colon is optional.
func decodeHeaders(block string) (Headers, error) {
	var h Headers
	if block == "" {
		return h, nil
	}
	if !strings.HasSuffix(block, crlf) {
		return h, speecherr.Framing("header block is not CRLF terminated")
	}
	for _, line := range strings.Split(strings.TrimSuffix(block, crlf), crlf) {
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return Headers{}, speecherr.Framing("malformed header line %q", line)
		}
		name := line[:idx]
		value := strings.TrimPrefix(line[idx+1:], " ")
		h.list = append(h.list, Header{Name: name, Value: value})
	}
	return h, nil
}
