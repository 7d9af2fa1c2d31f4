// Package speechtest runs an in-process speech service over WebSocket for
// tests of the packages built on the session layer.
package speechtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/protocol"
)

// Conn is the service side of one client connection.
type Conn struct {
	ws      *websocket.Conn
	Request *http.Request

	writeMu sync.Mutex
}

// Next reads the next client message.
func (c *Conn) Next() (*protocol.Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	kind := protocol.Text
	if mt == websocket.BinaryMessage {
		kind = protocol.Binary
	}
	return protocol.Decode(kind, data)
}

// NextPath skips client messages until one with path arrives.
func (c *Conn) NextPath(path string) (*protocol.Message, error) {
	for {
		m, err := c.Next()
		if err != nil {
			return nil, err
		}
		if m.Path() == path {
			return m, nil
		}
	}
}

// Send writes a service message.
func (c *Conn) Send(m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	mt := websocket.TextMessage
	if m.Type == protocol.Binary {
		mt = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(mt, data)
}

// SendJSON writes a text message with a JSON body for requestID.
func (c *Conn) SendJSON(path, requestID, body string) error {
	return c.Send(protocol.NewTextMessage(path, requestID, protocol.ContentTypeJSON, body))
}

// Hypothesis, Phrase and TurnEnd send the usual recognition messages.
func (c *Conn) Hypothesis(requestID, text string) error {
	return c.SendJSON(protocol.PathSpeechHypothesis, requestID, fmt.Sprintf(`{"Text":%q,"Offset":10000000,"Duration":5000000}`, text))
}

func (c *Conn) Phrase(requestID, text string, confidence float64) error {
	body := fmt.Sprintf(`{"RecognitionStatus":"Success","DisplayText":%q,"Offset":10000000,"Duration":20000000,"NBest":[{"Confidence":%g,"Display":%q}]}`, text, confidence, text)
	return c.SendJSON(protocol.PathSpeechPhrase, requestID, body)
}

func (c *Conn) TurnEnd(requestID string) error {
	return c.SendJSON(protocol.PathTurnEnd, requestID, "{}")
}

// Drop closes the socket without a close handshake.
func (c *Conn) Drop() {
	c.ws.UnderlyingConn().Close()
}

// Close sends a normal close frame.
func (c *Conn) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	c.ws.Close()
}

// Server is a test speech service. Each accepted connection runs handler
// on its own goroutine.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	conns int
}

// NewServer starts a server closed at the end of the test.
func NewServer(t *testing.T, handler func(c *Conn)) *Server {
	t.Helper()

	s := &Server{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		c := &Conn{ws: ws, Request: r}
		defer ws.Close()
		handler(c)
	}))
	t.Cleanup(s.Close)
	return s
}

// Connections is how many clients have connected so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Host is the ws:// base URL for properties.Host.
func (s *Server) Host() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Properties returns a bag pointing at the server.
func (s *Server) Properties() *properties.Collection {
	props := properties.NewCollection()
	props.Set(properties.Host, s.Host())
	props.Set(properties.RecognitionLanguage, "en-US")
	props.Set(properties.SubscriptionKey, "test-key")
	return props
}
