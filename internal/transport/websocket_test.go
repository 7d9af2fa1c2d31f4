package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

func newWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestTransport(url string, header http.Header) *WebSocket {
	return NewWebSocket("conn1", url, WebSocketOptions{
		Header:           header,
		HandshakeTimeout: 2 * time.Second,
		Logger:           zerolog.Nop(),
	})
}

func nextInbound(t *testing.T, ws *WebSocket) (Inbound, bool) {
	t.Helper()
	select {
	case in, ok := <-ws.Messages():
		return in, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return Inbound{}, false
	}
}

func TestWebSocket_SendAndReceive(t *testing.T) {
	received := make(chan []byte, 4)
	gotHeader := make(chan string, 1)

	url := newWebsocketTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		gotHeader <- r.Header.Get("Ocp-Apim-Subscription-Key")

		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}

		phrase := "Path: speech.phrase\r\nX-RequestId: req1\r\n\r\n{\"RecognitionStatus\":\"Success\"}"
		conn.WriteMessage(websocket.TextMessage, []byte(phrase))
		conn.WriteMessage(websocket.TextMessage, []byte("Path: turn.end\r\nX-RequestId: req1\r\n\r\n"))
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	})

	ws := newTestTransport(url, http.Header{"Ocp-Apim-Subscription-Key": {"secret"}})
	res, err := ws.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer ws.Close()

	if res.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("Expected 101, got %d", res.StatusCode)
	}
	if ws.State() != StateConnected {
		t.Errorf("Expected connected, got %s", ws.State())
	}
	if h := <-gotHeader; h != "secret" {
		t.Errorf("Expected auth header to reach the server, got %q", h)
	}

	ctx := context.Background()
	if err := ws.Send(ctx, protocol.NewTextMessage(protocol.PathSpeechConfig, "", protocol.ContentTypeJSON, "{}")); err != nil {
		t.Fatalf("Send(text) failed: %v", err)
	}
	if err := ws.Send(ctx, protocol.NewAudioMessage("req1", []byte{1, 2, 3})); err != nil {
		t.Fatalf("Send(binary) failed: %v", err)
	}

	first := <-received
	if !strings.HasPrefix(string(first), "Path: speech.config\r\n") {
		t.Errorf("Unexpected first frame %q", first)
	}
	second, err := protocol.Decode(protocol.Binary, <-received)
	if err != nil {
		t.Fatalf("server got undecodable audio frame: %v", err)
	}
	if second.RequestID() != "req1" || len(second.Binary) != 3 {
		t.Errorf("Unexpected audio frame %s", second)
	}

	var paths []string
	for {
		in, ok := nextInbound(t, ws)
		if !ok {
			break
		}
		if in.Err != nil {
			t.Fatalf("Unexpected framing error %v", in.Err)
		}
		paths = append(paths, in.Message.Path())
	}
	if len(paths) != 2 || paths[0] != protocol.PathSpeechPhrase || paths[1] != protocol.PathTurnEnd {
		t.Errorf("Expected [speech.phrase turn.end] in order, got %v", paths)
	}

	info := ws.CloseInfo()
	if info.Code != websocket.CloseNormalClosure || info.Reason != "bye" {
		t.Errorf("Unexpected close info %+v", info)
	}
	if !errors.Is(info.Err, speecherr.ErrConnectionLost) {
		t.Errorf("Expected service close to count as connection lost, got %v", info.Err)
	}
	if ws.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", ws.State())
	}
}

func TestWebSocket_MalformedFrameSurfacedAsError(t *testing.T) {
	url := newWebsocketTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("no headers here"))
		conn.WriteMessage(websocket.TextMessage, []byte("Path: turn.start\r\nX-RequestId: r\r\n\r\n{}"))
		time.Sleep(100 * time.Millisecond)
	})

	ws := newTestTransport(url, nil)
	if _, err := ws.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer ws.Close()

	in, _ := nextInbound(t, ws)
	if !errors.Is(in.Err, speecherr.ErrProtocolFraming) {
		t.Errorf("Expected framing error, got %+v", in)
	}
	in, _ = nextInbound(t, ws)
	if in.Err != nil || in.Message.Path() != protocol.PathTurnStart {
		t.Errorf("Expected the next valid frame to still arrive, got %+v", in)
	}
}

func TestWebSocket_HandshakeRejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, speecherr.ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, speecherr.ErrAuthenticationFailed},
		{"server error", http.StatusInternalServerError, speecherr.ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "denied by policy", tt.status)
			}))
			defer server.Close()

			ws := newTestTransport("ws"+strings.TrimPrefix(server.URL, "http"), nil)
			_, err := ws.Open(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}

			var hsErr *HandshakeError
			if !errors.As(err, &hsErr) {
				t.Fatalf("Expected HandshakeError in chain, got %T", err)
			}
			if hsErr.StatusCode != tt.status || !strings.Contains(hsErr.Body, "denied by policy") {
				t.Errorf("Unexpected handshake error %+v", hsErr)
			}
			if ws.State() != StateDisconnected {
				t.Errorf("Expected disconnected, got %s", ws.State())
			}
			if _, ok := <-ws.Messages(); ok {
				t.Error("Expected inbound channel to be closed")
			}
		})
	}
}

func TestWebSocket_SendBeforeOpen(t *testing.T) {
	ws := newTestTransport("ws://127.0.0.1:1", nil)

	err := ws.Send(context.Background(), protocol.NewAudioMessage("r", nil))
	if !errors.Is(err, speecherr.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestWebSocket_SendAfterClose(t *testing.T) {
	url := newWebsocketTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ws := newTestTransport(url, nil)
	if _, err := ws.Open(context.Background()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ws.Close()
	ws.Close()

	err := ws.Send(context.Background(), protocol.NewAudioMessage("r", []byte{1}))
	if !errors.Is(err, speecherr.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if info := ws.CloseInfo(); info.Err != nil {
		t.Errorf("Expected clean close, got %+v", info)
	}
	if _, err := ws.Open(context.Background()); err == nil {
		t.Error("Expected a second Open to fail")
	}
}

func TestWebSocket_OpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws := newTestTransport("ws://127.0.0.1:1", nil)
	_, err := ws.Open(ctx)
	if !errors.Is(err, speecherr.ErrCanceled) {
		t.Errorf("Expected ErrCanceled, got %v", err)
	}
}
