// Package telephony bridges phone media streams into recognition: each
// call's 8 kHz mu-law audio is converted and streamed into its own
// recognizer, and final transcripts are written back on the same socket.
package telephony

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/audio"
	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/stt"
)

// MediaMessage is one message of a media stream.
type MediaMessage struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Media     *MediaChunk `json:"media,omitempty"`
	Start     *StreamInfo `json:"start,omitempty"`
	Stop      *StreamInfo `json:"stop,omitempty"`
}

// MediaChunk carries base64 mu-law audio.
type MediaChunk struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // Alternative field name for chunk
}

// StreamInfo describes the call a stream belongs to.
type StreamInfo struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// TranscriptMessage is written back to the media stream for each final
// phrase.
type TranscriptMessage struct {
	Event        string            `json:"event"`
	StreamSid    string            `json:"streamSid"`
	Text         string            `json:"text"`
	Confidence   float64           `json:"confidence,omitempty"`
	Offset       float64           `json:"offset"`
	Duration     float64           `json:"duration"`
	Translations map[string]string `json:"translations,omitempty"`
}

// RecognizerFunc creates the recognizer for one call.
type RecognizerFunc func(ctx context.Context) (*stt.Recognizer, error)

// Bridge is an http.Handler accepting media stream WebSockets.
type Bridge struct {
	newRecognizer RecognizerFunc
	logger        zerolog.Logger
	upgrader      websocket.Upgrader
}

func NewBridge(newRecognizer RecognizerFunc, logger zerolog.Logger) *Bridge {
	return &Bridge{
		newRecognizer: newRecognizer,
		logger:        logger.With().Str("component", "telephony").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to upgrade media stream")
		return
	}
	defer conn.Close()

	c := &call{
		conn:   conn,
		bridge: b,
		logger: b.logger.With().Str("call_id", observability.NewRequestID()).Logger(),
	}
	c.run(r.Context())
}

// call is the state of one media stream.
type call struct {
	conn   *websocket.Conn
	bridge *Bridge
	logger zerolog.Logger

	writeMu   sync.Mutex
	streamSid string
	rec       *stt.Recognizer
	forwarded chan struct{}
	dropped   int
}

func (c *call) run(ctx context.Context) {
	defer c.finish()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Media stream read error")
			}
			return
		}

		var msg MediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse media stream message")
			continue
		}

		switch msg.Event {
		case "connected":
			c.logger.Debug().Msg("Media stream connected")

		case "start":
			c.start(ctx, &msg)

		case "media":
			if msg.Media != nil {
				c.media(msg.Media)
			}

		case "stop":
			c.logger.Info().Str("stream_sid", c.streamSid).Msg("Call stopped")
			if c.rec != nil {
				if err := c.rec.StopContext(ctx); err != nil {
					c.logger.Warn().Err(err).Msg("Recognition ended with error")
				}
			}
			return

		default:
			c.logger.Debug().Str("event", msg.Event).Msg("Ignoring media stream event")
		}
	}
}

func (c *call) start(ctx context.Context, msg *MediaMessage) {
	if c.rec != nil {
		c.logger.Warn().Msg("Duplicate start event")
		return
	}
	c.streamSid = msg.StreamSid
	if msg.Start != nil {
		if msg.Start.StreamSid != "" {
			c.streamSid = msg.Start.StreamSid
		}
		c.logger = c.logger.With().Str("call_sid", msg.Start.CallSid).Logger()
	}
	c.logger.Info().Str("stream_sid", c.streamSid).Msg("Call started")

	rec, err := c.bridge.newRecognizer(ctx)
	if err == nil {
		err = rec.StartContext(ctx)
		if err != nil {
			rec.Close()
		}
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to start recognition for call")
		return
	}

	c.rec = rec
	c.forwarded = make(chan struct{})
	go c.forward(rec.GetTranscription())
}

func (c *call) media(m *MediaChunk) {
	payload := m.Chunk
	if payload == "" {
		payload = m.Payload
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode media payload")
		return
	}
	if c.rec == nil {
		c.dropped += len(data)
		return
	}

	pcm, err := audio.Convert(data, audio.TelephonyFormat, audio.RecognitionFormat)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to convert media payload")
		return
	}
	observability.RecordAudioBytes("in", len(data))
	if err := c.rec.SendAudio(pcm); err != nil {
		c.logger.Debug().Err(err).Msg("Audio not accepted")
	}
}

// forward writes final transcripts back to the caller's stream.
func (c *call) forward(results <-chan *stt.TranscriptionResult) {
	defer close(c.forwarded)
	for r := range results {
		if !r.IsFinal {
			continue
		}
		c.logger.Info().Str("text", r.Text).Msg("Transcript")
		data, err := json.Marshal(TranscriptMessage{
			Event:        "transcript",
			StreamSid:    c.streamSid,
			Text:         r.Text,
			Confidence:   r.Confidence,
			Offset:       r.StartTime,
			Duration:     r.Duration,
			Translations: r.Translations,
		})
		if err != nil {
			continue
		}
		c.writeMu.Lock()
		err = c.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug().Err(err).Msg("Transcript not delivered")
		}
	}
}

func (c *call) finish() {
	if c.rec != nil {
		c.rec.Close()
		<-c.forwarded
	}
	if c.dropped > 0 {
		c.logger.Warn().Int("bytes", c.dropped).Msg("Dropped audio received before recognition started")
	}
}
