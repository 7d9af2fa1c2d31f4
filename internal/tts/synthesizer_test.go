package tts

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/audio"
	"github.com/lexiqai/speech-sdk/internal/config"
	"github.com/lexiqai/speech-sdk/internal/connection"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/session"
	"github.com/lexiqai/speech-sdk/internal/speechtest"
)

func newTestSynthesizer(t *testing.T, srv *speechtest.Server, cfg Config) *Synthesizer {
	t.Helper()

	defaults := config.DefaultSessionDefaults()
	defaults.DisableTelemetry = true
	defaults.AwaitFinalTimeout = 2 * time.Second

	props := srv.Properties()
	props.Set(properties.SynthesisOutputFormat, cfg.ServiceFormat)

	sess, err := session.New(session.Options{
		Factory:  connection.NewFactory(connection.SynthesisScenario{}),
		Auth:     connection.NewKeyAuthenticator("test-key"),
		Props:    props,
		Defaults: defaults,
		Mode:     session.ModeSingleShot,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("session.New() failed: %v", err)
	}

	s, err := NewSynthesizer(sess, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSynthesizer() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// serveSynthesis answers one ssml message with the given audio frames.
func serveSynthesis(ssml chan<- string, frames ...[]byte) func(c *speechtest.Conn) {
	return func(c *speechtest.Conn) {
		m, err := c.NextPath(protocol.PathSSML)
		if err != nil {
			return
		}
		ssml <- m.Text
		requestID := m.RequestID()

		c.SendJSON(protocol.PathTurnStart, requestID, `{"context":{"serviceTag":"tag1"}}`)
		c.SendJSON(protocol.PathAudioMetadata, requestID, `{"Metadata":[{"Type":"WordBoundary","Data":{"Offset":500000,"Duration":100,"text":{"Text":"Hello","Length":5}}}]}`)
		for _, f := range frames {
			c.Send(protocol.NewBinaryMessage(protocol.PathAudio, requestID, f))
		}
		c.TurnEnd(requestID)
		for {
			if _, err := c.Next(); err != nil {
				return
			}
		}
	}
}

func collect(t *testing.T, chunks <-chan *AudioChunk) []byte {
	t.Helper()
	var out []byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return out
			}
			if c.Offset != len(out) {
				t.Errorf("Expected chunk offset %d, got %d", len(out), c.Offset)
			}
			out = append(out, c.Data...)
		case <-timeout:
			t.Fatal("Timed out waiting for synthesis audio")
			return nil
		}
	}
}

func TestSynthesizer_StripsRIFFHeader(t *testing.T) {
	pcm := audio.SamplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	header := bytes.Repeat([]byte{'R'}, riffHeaderSize)

	ssml := make(chan string, 1)
	// Header split across frames and a sample split across frames.
	srv := speechtest.NewServer(t, serveSynthesis(ssml, header[:20], append(header[20:], pcm[:5]...), pcm[5:]))

	s := newTestSynthesizer(t, srv, Config{
		Voice:         "en-US-JennyNeural",
		ServiceFormat: "riff-16khz-16bit-mono-pcm",
	})

	chunks, err := s.Synthesize("Hello <world> & co")
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}
	got := collect(t, chunks)
	if !bytes.Equal(got, pcm) {
		t.Errorf("Expected %v, got %v", pcm, got)
	}

	if err := s.Wait(context.Background()); err != nil {
		t.Errorf("Expected synthesis to succeed, got %v", err)
	}
	if s.IsActive() {
		t.Error("Expected synthesizer to be inactive after completion")
	}

	body := <-ssml
	if !strings.Contains(body, "<voice name='en-US-JennyNeural'>Hello &lt;world&gt; &amp; co</voice>") {
		t.Errorf("Unexpected SSML: %s", body)
	}
}

func TestSynthesizer_ConvertsToTelephony(t *testing.T) {
	pcm := make([]byte, 320) // 160 silent samples at 16 kHz
	ssml := make(chan string, 1)
	srv := speechtest.NewServer(t, serveSynthesis(ssml, pcm))

	out := audio.TelephonyFormat
	s := newTestSynthesizer(t, srv, Config{
		ServiceFormat: "raw-16khz-16bit-mono-pcm",
		Output:        &out,
	})

	chunks, err := s.Synthesize("<speak version='1.0'>hi</speak>")
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}
	got := collect(t, chunks)
	if len(got) != 80 {
		t.Fatalf("Expected 80 mu-law bytes, got %d", len(got))
	}
	for i, b := range got {
		if b != 0xFF {
			t.Fatalf("Expected mu-law silence, got %#x at %d", b, i)
		}
	}
	if body := <-ssml; body != "<speak version='1.0'>hi</speak>" {
		t.Errorf("Expected SSML to pass through, got %s", body)
	}
}

func TestSynthesizer_RejectsEmptyText(t *testing.T) {
	srv := speechtest.NewServer(t, func(c *speechtest.Conn) {})
	s := newTestSynthesizer(t, srv, Config{ServiceFormat: "raw-16khz-16bit-mono-pcm"})
	if _, err := s.Synthesize(""); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    audio.Format
		riff    bool
		wantErr bool
	}{
		{"raw-16khz-16bit-mono-pcm", audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 16000, Channels: 1}, false, false},
		{"riff-24khz-16bit-mono-pcm", audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 24000, Channels: 1}, true, false},
		{"raw-8khz-8bit-mono-mulaw", audio.TelephonyFormat, false, false},
		{"riff-22050hz-16bit-mono-pcm", audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 22050, Channels: 1}, true, false},
		{"audio-24khz-48kbitrate-mono-mp3", audio.Format{}, false, true},
		{"raw-16khz-16bit-stereo-pcm", audio.Format{}, false, true},
		{"webm-24khz-16bit-mono-opus", audio.Format{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Format != tt.want || got.RIFF != tt.riff {
				t.Errorf("Expected %+v riff=%v, got %+v riff=%v", tt.want, tt.riff, got.Format, got.RIFF)
			}
		})
	}
}
