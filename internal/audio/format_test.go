package audio

import (
	"bytes"
	"io"
	"testing"
)

func TestMulaw_RoundTrip(t *testing.T) {
	for _, sample := range []int16{0, 1, -1, 100, -100, 1000, -1000, 12000, -12000, 32000, -32000} {
		got := mulawToLinear(linearToMulaw(sample))
		diff := int(got) - int(sample)
		if diff < 0 {
			diff = -diff
		}
		// mu-law keeps roughly 4 significant bits per segment.
		limit := int(sample) / 16
		if limit < 0 {
			limit = -limit
		}
		if limit < 8 {
			limit = 8
		}
		if diff > limit {
			t.Errorf("Expected %d to survive within %d, got %d", sample, limit, got)
		}
	}
}

func TestMulaw_KnownValues(t *testing.T) {
	if b := linearToMulaw(0); b != 0xFF {
		t.Errorf("Expected silence to encode as 0xFF, got %#x", b)
	}
	if v := mulawToLinear(0xFF); v != 0 {
		t.Errorf("Expected 0xFF to decode as 0, got %d", v)
	}
	if v := mulawToLinear(0x00); v != -32124 {
		t.Errorf("Expected 0x00 to decode as -32124, got %d", v)
	}
}

func TestConvert_TelephonyToRecognition(t *testing.T) {
	in := bytes.Repeat([]byte{0xFF}, 80)

	out, err := Convert(in, TelephonyFormat, RecognitionFormat)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// 80 samples at 8 kHz become 160 samples of 2 bytes at 16 kHz.
	if len(out) != 320 {
		t.Errorf("Expected 320 bytes, got %d", len(out))
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("Expected silence, got %d at %d", b, i)
		}
	}
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		from, to Format
	}{
		{"odd pcm length", []byte{1, 2, 3}, RecognitionFormat, TelephonyFormat},
		{"stereo", []byte{1, 2}, Format{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 2}, RecognitionFormat},
		{"zero rate", []byte{1, 2}, RecognitionFormat, Format{Encoding: EncodingMulaw, Channels: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Convert(tt.data, tt.from, tt.to); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestConvertingReader_CarriesOddBytes(t *testing.T) {
	pcm := SamplesToBytes([]int16{0, 1000, -1000, 0, 500, -500})
	src := io.MultiReader(bytes.NewReader(pcm[:3]), bytes.NewReader(pcm[3:]))

	r, err := NewConvertingReader(src, RecognitionFormat, Format{Encoding: EncodingMulaw, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(out) != 6 {
		t.Errorf("Expected 6 mu-law bytes, got %d", len(out))
	}
}

func TestFormat_AudioInfo(t *testing.T) {
	info := TelephonyFormat.AudioInfo()
	if info.Source.SamplesPerSec != 8000 || info.Source.BitsPerSample != 8 || info.Source.Channels != 1 {
		t.Errorf("Unexpected audio info: %+v", info.Source)
	}
}

func TestParseEncoding(t *testing.T) {
	if e, err := ParseEncoding("pcmu"); err != nil || e != EncodingMulaw {
		t.Errorf("Expected mulaw, got %v (%v)", e, err)
	}
	if _, err := ParseEncoding("flac"); err == nil {
		t.Error("Expected error for unknown encoding")
	}
}
