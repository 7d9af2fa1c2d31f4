package audio

import (
	"fmt"
	"io"

	"github.com/lexiqai/speech-sdk/internal/protocol"
)

// Encoding of raw audio samples.
type Encoding int

const (
	// EncodingPCM16 is signed 16-bit little-endian linear PCM.
	EncodingPCM16 Encoding = iota
	// EncodingMulaw is 8-bit G.711 PCMU.
	EncodingMulaw
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingMulaw:
		return "mulaw"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// ParseEncoding accepts the names String returns.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "pcm16", "pcm", "":
		return EncodingPCM16, nil
	case "mulaw", "pcmu", "ulaw":
		return EncodingMulaw, nil
	}
	return 0, fmt.Errorf("unknown audio encoding %q", s)
}

// Format describes mono or interleaved audio.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

var (
	// RecognitionFormat is what the service expects by default.
	RecognitionFormat = Format{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 1}
	// TelephonyFormat is 8 kHz mu-law as carried by phone media streams.
	TelephonyFormat = Format{Encoding: EncodingMulaw, SampleRate: 8000, Channels: 1}
)

// BytesPerSample is the size of one sample of one channel.
func (f Format) BytesPerSample() int {
	if f.Encoding == EncodingMulaw {
		return 1
	}
	return 2
}

// BitsPerSample is what speech.config reports.
func (f Format) BitsPerSample() int {
	return f.BytesPerSample() * 8
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("only mono audio is supported, got %d channels", f.Channels)
	}
	return nil
}

// AudioInfo describes f in speech.config.
func (f Format) AudioInfo() *protocol.AudioInfo {
	return &protocol.AudioInfo{Source: protocol.AudioSourceInfo{
		Type:          "Stream",
		SamplesPerSec: f.SampleRate,
		BitsPerSample: f.BitsPerSample(),
		Channels:      f.Channels,
	}}
}

// Convert transcodes data between two mono formats.
func Convert(data []byte, from, to Format) ([]byte, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return data, nil
	}

	var samples []int16
	switch from.Encoding {
	case EncodingMulaw:
		samples = make([]int16, len(data))
		for i, b := range data {
			samples[i] = mulawToLinear(b)
		}
	default:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
		}
		samples = BytesToSamples(data)
	}

	samples = resample(samples, from.SampleRate, to.SampleRate)

	if to.Encoding == EncodingMulaw {
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = linearToMulaw(s)
		}
		return out, nil
	}
	return SamplesToBytes(samples), nil
}

// BytesToSamples reads little-endian 16-bit samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes writes little-endian 16-bit samples.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// resample uses linear interpolation.
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]int16, int(float64(len(samples))*ratio))
	last := len(samples) - 1
	for i := range output {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= last {
			output[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		output[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return output
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// linearToMulaw encodes one sample with G.711 PCMU.
func linearToMulaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// mulawToLinear decodes one G.711 PCMU byte.
func mulawToLinear(b byte) int16 {
	b = ^b
	exponent := int32((b >> 4) & 0x07)
	mantissa := int32(b & 0x0F)
	magnitude := ((mantissa << 3) + mulawBias) << exponent
	magnitude -= mulawBias
	if b&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// convertingReader transcodes another reader block by block.
type convertingReader struct {
	src      io.Reader
	from, to Format
	in       []byte
	carry    []byte
	out      []byte
	err      error
}

// NewConvertingReader returns a Source that yields src's audio in the to
// format. Resampling is done per block, which is adequate for speech.
func NewConvertingReader(src io.Reader, from, to Format) (Source, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return src, nil
	}
	// 100 ms of input per block.
	block := from.SampleRate / 10 * from.BytesPerSample()
	return &convertingReader{src: src, from: from, to: to, in: make([]byte, block)}, nil
}

func (r *convertingReader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.src.Read(r.in)
		if n > 0 {
			data := append(r.carry, r.in[:n]...)
			whole := len(data) - len(data)%r.from.BytesPerSample()
			r.carry = append([]byte(nil), data[whole:]...)
			out, cerr := Convert(data[:whole], r.from, r.to)
			if cerr != nil {
				return 0, cerr
			}
			r.out = out
		}
		if err != nil {
			r.err = err
		}
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}
