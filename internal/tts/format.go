package tts

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexiqai/speech-sdk/internal/audio"
)

// riffHeaderSize is the canonical WAV header the service puts in front of
// riff-* output.
const riffHeaderSize = 44

// OutputFormat is a parsed service output format name such as
// "raw-16khz-16bit-mono-pcm".
type OutputFormat struct {
	Name   string
	Format audio.Format
	// RIFF is set when the stream starts with a WAV header.
	RIFF bool
}

// ParseOutputFormat understands the raw and riff PCM and mu-law names.
func ParseOutputFormat(name string) (OutputFormat, error) {
	parts := strings.Split(strings.ToLower(name), "-")
	if len(parts) != 5 {
		return OutputFormat{}, fmt.Errorf("unsupported output format %q", name)
	}
	out := OutputFormat{Name: name}

	switch parts[0] {
	case "raw":
	case "riff":
		out.RIFF = true
	default:
		return OutputFormat{}, fmt.Errorf("unsupported container in output format %q", name)
	}

	rate, err := parseRate(parts[1])
	if err != nil {
		return OutputFormat{}, fmt.Errorf("output format %q: %w", name, err)
	}

	switch {
	case parts[2] == "16bit" && parts[4] == "pcm":
		out.Format.Encoding = audio.EncodingPCM16
	case parts[2] == "8bit" && parts[4] == "mulaw":
		out.Format.Encoding = audio.EncodingMulaw
	default:
		return OutputFormat{}, fmt.Errorf("unsupported encoding in output format %q", name)
	}
	if parts[3] != "mono" {
		return OutputFormat{}, fmt.Errorf("only mono output formats are supported, got %q", name)
	}

	out.Format.SampleRate = rate
	out.Format.Channels = 1
	return out, nil
}

func parseRate(s string) (int, error) {
	mult := 1
	switch {
	case strings.HasSuffix(s, "khz"):
		s, mult = strings.TrimSuffix(s, "khz"), 1000
	case strings.HasSuffix(s, "hz"):
		s = strings.TrimSuffix(s, "hz")
	default:
		return 0, fmt.Errorf("bad sample rate %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad sample rate %q", s)
	}
	return n * mult, nil
}

// BuildSSML wraps plain text in a speak element for voice. Text that is
// already SSML is returned as is.
func BuildSSML(text, language, voice string) string {
	if strings.HasPrefix(strings.TrimSpace(text), "<speak") {
		return text
	}
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(text))

	if language == "" {
		language = "en-US"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>", language)
	if voice != "" {
		fmt.Fprintf(&b, "<voice name='%s'>%s</voice>", voice, escaped.String())
	} else {
		b.WriteString(escaped.String())
	}
	b.WriteString("</speak>")
	return b.String()
}
