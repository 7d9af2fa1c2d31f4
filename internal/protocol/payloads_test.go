package protocol

import (
	"strings"
	"testing"
)

func TestNewJSONMessage_DecodeBody(t *testing.T) {
	ctx := &SpeechContext{DynamicGrammar: &DynamicGrammar{}}
	ctx.DynamicGrammar.AddPhrases("Contoso", "Fabrikam")

	msg, err := NewJSONMessage(PathSpeechContext, "req1", ctx)
	if err != nil {
		t.Fatalf("NewJSONMessage() failed: %v", err)
	}
	if msg.Headers.Value(HeaderContentType) != ContentTypeJSON {
		t.Errorf("content type = %q", msg.Headers.Value(HeaderContentType))
	}
	if !strings.Contains(msg.Text, `"Items":[{"Text":"Contoso"},{"Text":"Fabrikam"}]`) {
		t.Errorf("unexpected body %s", msg.Text)
	}

	var got SpeechContext
	if err := DecodeBody(msg, &got); err != nil {
		t.Fatalf("DecodeBody() failed: %v", err)
	}
	if got.DynamicGrammar == nil || len(got.DynamicGrammar.Groups) != 1 || len(got.DynamicGrammar.Groups[0].Items) != 2 {
		t.Errorf("decoded grammar = %+v", got.DynamicGrammar)
	}
}

func TestDecodeBody_SpeechPhrase(t *testing.T) {
	msg := NewTextMessage(PathSpeechPhrase, "req1", ContentTypeJSON,
		`{"RecognitionStatus":"Success","DisplayText":"Hello world.","Offset":500000,"Duration":12300000,"NBest":[{"Confidence":0.93,"Display":"Hello world."}]}`)

	var phrase SpeechPhrase
	if err := DecodeBody(msg, &phrase); err != nil {
		t.Fatalf("DecodeBody() failed: %v", err)
	}
	if phrase.DisplayText != "Hello world." {
		t.Errorf("DisplayText = %q", phrase.DisplayText)
	}
	if phrase.RecognitionStatus.IsError() {
		t.Error("Expected Success to not be an error status")
	}
	if phrase.Confidence() != 0.93 {
		t.Errorf("Confidence() = %v, want 0.93", phrase.Confidence())
	}
}

func TestDecodeBody_RejectsBinaryAndBadJSON(t *testing.T) {
	if err := DecodeBody(NewAudioMessage("r", []byte{1}), &SpeechPhrase{}); err == nil {
		t.Error("Expected error decoding binary message")
	}
	if err := DecodeBody(NewTextMessage(PathSpeechPhrase, "r", ContentTypeJSON, "{"), &SpeechPhrase{}); err == nil {
		t.Error("Expected error decoding truncated JSON")
	}
}

func TestRecognitionStatus_IsError(t *testing.T) {
	tests := []struct {
		status RecognitionStatus
		want   bool
	}{
		{StatusSuccess, false},
		{StatusNoMatch, false},
		{StatusInitialSilenceTimeout, false},
		{StatusEndOfDictation, false},
		{StatusError, true},
		{StatusBadRequest, true},
		{StatusForbidden, true},
		{StatusTooManyRequests, true},
		{StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsError(); got != tt.want {
				t.Errorf("IsError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDynamicGrammar_Empty(t *testing.T) {
	var g *DynamicGrammar
	if !g.Empty() {
		t.Error("Expected nil grammar to be empty")
	}
	g = &DynamicGrammar{}
	g.AddPhrases()
	if !g.Empty() {
		t.Error("Expected grammar without phrases to be empty")
	}
	g.AddPhrases("one")
	if g.Empty() {
		t.Error("Expected grammar with phrases to not be empty")
	}
}
