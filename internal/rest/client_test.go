package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/speech-sdk/internal/connection"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/resilience"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, auth *connection.Authenticator) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(properties.NewCollection(), auth, WithBaseURL(srv.URL), WithRetry(fastRetry()))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return c
}

func TestListVoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/voices/list" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get(connection.HeaderSubscriptionKey); got != "secret" {
			t.Errorf("Expected subscription key header, got %q", got)
		}
		w.Write([]byte(`[{"ShortName":"en-US-JennyNeural","Locale":"en-US","Gender":"Female","StyleList":["cheerful"]},{"ShortName":"de-DE-KatjaNeural","Locale":"de-DE"}]`))
	}, connection.NewKeyAuthenticator("secret"))

	voices, err := c.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() failed: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("Expected 2 voices, got %d", len(voices))
	}
	if voices[0].ShortName != "en-US-JennyNeural" || voices[0].StyleList[0] != "cheerful" {
		t.Errorf("Unexpected first voice: %+v", voices[0])
	}
}

func TestListVoices_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  speecherr.Code
		wantCat   speecherr.Category
		wantCalls int32
	}{
		{"unauthorized", http.StatusUnauthorized, speecherr.CodeAuthenticationFailed, speecherr.AuthenticationFailure, 1},
		{"forbidden", http.StatusForbidden, speecherr.CodeServiceError, speecherr.Forbidden, 1},
		{"bad request", http.StatusBadRequest, speecherr.CodeServiceError, speecherr.BadRequest, 1},
		{"throttled is retried", http.StatusTooManyRequests, speecherr.CodeServiceError, speecherr.TooManyRequests, 3},
		{"server error is retried", http.StatusBadGateway, speecherr.CodeServiceError, speecherr.ServiceUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}, connection.NewKeyAuthenticator("secret"))

			_, err := c.ListVoices(context.Background())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if got := speecherr.CodeOf(err); got != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, got)
			}
			if got := speecherr.CategoryOf(err); got != tt.wantCat {
				t.Errorf("Expected category %s, got %s", tt.wantCat, got)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestListVoices_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}, connection.NewKeyAuthenticator("secret"))

	voices, err := c.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if len(voices) != 0 {
		t.Errorf("Expected no voices, got %d", len(voices))
	}
}

func TestTokenFetcher_FeedsAuthenticator(t *testing.T) {
	var issued atomic.Int32
	var auth *connection.Authenticator
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sts/v1.0/issueToken":
			if r.Method != http.MethodPost {
				t.Errorf("Expected POST, got %s", r.Method)
			}
			if r.Header.Get(connection.HeaderSubscriptionKey) != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			issued.Add(1)
			w.Write([]byte("token-1\n"))
		case "/cognitiveservices/voices/list":
			if got := r.Header.Get(connection.HeaderAuthorization); got != "Bearer token-1" {
				t.Errorf("Expected bearer token, got %q", got)
			}
			w.Write([]byte(`[]`))
		}
	}, nil)

	auth = connection.NewFetchingAuthenticator(c.TokenFetcher("secret"))
	c.auth = auth

	for i := 0; i < 3; i++ {
		if _, err := c.ListVoices(context.Background()); err != nil {
			t.Fatalf("ListVoices() failed: %v", err)
		}
	}
	if issued.Load() != 1 {
		t.Errorf("Expected one issued token to be cached, got %d", issued.Load())
	}
}

func TestIssueToken_BadKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	_, err := c.IssueToken(context.Background(), "wrong")
	if !errors.Is(err, speecherr.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestNewClient_Hosts(t *testing.T) {
	props := properties.NewCollection()
	props.Set(properties.Region, "chinaeast2")
	c, err := NewClient(props, nil)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	if c.ttsBase != "https://chinaeast2.tts.speech.azure.cn" {
		t.Errorf("Unexpected tts base %s", c.ttsBase)
	}
	if c.stsBase != "https://chinaeast2.api.cognitive.azure.cn" {
		t.Errorf("Unexpected sts base %s", c.stsBase)
	}

	if _, err := NewClient(properties.NewCollection(), nil); err == nil {
		t.Error("Expected error without region or host")
	}
}
