// Package rest covers the service's plain HTTP endpoints: voice listing
// and token issuance. It authenticates the same way WebSocket connections
// do.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/connection"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/resilience"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// TokenTTL is how long an issued token is valid.
const TokenTTL = 10 * time.Minute

// Voice is one entry of the voice list.
type Voice struct {
	Name            string   `json:"Name"`
	DisplayName     string   `json:"DisplayName"`
	LocalName       string   `json:"LocalName"`
	ShortName       string   `json:"ShortName"`
	Gender          string   `json:"Gender"`
	Locale          string   `json:"Locale"`
	LocaleName      string   `json:"LocaleName"`
	SampleRateHertz string   `json:"SampleRateHertz"`
	VoiceType       string   `json:"VoiceType"`
	Status          string   `json:"Status"`
	StyleList       []string `json:"StyleList,omitempty"`
}

// Client talks to the REST endpoints of one region.
type Client struct {
	http     *http.Client
	auth     *connection.Authenticator
	ttsBase  string
	stsBase  string
	retryCfg *resilience.RetryConfig
	logger   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with a 30s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithBaseURL sends both voice and token requests to base.
func WithBaseURL(base string) Option {
	return func(cl *Client) {
		base = strings.TrimRight(base, "/")
		cl.ttsBase, cl.stsBase = base, base
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(cl *Client) { cl.retryCfg = cfg }
}

// NewClient derives the REST hosts from the region, or from the Host
// property when set. auth may be nil for IssueToken only use.
func NewClient(props properties.Bag, auth *connection.Authenticator, opts ...Option) (*Client, error) {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		auth:     auth,
		retryCfg: resilience.DefaultRetryConfig(),
		logger:   zerolog.Nop(),
	}

	switch {
	case props.Get(properties.Host, "") != "":
		base := strings.TrimRight(props.Get(properties.Host, ""), "/")
		base = strings.Replace(strings.Replace(base, "wss://", "https://", 1), "ws://", "http://", 1)
		c.ttsBase, c.stsBase = base, base
	case props.Get(properties.Region, "") != "":
		region := props.Get(properties.Region, "")
		suffix := connection.HostSuffix(region)
		c.ttsBase = fmt.Sprintf("https://%s.tts.speech%s", region, suffix)
		c.stsBase = fmt.Sprintf("https://%s.api.cognitive%s", region, suffix)
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.ttsBase == "" {
		return nil, speecherr.InvalidArgument("REST client needs a region or host")
	}
	c.logger = c.logger.With().Str("component", "rest").Logger()
	return c, nil
}

// ListVoices returns the voices available to the credentials.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	if c.auth == nil {
		return nil, speecherr.InvalidArgument("listing voices needs an authenticator")
	}

	var voices []Voice
	err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ttsBase+"/cognitiveservices/voices/list", nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if err := c.auth.Apply(ctx, req.Header); err != nil {
			return err
		}

		body, err := c.do(req)
		if err != nil {
			if speecherr.CodeOf(err) == speecherr.CodeAuthenticationFailed {
				c.auth.Invalidate()
			}
			return err
		}
		voices = voices[:0]
		if err := json.Unmarshal(body, &voices); err != nil {
			return speecherr.Service(speecherr.ServiceError, "malformed voice list: %v", err)
		}
		return nil
	}, c.retryCfg, resilience.IsRetryable)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("voices", len(voices)).Msg("Listed voices")
	return voices, nil
}

// IssueToken exchanges a subscription key for a short-lived bearer token.
func (c *Client) IssueToken(ctx context.Context, key string) (string, error) {
	var token string
	err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stsBase+"/sts/v1.0/issueToken", nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set(connection.HeaderSubscriptionKey, key)

		body, err := c.do(req)
		if err != nil {
			return err
		}
		token = strings.TrimSpace(string(body))
		return nil
	}, c.retryCfg, resilience.IsRetryable)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", speecherr.Authentication(nil, "token service returned an empty token")
	}
	return token, nil
}

// TokenFetcher adapts IssueToken for connection.NewFetchingAuthenticator.
func (c *Client) TokenFetcher(key string) connection.TokenFetcher {
	return func(ctx context.Context) (string, time.Duration, error) {
		token, err := c.IssueToken(ctx, key)
		if err != nil {
			return "", 0, err
		}
		return token, TokenTTL, nil
	}
}

// do sends req and maps the status to the error taxonomy. 429 and 5xx
// are marked retryable.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, resilience.NewRetryableError(speecherr.ConnectionFailed(err, "%s %s failed", req.Method, req.URL.Path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resilience.NewRetryableError(speecherr.ConnectionFailed(err, "failed to read response"))
	}

	c.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("REST request")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, speecherr.Authentication(nil, "HTTP %d: %s", resp.StatusCode, snippet(body))
	case resp.StatusCode == http.StatusForbidden:
		return nil, speecherr.Service(speecherr.Forbidden, "HTTP %d: %s", resp.StatusCode, snippet(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.NewRetryableError(speecherr.Service(speecherr.TooManyRequests, "HTTP %d: %s", resp.StatusCode, snippet(body)))
	case resp.StatusCode >= 500:
		return nil, resilience.NewRetryableError(speecherr.Service(speecherr.ServiceUnavailable, "HTTP %d: %s", resp.StatusCode, snippet(body)))
	default:
		return nil, speecherr.Service(speecherr.BadRequest, "HTTP %d: %s", resp.StatusCode, snippet(body))
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
