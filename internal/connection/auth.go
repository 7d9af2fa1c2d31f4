package connection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

const (
	HeaderSubscriptionKey = "Ocp-Apim-Subscription-Key"
	HeaderAuthorization   = "Authorization"
)

// TokenFetcher obtains a bearer token. ttl <= 0 means the token is not
// cached.
type TokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// Authenticator produces the auth header for a connection: a subscription
// key when one is configured, otherwise a bearer token. Never both.
type Authenticator struct {
	key     string
	fetcher TokenFetcher

	group singleflight.Group

	mu       sync.Mutex
	token    string
	expireAt time.Time
	margin   time.Duration
}

// NewKeyAuthenticator authenticates with a subscription key.
func NewKeyAuthenticator(key string) *Authenticator {
	return &Authenticator{key: key}
}

// NewTokenAuthenticator authenticates with a fixed token. SetToken replaces
// it.
func NewTokenAuthenticator(token string) *Authenticator {
	return &Authenticator{token: token}
}

// NewFetchingAuthenticator calls fetch for tokens, sharing one call among
// concurrent connects and caching the result until shortly before it
// expires.
func NewFetchingAuthenticator(fetch TokenFetcher) *Authenticator {
	return &Authenticator{fetcher: fetch, margin: 30 * time.Second}
}

// AuthenticatorFromProperties builds an authenticator from the key and token
// properties, falling back to fetch. The key takes precedence over any
// token source.
func AuthenticatorFromProperties(props properties.Bag, fetch TokenFetcher) (*Authenticator, error) {
	if key := props.Get(properties.SubscriptionKey, ""); key != "" {
		return NewKeyAuthenticator(key), nil
	}
	if token := props.Get(properties.AuthToken, ""); token != "" {
		a := NewTokenAuthenticator(token)
		a.fetcher = fetch
		a.margin = 30 * time.Second
		return a, nil
	}
	if fetch != nil {
		return NewFetchingAuthenticator(fetch), nil
	}
	return nil, speecherr.InvalidArgument("no subscription key, token or token fetcher configured")
}

// UsesKey reports whether the subscription key header is emitted.
func (a *Authenticator) UsesKey() bool {
	return a.key != ""
}

// SetToken replaces the bearer token, e.g. after the caller refreshed it.
// A token without expiry is used until replaced or invalidated.
func (a *Authenticator) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.expireAt = time.Time{}
}

// Invalidate drops a cached token so the next Headers call fetches anew.
// A fixed token without a fetcher is kept.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetcher != nil {
		a.token = ""
		a.expireAt = time.Time{}
	}
}

// Headers returns the auth header set for a new connection.
func (a *Authenticator) Headers(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	if err := a.Apply(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Apply sets the auth header on h.
func (a *Authenticator) Apply(ctx context.Context, h http.Header) error {
	if a.key != "" {
		h.Set(HeaderSubscriptionKey, a.key)
		h.Del(HeaderAuthorization)
		return nil
	}

	token, err := a.Token(ctx)
	if err != nil {
		return err
	}
	h.Set(HeaderAuthorization, "Bearer "+token)
	h.Del(HeaderSubscriptionKey)
	return nil
}

// Token returns a usable bearer token, fetching one if needed.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	token, expireAt, fetcher := a.token, a.expireAt, a.fetcher
	a.mu.Unlock()

	if token != "" && (expireAt.IsZero() || time.Now().Before(expireAt)) {
		return token, nil
	}
	if fetcher == nil {
		return "", speecherr.Authentication(nil, "no authorization token available")
	}

	v, err, _ := a.group.Do("token", func() (interface{}, error) {
		a.mu.Lock()
		if a.token != "" && !a.expireAt.IsZero() && time.Now().Before(a.expireAt) {
			tok := a.token
			a.mu.Unlock()
			return tok, nil
		}
		a.mu.Unlock()

		tok, ttl, err := fetcher(ctx)
		if err != nil {
			return "", err
		}
		if tok == "" {
			return "", speecherr.Authentication(nil, "token fetcher returned an empty token")
		}

		a.mu.Lock()
		a.token = tok
		a.expireAt = time.Time{}
		if ttl > 0 {
			a.expireAt = time.Now().Add(ttl - a.margin)
		}
		a.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		if speecherr.CodeOf(err) == speecherr.CodeAuthenticationFailed {
			return "", err
		}
		return "", speecherr.Authentication(err, "failed to fetch authorization token")
	}
	return v.(string), nil
}
