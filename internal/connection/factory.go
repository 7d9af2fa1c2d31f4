// Package connection turns a scenario, a property set and credentials into
// an unopened transport aimed at the right service endpoint.
package connection

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/protocol"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
	"github.com/lexiqai/speech-sdk/internal/transport"
)

// TransportFunc builds an unopened transport. The default builds a
// WebSocket.
type TransportFunc func(connectionID, url string, header http.Header) transport.Transport

// Factory creates transports for one scenario.
type Factory struct {
	scenario         Scenario
	handshakeTimeout time.Duration
	logger           zerolog.Logger
	newTransport     TransportFunc
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

func WithHandshakeTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.handshakeTimeout = d }
}

func WithLogger(logger zerolog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithTransport replaces the WebSocket transport, e.g. with a fake in tests.
func WithTransport(fn TransportFunc) FactoryOption {
	return func(f *Factory) { f.newTransport = fn }
}

func NewFactory(scenario Scenario, opts ...FactoryOption) *Factory {
	f := &Factory{
		scenario:         scenario,
		handshakeTimeout: 10 * time.Second,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.newTransport == nil {
		f.newTransport = func(connectionID, url string, header http.Header) transport.Transport {
			return transport.NewWebSocket(connectionID, url, transport.WebSocketOptions{
				Header:           header,
				HandshakeTimeout: f.handshakeTimeout,
				Logger:           f.logger,
			})
		}
	}
	return f
}

func (f *Factory) Scenario() Scenario { return f.scenario }

// Request is everything the factory resolved for one connection.
type Request struct {
	ConnectionID string
	URL          string
	Header       http.Header
}

// Prepare resolves the endpoint and headers without creating a transport.
// An empty connectionID is replaced by the ConnectionID property or a
// fresh id.
func (f *Factory) Prepare(ctx context.Context, props properties.Bag, auth *Authenticator, connectionID string) (*Request, error) {
	if connectionID == "" {
		connectionID = props.Get(properties.ConnectionID, "")
	}
	if connectionID == "" {
		connectionID = observability.NewConnectionID()
	}

	u, err := f.scenario.BuildEndpoint(props)
	if err != nil {
		return nil, err
	}

	if auth == nil {
		return nil, speecherr.InvalidArgument("connection %s has no authenticator", connectionID)
	}
	header := http.Header{}
	if err := auth.Apply(ctx, header); err != nil {
		return nil, err
	}
	header.Set(protocol.HeaderConnectionID, connectionID)

	return &Request{ConnectionID: connectionID, URL: u.String(), Header: header}, nil
}

// Create builds an unopened transport for the scenario.
func (f *Factory) Create(ctx context.Context, props properties.Bag, auth *Authenticator, connectionID string) (transport.Transport, error) {
	req, err := f.Prepare(ctx, props, auth, connectionID)
	if err != nil {
		return nil, err
	}

	return f.NewTransport(req), nil
}

// NewTransport builds an unopened transport for an already prepared
// request. Connection retries reuse one request.
func (f *Factory) NewTransport(req *Request) transport.Transport {
	f.logger.Debug().
		Str("connection_id", req.ConnectionID).
		Str("scenario", f.scenario.Kind().String()).
		Msg("Creating connection")
	return f.newTransport(req.ConnectionID, req.URL, req.Header)
}
