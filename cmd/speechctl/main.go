package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-sdk/internal/config"
	"github.com/lexiqai/speech-sdk/internal/connection"
	"github.com/lexiqai/speech-sdk/internal/events"
	"github.com/lexiqai/speech-sdk/internal/observability"
	"github.com/lexiqai/speech-sdk/internal/properties"
	"github.com/lexiqai/speech-sdk/internal/rest"
	"github.com/lexiqai/speech-sdk/internal/session"
	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

const usage = `usage: speechctl <command> [flags]

commands:
  recognize    transcribe (or translate) audio from a file or stdin
  synthesize   speak text into an audio file
  voices       list the voices available to the credentials
  bridge       serve phone media streams and write back transcripts

Credentials and location come from SPEECH_KEY / SPEECH_AUTH_TOKEN and
SPEECH_REGION / SPEECH_HOST / SPEECH_ENDPOINT, or a .env file.
`

// app is what every command shares.
type app struct {
	cfg    *config.Config
	props  *properties.Collection
	auth   *connection.Authenticator
	logger zerolog.Logger
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		server := a.startMetricsServer()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "recognize":
		err = a.runRecognize(ctx, args)
	case "synthesize":
		err = a.runSynthesize(ctx, args)
	case "voices":
		err = a.runVoices(ctx, args)
	case "bridge":
		err = a.runBridge(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().
			Err(err).
			Str("command", cmd).
			Str("category", speecherr.CategoryOf(err).String()).
			Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	props, err := cfg.Properties()
	if err != nil {
		return nil, err
	}

	var fetch connection.TokenFetcher
	if cfg.SubscriptionKey != "" && cfg.ExchangeKeyForToken {
		client, err := rest.NewClient(props, nil, rest.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		fetch = client.TokenFetcher(cfg.SubscriptionKey)
		// The key must not reach the connection headers in token mode.
		props.Set(properties.SubscriptionKey, "")
	}

	auth, err := connection.AuthenticatorFromProperties(props, fetch)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, props: props, auth: auth, logger: logger}, nil
}

// newSession builds a session for scenario and logs its connection
// lifecycle.
func (a *app) newSession(scenario connection.Scenario, mode session.Mode, opts session.Options) (*session.Session, error) {
	opts.Factory = connection.NewFactory(scenario,
		connection.WithHandshakeTimeout(a.cfg.HandshakeTimeout),
		connection.WithLogger(a.logger),
	)
	opts.Auth = a.auth
	opts.Props = a.props
	opts.Defaults = a.cfg.SessionDefaults
	opts.Mode = mode
	opts.Logger = a.logger

	sess, err := session.New(opts)
	if err != nil {
		return nil, err
	}
	sess.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.Connected, events.Disconnected, events.ConnectionFailed:
			ev := a.logger.Debug()
			if e.Type == events.ConnectionFailed {
				ev = a.logger.Warn().Err(e.Err)
			}
			ev.Str("event", string(e.Type)).
				Str("connection_id", e.ConnectionID).
				Int("status", e.StatusCode).
				Str("reason", e.Reason).
				Msg("Connection event")
		}
	})
	return sess, nil
}

func (a *app) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler("speechctl", session.SDKVersion))
	mux.HandleFunc("/ready", observability.ReadinessHandler("speechctl", session.SDKVersion, map[string]observability.HealthCheckFunc{
		"credentials": func(ctx context.Context) (bool, error) {
			if _, err := a.auth.Headers(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"endpoint": func(ctx context.Context) (bool, error) {
			if _, err := (connection.SpeechScenario{}).BuildEndpoint(a.props); err != nil {
				return false, err
			}
			return true, nil
		},
	}))

	server := &http.Server{
		Addr:         a.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return server
}
