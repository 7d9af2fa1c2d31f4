package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/speech-sdk/internal/properties"
)

// SessionDefaults are the process-wide knobs every session reads at
// construction.
type SessionDefaults struct {
	DisableTelemetry  bool          `envconfig:"SPEECH_TELEMETRY_DISABLED" default:"false"`
	AudioChunkSize    int           `envconfig:"SPEECH_AUDIO_CHUNK_SIZE" default:"3200"` // bytes per audio frame
	AwaitFinalTimeout time.Duration `envconfig:"SPEECH_AWAIT_FINAL_TIMEOUT" default:"30s"`

	// Connection setup
	ConnectMaxAttempts int           `envconfig:"SPEECH_CONNECT_MAX_ATTEMPTS" default:"2"` // 2 = one retry
	ConnectBackoff     time.Duration `envconfig:"SPEECH_CONNECT_BACKOFF" default:"250ms"`
	HandshakeTimeout   time.Duration `envconfig:"SPEECH_HANDSHAKE_TIMEOUT" default:"10s"`
	ReconnectBackoff   time.Duration `envconfig:"SPEECH_RECONNECT_BACKOFF" default:"500ms"`

	// Consecutive malformed frames tolerated before the connection is dropped.
	MaxFramingErrors int `envconfig:"SPEECH_MAX_FRAMING_ERRORS" default:"3"`

	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`
}

// DefaultSessionDefaults returns the same values Load would produce from an
// empty environment.
func DefaultSessionDefaults() SessionDefaults {
	return SessionDefaults{
		AudioChunkSize:             3200,
		AwaitFinalTimeout:          30 * time.Second,
		ConnectMaxAttempts:         2,
		ConnectBackoff:             250 * time.Millisecond,
		HandshakeTimeout:           10 * time.Second,
		ReconnectBackoff:           500 * time.Millisecond,
		MaxFramingErrors:           3,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30 * time.Second,
	}
}

// WithFallbacks returns d with every zero or negative field replaced by its
// default, so a partly filled struct keeps the connect retry, framing
// teardown and circuit breaker.
func (d SessionDefaults) WithFallbacks() SessionDefaults {
	def := DefaultSessionDefaults()
	if d.AudioChunkSize <= 0 {
		d.AudioChunkSize = def.AudioChunkSize
	}
	if d.AwaitFinalTimeout <= 0 {
		d.AwaitFinalTimeout = def.AwaitFinalTimeout
	}
	if d.ConnectMaxAttempts <= 0 {
		d.ConnectMaxAttempts = def.ConnectMaxAttempts
	}
	if d.ConnectBackoff <= 0 {
		d.ConnectBackoff = def.ConnectBackoff
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = def.HandshakeTimeout
	}
	if d.ReconnectBackoff <= 0 {
		d.ReconnectBackoff = def.ReconnectBackoff
	}
	if d.MaxFramingErrors <= 0 {
		d.MaxFramingErrors = def.MaxFramingErrors
	}
	if d.CircuitBreakerMaxFailures <= 0 {
		d.CircuitBreakerMaxFailures = def.CircuitBreakerMaxFailures
	}
	if d.CircuitBreakerResetTimeout <= 0 {
		d.CircuitBreakerResetTimeout = def.CircuitBreakerResetTimeout
	}
	return d
}

// Config holds all configuration for speechctl
type Config struct {
	SessionDefaults

	// Service credentials and location
	SubscriptionKey string `envconfig:"SPEECH_KEY"`
	AuthToken       string `envconfig:"SPEECH_AUTH_TOKEN"`
	Region          string `envconfig:"SPEECH_REGION"`
	Endpoint        string `envconfig:"SPEECH_ENDPOINT"` // full wss:// URL, overrides region
	Host            string `envconfig:"SPEECH_HOST"`     // scheme://host[:port], overrides region
	Language        string `envconfig:"SPEECH_LANGUAGE" default:"en-US"`
	// Exchange the key for short-lived tokens instead of sending it on
	// every connection
	ExchangeKeyForToken bool `envconfig:"SPEECH_USE_TOKEN" default:"false"`

	// Optional YAML file of extra properties merged over the above
	PropertiesFile string `envconfig:"PROPERTIES_FILE"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // console output for development
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"` // serve /metrics, /health, /ready
	MetricsAddr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that credentials and a service location are present.
func (c *Config) Validate() error {
	if c.SubscriptionKey == "" && c.AuthToken == "" {
		return fmt.Errorf("SPEECH_KEY or SPEECH_AUTH_TOKEN is required")
	}
	if c.Region == "" && c.Host == "" && c.Endpoint == "" {
		return fmt.Errorf("one of SPEECH_REGION, SPEECH_HOST or SPEECH_ENDPOINT is required")
	}
	if c.AudioChunkSize <= 0 {
		return fmt.Errorf("SPEECH_AUDIO_CHUNK_SIZE must be positive")
	}
	if c.ConnectMaxAttempts < 1 {
		return fmt.Errorf("SPEECH_CONNECT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// Properties converts the configuration into a property collection, merging
// PropertiesFile on top when set.
func (c *Config) Properties() (*properties.Collection, error) {
	props := properties.NewCollection()
	props.Set(properties.SubscriptionKey, c.SubscriptionKey)
	props.Set(properties.AuthToken, c.AuthToken)
	props.Set(properties.Region, c.Region)
	props.Set(properties.Endpoint, c.Endpoint)
	props.Set(properties.Host, c.Host)
	props.Set(properties.RecognitionLanguage, c.Language)

	if c.PropertiesFile != "" {
		if err := props.LoadYAMLFile(c.PropertiesFile); err != nil {
			return nil, err
		}
	}
	return props, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
