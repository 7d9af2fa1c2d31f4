package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexiqai/speech-sdk/internal/properties"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SPEECH_KEY", "test-key")
	t.Setenv("SPEECH_REGION", "westus")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SubscriptionKey != "test-key" {
		t.Errorf("Expected SubscriptionKey 'test-key', got '%s'", cfg.SubscriptionKey)
	}
	if cfg.Region != "westus" {
		t.Errorf("Expected Region 'westus', got '%s'", cfg.Region)
	}
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no credentials", map[string]string{"SPEECH_REGION": "westus"}},
		{"no location", map[string]string{"SPEECH_KEY": "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"SPEECH_KEY", "SPEECH_AUTH_TOKEN", "SPEECH_REGION", "SPEECH_HOST", "SPEECH_ENDPOINT"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := LoadFromEnv(); err == nil {
				t.Error("Expected error when required settings are missing")
			}
		})
	}
}

func TestLoadFromEnv_DefaultsMatchSessionDefaults(t *testing.T) {
	t.Setenv("SPEECH_AUTH_TOKEN", "token")
	t.Setenv("SPEECH_HOST", "wss://localhost:8443")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SessionDefaults != DefaultSessionDefaults() {
		t.Errorf("Expected env defaults %+v to match DefaultSessionDefaults %+v", cfg.SessionDefaults, DefaultSessionDefaults())
	}
	if cfg.Language != "en-US" {
		t.Errorf("Expected default Language 'en-US', got '%s'", cfg.Language)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SPEECH_KEY", "k")
	t.Setenv("SPEECH_REGION", "usgovvirginia")
	t.Setenv("SPEECH_AWAIT_FINAL_TIMEOUT", "5s")
	t.Setenv("SPEECH_TELEMETRY_DISABLED", "true")
	t.Setenv("SPEECH_CONNECT_MAX_ATTEMPTS", "1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.AwaitFinalTimeout != 5*time.Second {
		t.Errorf("Expected AwaitFinalTimeout 5s, got %v", cfg.AwaitFinalTimeout)
	}
	if !cfg.DisableTelemetry {
		t.Error("Expected telemetry to be disabled")
	}
	if cfg.ConnectMaxAttempts != 1 {
		t.Errorf("Expected ConnectMaxAttempts 1, got %d", cfg.ConnectMaxAttempts)
	}
}

func TestConfig_Properties(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "props.yaml")
	if err := os.WriteFile(file, []byte("SpeechServiceConnection_RecoLanguage: de-DE\nSpeechServiceResponse_ProfanityOption: masked\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{
		SessionDefaults: DefaultSessionDefaults(),
		SubscriptionKey: "k",
		Region:          "westeurope",
		Language:        "en-US",
		PropertiesFile:  file,
	}
	props, err := cfg.Properties()
	if err != nil {
		t.Fatalf("Properties() failed: %v", err)
	}

	if got := props.Get(properties.RecognitionLanguage, ""); got != "de-DE" {
		t.Errorf("Expected file to override language, got %s", got)
	}
	if got := props.Get(properties.Region, ""); got != "westeurope" {
		t.Errorf("Expected region westeurope, got %s", got)
	}
	if props.Has(properties.AuthToken) {
		t.Error("Expected unset token to stay unset")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SPEECH_TEST_VAR", "value")
	if GetEnv("SPEECH_TEST_VAR", "default") != "value" {
		t.Error("Expected set value")
	}
	if GetEnv("SPEECH_TEST_UNSET_VAR", "default") != "default" {
		t.Error("Expected default value")
	}
}

func TestSessionDefaults_WithFallbacks(t *testing.T) {
	def := DefaultSessionDefaults()

	tests := []struct {
		name  string
		input SessionDefaults
		check func(t *testing.T, got SessionDefaults)
	}{
		{
			name:  "zero value becomes defaults",
			input: SessionDefaults{},
			check: func(t *testing.T, got SessionDefaults) {
				if got != def {
					t.Errorf("Expected %+v, got %+v", def, got)
				}
			},
		},
		{
			name:  "explicit fields are kept",
			input: SessionDefaults{AudioChunkSize: 640, ConnectMaxAttempts: 1},
			check: func(t *testing.T, got SessionDefaults) {
				if got.AudioChunkSize != 640 || got.ConnectMaxAttempts != 1 {
					t.Errorf("Expected explicit values kept, got %+v", got)
				}
				if got.MaxFramingErrors != def.MaxFramingErrors {
					t.Errorf("Expected MaxFramingErrors %d, got %d", def.MaxFramingErrors, got.MaxFramingErrors)
				}
				if got.CircuitBreakerMaxFailures != def.CircuitBreakerMaxFailures {
					t.Errorf("Expected CircuitBreakerMaxFailures %d, got %d", def.CircuitBreakerMaxFailures, got.CircuitBreakerMaxFailures)
				}
			},
		},
		{
			name:  "telemetry opt-out survives",
			input: SessionDefaults{DisableTelemetry: true},
			check: func(t *testing.T, got SessionDefaults) {
				if !got.DisableTelemetry {
					t.Error("Expected telemetry to stay disabled")
				}
				if got.ConnectMaxAttempts != def.ConnectMaxAttempts {
					t.Errorf("Expected ConnectMaxAttempts %d, got %d", def.ConnectMaxAttempts, got.ConnectMaxAttempts)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.input.WithFallbacks())
		})
	}
}
