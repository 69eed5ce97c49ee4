// Package config loads receptionist service settings from the environment.
// Required provider credentials are validated at startup: a missing value is
// fatal, never discovered mid-call.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variable names.
const (
	EnvTelephonyConnectionString = "ACS_CONNECTION_STRING"
	EnvOpenAIEndpoint            = "AZURE_OPENAI_ENDPOINT"
	EnvOpenAIKey                 = "AZURE_OPENAI_KEY"
	EnvSpeechKey                 = "AZURE_SPEECH_KEY"
	EnvSpeechRegion              = "AZURE_SPEECH_REGION"
	EnvCallbackHost              = "CALLBACK_URI_HOST"
)

// Defaults.
const (
	DefaultModel    = "gpt-4o-mini"
	DefaultLogLevel = "info"
	DefaultHTTPPort = 8000
	CallbackPath    = "/api/callbacks"
)

// ErrMissingEnv is returned when a required environment variable is absent.
var ErrMissingEnv = errors.New("config: required environment variable not set")

// Config holds all service settings.
type Config struct {
	// Telephony (call automation platform)
	TelephonyConnectionString string

	// Generative text provider
	OpenAIEndpoint string
	OpenAIKey      string
	Model          string

	// Speech synthesis
	SpeechKey    string
	SpeechRegion string

	// CallbackHost is the public base URL the telephony platform posts
	// in-call events to, e.g. https://receptionist.example.com
	CallbackHost string

	// LogLevel for internal/log.Init.
	LogLevel string
}

// Load reads settings from the environment. It returns an error naming every
// missing required variable so operators can fix them in one pass.
func Load() (*Config, error) {
	cfg := &Config{
		TelephonyConnectionString: os.Getenv(EnvTelephonyConnectionString),
		OpenAIEndpoint:            os.Getenv(EnvOpenAIEndpoint),
		OpenAIKey:                 os.Getenv(EnvOpenAIKey),
		SpeechKey:                 os.Getenv(EnvSpeechKey),
		SpeechRegion:              os.Getenv(EnvSpeechRegion),
		CallbackHost:              strings.TrimSuffix(os.Getenv(EnvCallbackHost), "/"),
		Model:                     DefaultModel,
		LogLevel:                  DefaultLogLevel,
	}

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.Model = model
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	var missing []string
	for _, v := range []struct {
		name, value string
	}{
		{EnvTelephonyConnectionString, cfg.TelephonyConnectionString},
		{EnvOpenAIEndpoint, cfg.OpenAIEndpoint},
		{EnvOpenAIKey, cfg.OpenAIKey},
		{EnvSpeechKey, cfg.SpeechKey},
		{EnvSpeechRegion, cfg.SpeechRegion},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// MustLoad loads settings and exits the process when required values are
// missing. Use from main only.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: set the provider credentials and restart, e.g.")
		fmt.Fprintf(os.Stderr, "  %s=... %s=... go run ./cmd/receptionist\n",
			EnvTelephonyConnectionString, EnvOpenAIKey)
		os.Exit(1)
	}
	return cfg
}

// CallbackURI returns the full in-call event callback URL.
func (c *Config) CallbackURI() string {
	return c.CallbackHost + CallbackPath
}

// TelephonyConfigured reports whether telephony credentials are present.
func (c *Config) TelephonyConfigured() bool {
	return c.TelephonyConnectionString != ""
}

// OpenAIConfigured reports whether generative-text credentials are present.
func (c *Config) OpenAIConfigured() bool {
	return c.OpenAIKey != "" && c.OpenAIEndpoint != ""
}
