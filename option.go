package realtime

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/simliai/openai-realtime-api-beta/tool"
)

const (
	ApiKeyEnvVarNameShort = "OPENAI_KEY"
	ApiKeyEnvVarNameLong  = "OPENAI_API_KEY"
)

const (
	defaultURL   = "wss://api.openai.com/v1/realtime"
	defaultModel = "gpt-4o-realtime-preview-2024-10-01"
)

type clientConfig struct {
	url         string
	apiKey      string
	model       string
	logger      *slog.Logger
	sessionOpts []SessionOption
	tools       []tool.Registration
	audioIO     bool
	sampleRate  int
	latencyMS   int
}

func (c *clientConfig) latency() time.Duration {
	return time.Duration(c.latencyMS) * time.Millisecond
}

func (c *clientConfig) validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("missing api key")
	}
	return nil
}

type ClientOption func(*clientConfig)

func newClientConfig(opts ...ClientOption) *clientConfig {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)
	return config
}

func WithOptions(opts ...ClientOption) ClientOption {
	return func(c *clientConfig) {
		for _, opt := range opts {
			opt(c)
		}
	}
}

func withDefaults() ClientOption {
	return WithOptions(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithURL(defaultURL),
		WithModel(defaultModel),
		WithSampleRate(DefaultFrequency),
		WithLatency(200),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
	)
}

func WithURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.url = url
	}
}

func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		c.model = model
	}
}

func WithKey(apiKey string) ClientOption {
	return func(c *clientConfig) {
		c.apiKey = apiKey
	}
}

// WithEnvKey reads the api key from the first non-empty environment variable.
func WithEnvKey(vars ...string) ClientOption {
	return func(c *clientConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				c.apiKey = k
				return
			}
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

func WithDefaultLogger() ClientOption {
	return WithLogger(slog.Default())
}

// WithSession applies session configuration at construction time, on top of
// the protocol defaults.
func WithSession(opts ...SessionOption) ClientOption {
	return func(c *clientConfig) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// WithTools pre-registers tools on the client.
func WithTools(tools ...tool.Registration) ClientOption {
	return func(c *clientConfig) {
		c.tools = append(c.tools, tools...)
	}
}

// WithAudioIO enables the streaming audio endpoints, resampling between the
// given device sample rate and the protocol's 24kHz.
func WithAudioIO(sampleRate int) ClientOption {
	return func(c *clientConfig) {
		c.audioIO = true
		c.sampleRate = sampleRate
	}
}

func WithSampleRate(sr int) ClientOption {
	return func(c *clientConfig) {
		c.sampleRate = sr
	}
}

// WithLatency sets the audio chunking latency in milliseconds.
func WithLatency(latencyMS int) ClientOption {
	return func(c *clientConfig) {
		c.latencyMS = latencyMS
	}
}
