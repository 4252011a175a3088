package config

import "time"

type Duration struct {
	Duration time.Duration
}

type RetryConfig struct {
	// MaxRetries is the number of additional attempts per backend when an
	// error is classified as retryable. Total attempts = 1 + MaxRetries.
	MaxRetries int `yaml:"max_retries"`

	BackoffBase Duration `yaml:"backoff_base"`
	BackoffCap  Duration `yaml:"backoff_cap"`
}

type ProviderConfig struct {
	// Name identifies the backend in logs and persisted attempt metadata.
	Name string `yaml:"name"`

	Type string `yaml:"type"` // oai_http | mock

	// BaseURL is the upstream base URL (for "oai_http" backends).
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey is optional; when set, requests carry `Authorization: Bearer`.
	// APIKeyEnv names an environment variable to read instead, keeping
	// secrets out of the config file.
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	Model string `yaml:"model,omitempty"`

	ChatCompletionsPath string `yaml:"chat_completions_path,omitempty"`

	// Timeout bounds the initial call; StreamTimeout bounds the whole
	// streamed response (0 means rely on caller cancellation).
	Timeout       Duration `yaml:"timeout,omitempty"`
	StreamTimeout Duration `yaml:"stream_timeout,omitempty"`
}

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Retry     RetryConfig      `yaml:"retry"`
}
