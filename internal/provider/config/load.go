package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			d.Duration = 0
			return nil
		}
		if dd, err := time.ParseDuration(s); err == nil {
			d.Duration = dd
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			d.Duration = time.Duration(n)
			return nil
		}
		return fmt.Errorf("duration must look like \"5s\" or be int nanoseconds, got %q", s)
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	return errors.New("duration must be a string like \"5s\" or an int")
}

func defaultConfig() *Config {
	cfg := &Config{
		Retry: RetryConfig{
			MaxRetries:  1,
			BackoffBase: Duration{Duration: 500 * time.Millisecond},
			BackoffCap:  Duration{Duration: 10 * time.Second},
		},
	}

	// With no config file, a single OpenAI-compatible backend is built from
	// the environment; without credentials we fall back to the mock backend
	// so local development works out of the box.
	if base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); base != "" || os.Getenv("OPENAI_API_KEY") != "" {
		if base == "" {
			base = "https://api.openai.com"
		}
		model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
		if model == "" {
			model = "gpt-4o-mini"
		}
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:      "openai",
			Type:      "oai_http",
			BaseURL:   base,
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     model,
		})
	} else {
		cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "mock", Type: "mock"})
	}
	return cfg
}

// Load reads the provider chain from PF_PROVIDERS_PATH (YAML), falling back
// to an environment-derived single backend.
func Load() (*Config, error) {
	cfgPath := strings.TrimSpace(os.Getenv("PF_PROVIDERS_PATH"))
	if cfgPath == "" {
		return validate(defaultConfig())
	}

	b, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, err
	}
	var loaded Config
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return nil, err
	}
	return validate(&loaded)
}

func validate(cfg *Config) (*Config, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("provider config must define at least one backend")
	}

	if cfg.Retry.MaxRetries < 0 {
		return nil, errors.New("retry.max_retries must not be negative")
	}
	if cfg.Retry.BackoffBase.Duration <= 0 {
		cfg.Retry.BackoffBase = Duration{Duration: 500 * time.Millisecond}
	}
	if cfg.Retry.BackoffCap.Duration <= 0 {
		cfg.Retry.BackoffCap = Duration{Duration: 10 * time.Second}
	}

	seen := map[string]bool{}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		if p.Name == "" {
			return nil, fmt.Errorf("provider %d missing name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case "mock":
		case "oai_http", "openai_http":
			p.Type = "oai_http"
			p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
			if p.BaseURL == "" {
				return nil, fmt.Errorf("provider %q (oai_http) missing base_url", p.Name)
			}
			if strings.TrimSpace(p.Model) == "" {
				return nil, fmt.Errorf("provider %q (oai_http) missing model", p.Name)
			}
			if strings.TrimSpace(p.ChatCompletionsPath) == "" {
				p.ChatCompletionsPath = "/v1/chat/completions"
			}
			if p.Timeout.Duration <= 0 {
				p.Timeout = Duration{Duration: 60 * time.Second}
			}
			if p.StreamTimeout.Duration < 0 {
				return nil, fmt.Errorf("provider %q invalid stream_timeout", p.Name)
			}
			if env := strings.TrimSpace(p.APIKeyEnv); env != "" && p.APIKey == "" {
				p.APIKey = os.Getenv(env)
			}
		default:
			return nil, fmt.Errorf("unsupported provider type %q for %q", p.Type, p.Name)
		}
	}

	return cfg, nil
}
