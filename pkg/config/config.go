package config

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/integrail/persona-lab/pkg/agency"
	"github.com/integrail/persona-lab/pkg/llm"
	"github.com/integrail/persona-lab/pkg/search"
	"github.com/integrail/persona-lab/pkg/util"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	EnvURL         = "OLLAMA_BASE_URL"
	EnvModel       = "OLLAMA_MODEL"
	EnvAPIKey      = "OLLAMA_API_KEY"
	EnvProvider    = "PERSONA_LAB_PROVIDER"
	EnvTimeout     = "PERSONA_LAB_TIMEOUT"
	EnvMaxAttempts = "PERSONA_LAB_MAX_ATTEMPTS"
)

type Config struct {
	Provider      string          `json:"provider" yaml:"provider"`
	Url           string          `json:"url" yaml:"url"`
	ApiKey        string          `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model         string          `json:"model" yaml:"model"`
	Route         llm.Route       `json:"route" yaml:"route"`
	Timeout       time.Duration   `json:"timeout" yaml:"timeout"` // per attempt
	Retry         llm.RetryPolicy `json:"retry" yaml:"retry"`
	Options       []string        `json:"options,omitempty" yaml:"options,omitempty"` // key=value generation options
	Stream        bool            `json:"stream" yaml:"stream"`
	StripThinking bool            `json:"stripThinking" yaml:"stripThinking"`
	Concurrency   int             `json:"concurrency" yaml:"concurrency"`
	SearchRegion  string          `json:"searchRegion,omitempty" yaml:"searchRegion,omitempty"`
	Trace         bool            `json:"trace" yaml:"trace"`
	Debug         bool            `json:"debug" yaml:"debug"`
}

// FromEnv loads .env when present and returns the defaults overridden by the environment.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{
		Provider:      getEnvOrDefault(EnvProvider, ProviderOllama),
		Url:           getEnvOrDefault(EnvURL, llm.DefaultOllamaURL),
		ApiKey:        os.Getenv(EnvAPIKey),
		Model:         getEnvOrDefault(EnvModel, llm.DefaultModel),
		Route:         llm.RouteChat,
		Timeout:       llm.DefaultTimeout,
		Retry:         llm.DefaultRetryPolicy(),
		StripThinking: true,
		Concurrency:   agency.DefaultConcurrency,
	}
	if d, err := time.ParseDuration(os.Getenv(EnvTimeout)); err == nil {
		cfg.Timeout = d
	}
	if n, err := strconv.Atoi(os.Getenv(EnvMaxAttempts)); err == nil {
		cfg.Retry.MaxAttempts = n
	}
	return cfg
}

func (c Config) Validate() error {
	if c.Provider != ProviderOllama && c.Provider != ProviderOpenAI {
		return errors.Errorf("unknown provider %q, expected %s or %s", c.Provider, ProviderOllama, ProviderOpenAI)
	}
	u, err := url.Parse(c.Url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("invalid url %q: expected http(s)://host[:port]", c.Url)
	}
	if c.Model == "" {
		return errors.Errorf("model is required")
	}
	if c.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Concurrency < 1 {
		return errors.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if _, err := util.ParseOptions(c.Options); err != nil {
		return errors.Wrapf(err, "invalid generation option")
	}
	return nil
}

// GenerationOptions returns the typed key=value options.
func (c Config) GenerationOptions() (map[string]any, error) {
	return util.ParseOptions(c.Options)
}

// NewClient builds the text-generation client of the configured provider.
func (c Config) NewClient(log *slog.Logger, opts ...llm.Option) (llm.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Provider == ProviderOpenAI {
		return llm.NewOpenAI(log, llm.OpenAIConfig{
			Url:     c.Url,
			Token:   c.ApiKey,
			Model:   c.Model,
			Timeout: c.Timeout,
			Retry:   c.Retry,
		}, opts...)
	}
	return llm.NewOllama(log, llm.OllamaConfig{
		Url:           c.Url,
		ApiKey:        c.ApiKey,
		Model:         c.Model,
		Route:         c.Route,
		Timeout:       c.Timeout,
		Retry:         c.Retry,
		StripThinking: c.StripThinking,
	}, opts...)
}

// NewSearchTool builds the DuckDuckGo-backed research tool.
func (c Config) NewSearchTool(log *slog.Logger) (*search.Tool, error) {
	ddg, err := search.NewDuckDuckGo(log, search.Config{Region: c.SearchRegion})
	if err != nil {
		return nil, err
	}
	return search.NewTool(log, ddg, search.DefaultMaxResults), nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
