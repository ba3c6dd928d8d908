package contracts

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Inference backends.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Config is the process configuration. It is passed explicitly to every
// component that needs it; nothing reads the environment after LoadConfig.
type Config struct {
	Env      string         `koanf:"env" json:"env"`
	LLM      LLMConfig      `koanf:"llm" json:"llm"`
	Pipeline PipelineConfig `koanf:"pipeline" json:"pipeline"`
	Assets   AssetsConfig   `koanf:"assets" json:"assets"`
	HTTP     HTTPConfig     `koanf:"http" json:"http"`
	Log      LogConfig      `koanf:"log" json:"log"`
}

// LLMConfig configures the inference service.
type LLMConfig struct {
	Provider    string        `koanf:"provider" json:"provider"`
	Host        string        `koanf:"host" json:"host"`
	Model       string        `koanf:"model" json:"model"`
	APIKey      string        `koanf:"api_key" json:"api_key,omitempty"`
	Temperature float64       `koanf:"temperature" json:"temperature"`
	MaxTokens   int           `koanf:"max_tokens" json:"max_tokens"`
	ReadTimeout time.Duration `koanf:"read_timeout" json:"read_timeout"`
	RateLimit   float64       `koanf:"rate_limit" json:"rate_limit"`
	MaxRetries  int           `koanf:"max_retries" json:"max_retries"`
	Backoff     time.Duration `koanf:"backoff" json:"backoff"`
}

type PipelineConfig struct {
	UseLLM           bool    `koanf:"use_llm" json:"use_llm"`
	SummaryPass      bool    `koanf:"summary_pass" json:"summary_pass"`
	NumericTolerance float64 `koanf:"numeric_tolerance" json:"numeric_tolerance"`
}

// AssetsConfig points at an on-disk replacement of the embedded assets.
type AssetsConfig struct {
	Dir string `koanf:"dir" json:"dir"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" json:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

const defaultConfigYAML = `
env: dev
llm:
  provider: ollama
  host: http://ollama:11434
  model: qwen2.5:7b-instruct
  temperature: 0.1
  max_tokens: 1024
  read_timeout: 300s
  rate_limit: 0
  max_retries: 0
  backoff: 1s
pipeline:
  use_llm: true
  summary_pass: false
  numeric_tolerance: 0.01
assets:
  dir: ""
http:
  addr: ":8000"
log:
  level: info
  format: text
`

// envKeys maps the deployment's environment variables to config keys.
var envKeys = map[string]string{
	"OLLAMA_HOST":         "llm.host",
	"MODEL":               "llm.model",
	"LLM_PROVIDER":        "llm.provider",
	"GEMINI_API_KEY":      "llm.api_key",
	"TEMPERATURE":         "llm.temperature",
	"MAX_TOKENS":          "llm.max_tokens",
	"OLLAMA_READ_TIMEOUT": "llm.read_timeout",
	"LLM_RATE_LIMIT":      "llm.rate_limit",
	"LLM_MAX_RETRIES":     "llm.max_retries",
	"USE_LLM":             "pipeline.use_llm",
	"SUMMARY_PASS":        "pipeline.summary_pass",
	"NUMERIC_TOLERANCE":   "pipeline.numeric_tolerance",
	"ASSETS_DIR":          "assets.dir",
	"HTTP_ADDR":           "http.addr",
	"LOG_LEVEL":           "log.level",
	"LOG_FORMAT":          "log.format",
	"ENV":                 "env",
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(defaultConfigYAML)), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("contracts: default config: %v", err))
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("contracts: default config: %v", err))
	}
	return cfg
}

// LoadConfig layers the defaults, an optional YAML document and the
// environment, in that order of precedence, and validates the result.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (OLLAMA_HOST, MODEL, USE_LLM, ...)
//  2. YAML document (file may be nil)
//  3. Built-in defaults
func LoadConfig(file []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(defaultConfigYAML)), yaml.Parser()); err != nil {
		return nil, &ConfigError{Source: "defaults", Err: err}
	}
	if len(file) > 0 {
		if err := k.Load(rawbytes.Provider(file), yaml.Parser()); err != nil {
			return nil, &ConfigError{Source: "config file", Err: err}
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, &ConfigError{Source: "environment", Err: err}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &ConfigError{Source: "config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps a known variable to its key; unknown variables are skipped.
func envValue(name, value string) (string, any) {
	key, ok := envKeys[name]
	if !ok {
		return "", nil
	}
	switch key {
	case "llm.read_timeout":
		// Plain numbers are seconds.
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return key, value + "s"
		}
	case "pipeline.use_llm", "pipeline.summary_pass":
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return key, true
		case "0", "false", "no", "off", "":
			return key, false
		}
	}
	return key, value
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOllama, ProviderGemini:
	default:
		return &ConfigError{Field: "llm.provider", Err: fmt.Errorf("unknown provider %q", c.LLM.Provider)}
	}
	if c.LLM.Provider == ProviderOllama && c.LLM.Host == "" {
		return &ConfigError{Field: "llm.host", Err: errors.New("must not be empty")}
	}
	if c.LLM.MaxTokens <= 0 {
		return &ConfigError{Field: "llm.max_tokens", Err: fmt.Errorf("must be positive, got %d", c.LLM.MaxTokens)}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return &ConfigError{Field: "llm.temperature", Err: fmt.Errorf("must be within [0, 2], got %g", c.LLM.Temperature)}
	}
	if c.LLM.ReadTimeout <= 0 {
		return &ConfigError{Field: "llm.read_timeout", Err: errors.New("must be positive")}
	}
	if c.LLM.MaxRetries < 0 {
		return &ConfigError{Field: "llm.max_retries", Err: errors.New("must not be negative")}
	}
	if c.Pipeline.NumericTolerance < 0 {
		return &ConfigError{Field: "pipeline.numeric_tolerance", Err: errors.New("must not be negative")}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return &ConfigError{Field: "log.level", Err: err}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return &ConfigError{Field: "log.format", Err: fmt.Errorf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}

// Public returns a copy safe to expose over HTTP.
func (c *Config) Public() Config {
	out := *c
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "***"
	}
	return out
}
