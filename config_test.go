package contracts

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.Host)
	assert.Equal(t, "qwen2.5:7b-instruct", cfg.LLM.Model)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 300*time.Second, cfg.LLM.ReadTimeout)
	assert.Equal(t, time.Second, cfg.LLM.Backoff)
	assert.True(t, cfg.Pipeline.UseLLM)
	assert.False(t, cfg.Pipeline.SummaryPass)
	assert.Equal(t, 0.01, cfg.Pipeline.NumericTolerance)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Precedence(t *testing.T) {
	file := []byte(`
llm:
  model: llama3:8b
  max_tokens: 2048
  read_timeout: 60s
pipeline:
  summary_pass: true
log:
  level: debug
`)
	t.Setenv("MODEL", "qwen2.5:14b")
	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	t.Setenv("USE_LLM", "0")
	t.Setenv("OLLAMA_READ_TIMEOUT", "120")
	t.Setenv("TEMPERATURE", "0.5")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5:14b", cfg.LLM.Model, "environment beats file")
	assert.Equal(t, "http://localhost:11434", cfg.LLM.Host)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens, "file beats defaults")
	assert.Equal(t, 120*time.Second, cfg.LLM.ReadTimeout, "plain numbers are seconds")
	assert.Equal(t, 0.5, cfg.LLM.Temperature)
	assert.False(t, cfg.Pipeline.UseLLM)
	assert.True(t, cfg.Pipeline.SummaryPass)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_BooleanSpellings(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "yes": true, "On": true, "true": true, "0": false, "off": false, "": false} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("SUMMARY_PASS", value)
			cfg, err := LoadConfig(nil)
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Pipeline.SummaryPass)
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]struct {
		env   map[string]string
		file  string
		field string
	}{
		"provider":    {env: map[string]string{"LLM_PROVIDER": "openai"}, field: "llm.provider"},
		"max tokens":  {env: map[string]string{"MAX_TOKENS": "0"}, field: "llm.max_tokens"},
		"temperature": {env: map[string]string{"TEMPERATURE": "3"}, field: "llm.temperature"},
		"host":        {file: "llm:\n  host: \"\"\n", field: "llm.host"},
		"retries":     {env: map[string]string{"LLM_MAX_RETRIES": "-1"}, field: "llm.max_retries"},
		"tolerance":   {env: map[string]string{"NUMERIC_TOLERANCE": "-0.5"}, field: "pipeline.numeric_tolerance"},
		"log level":   {env: map[string]string{"LOG_LEVEL": "loud"}, field: "log.level"},
		"log format":  {env: map[string]string{"LOG_FORMAT": "xml"}, field: "log.format"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig([]byte(tt.file))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadConfig_MalformedInputs(t *testing.T) {
	_, err := LoadConfig([]byte("llm: [unclosed"))
	assert.ErrorIs(t, err, ErrConfig)

	t.Setenv("MAX_TOKENS", "many")
	_, err = LoadConfig(nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestConfig_Public(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "secret")
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.LLM.APIKey)

	pub := cfg.Public()
	assert.Equal(t, "***", pub.LLM.APIKey)
	assert.Equal(t, "secret", cfg.LLM.APIKey, "the original is untouched")

	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestLogConfig_SlogLevel(t *testing.T) {
	lvl, err := LogConfig{Level: "warn"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = LogConfig{Level: "chatty"}.SlogLevel()
	assert.Error(t, err)
}
