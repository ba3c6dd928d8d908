// Package main implements contractd, the contract field extraction service
// and its command-line tools.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	contracts "github.com/vivaneiona/genkit-contracts"
	"github.com/vivaneiona/genkit-contracts/assets"
)

const appName = "contract-extractor"

var (
	// version information
	version = "dev"

	configPath string
	assetsDir  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "contractd",
	Short: "Extract structured fields from contract documents",
	Long: `contractd extracts parties, amounts, VAT and dates from contract text.
Deterministic rules run first; configured fields are then extracted by a
language model, one call per field group, and the result is validated
against a JSON Schema.

Configuration comes from built-in defaults, an optional YAML file and the
environment (OLLAMA_HOST, MODEL, USE_LLM, TEMPERATURE, ...).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&assetsDir, "assets", "", "directory replacing the embedded schema, routing and prompts")
	rootCmd.AddCommand(serveCmd, extractCmd, planCmd, modelsCmd)
}

// env bundles what every command needs.
type env struct {
	cfg      *contracts.Config
	log      *slog.Logger
	registry *prometheus.Registry
	pipeline *contracts.Pipeline
}

// setup loads the configuration, installs the logger and builds the pipeline.
func setup(ctx context.Context) (*env, error) {
	var file []byte
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		file = data
	}
	cfg, err := contracts.LoadConfig(file)
	if err != nil {
		return nil, err
	}
	if assetsDir != "" {
		cfg.Assets.Dir = assetsDir
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	var fsys fs.FS = assets.FS
	if cfg.Assets.Dir != "" {
		fsys = os.DirFS(cfg.Assets.Dir)
	}

	client, err := newChatClient(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p, err := contracts.LoadPipeline(fsys, client,
		contracts.WithConfig(*cfg),
		contracts.WithPipelineLogger(log),
		contracts.WithPipelineMetrics(contracts.NewMetrics(registry)),
	)
	if err != nil {
		return nil, err
	}
	log.Debug("pipeline ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"use_llm", cfg.Pipeline.UseLLM,
		"assets", cfg.Assets.Dir)
	return &env{cfg: cfg, log: log, registry: registry, pipeline: p}, nil
}

func newLogger(cfg contracts.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})), nil
}

// newChatClient connects the configured backend. Throttling and retries wrap
// it when configured.
func newChatClient(ctx context.Context, cfg *contracts.Config, log *slog.Logger) (contracts.ChatClient, error) {
	var client contracts.ChatClient
	switch cfg.LLM.Provider {
	case contracts.ProviderGemini:
		gc, err := genai.NewClient(ctx, &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  cfg.LLM.APIKey,
		})
		if err != nil {
			return nil, &contracts.ConfigError{Field: "llm.api_key", Err: err}
		}
		client = contracts.NewGeminiClient(gc, cfg.LLM.Model, log)
	default:
		oc, err := contracts.NewOllamaClient(cfg.LLM.Host, cfg.LLM.Model, cfg.LLM.ReadTimeout, contracts.WithOllamaLogger(log))
		if err != nil {
			return nil, err
		}
		client = oc
	}
	if cfg.LLM.RateLimit > 0 || cfg.LLM.MaxRetries > 0 {
		client = contracts.NewThrottledClient(client, cfg.LLM.RateLimit, cfg.LLM.MaxRetries, cfg.LLM.Backoff, log)
	}
	return client, nil
}
