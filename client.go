package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ChatRequest is one "prompt in, text out" call to the inference service.
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// ModelInfo describes a model served by the inference backend.
type ModelInfo struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	ModifiedAt  time.Time `json:"modified_at,omitzero"`
}

// ChatClient is the transport to the inference service. Implementations
// report connect, timeout and HTTP failures as *InferenceError.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

const ollamaConnectTimeout = 10 * time.Second

// OllamaClient talks to an Ollama server. Chat goes through langchaingo's
// /api/chat binding and falls back to /api/generate for servers that predate
// the chat API.
type OllamaClient struct {
	baseURL string
	model   string
	http    *http.Client
	llm     *ollama.LLM
	log     *slog.Logger
}

type OllamaOption func(*OllamaClient)

// WithOllamaHTTPClient replaces the HTTP client, mostly for tests.
func WithOllamaHTTPClient(c *http.Client) OllamaOption {
	return func(o *OllamaClient) { o.http = c }
}

func WithOllamaLogger(log *slog.Logger) OllamaOption {
	return func(o *OllamaClient) {
		if log != nil {
			o.log = log
		}
	}
}

// NewOllamaClient connects lazily; no request is made until the first call.
func NewOllamaClient(baseURL, model string, readTimeout time.Duration, opts ...OllamaOption) (*OllamaClient, error) {
	c := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		log:     slog.Default(),
		http: &http.Client{
			Timeout: readTimeout + ollamaConnectTimeout,
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: ollamaConnectTimeout}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	llm, err := ollama.New(
		ollama.WithServerURL(c.baseURL),
		ollama.WithModel(model),
		ollama.WithHTTPClient(c.http),
	)
	if err != nil {
		return nil, &ConfigError{Field: "llm.host", Err: err}
	}
	c.llm = llm
	return c, nil
}

func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	c.log.Debug("ollama chat", "model", c.model, "prompt_length", len(req.User))
	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, req.System),
			llms.TextParts(llms.ChatMessageTypeHuman, req.User),
		},
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			// Old servers answer unknown routes with a plain-text 404 page.
			c.log.Debug("chat API unavailable, falling back to generate", "error", err)
			return c.generate(ctx, req)
		}
		return "", &InferenceError{Backend: "ollama", Op: "chat", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

func (c *OllamaClient) generate(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		System: req.System,
		Prompt: req.User,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/generate", body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// ListModels returns the models installed on the server (/api/tags).
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *OllamaClient) do(ctx context.Context, method, path string, body []byte, dst any) error {
	op := strings.TrimPrefix(path, "/api/")
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return &InferenceError{Backend: "ollama", Op: op, Err: err}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &InferenceError{Backend: "ollama", Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &InferenceError{Backend: "ollama", Op: op, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &InferenceError{
			Backend:    "ollama",
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(data))),
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &InferenceError{Backend: "ollama", Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// GeminiClient sends chats to the Gemini API through the google genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

// NewGeminiClient wraps an initialized genai client.
func NewGeminiClient(client *genai.Client, model string, log *slog.Logger) *GeminiClient {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GeminiClient{client: client, model: model, log: log}
}

func (g *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if g.client == nil {
		return "", &InferenceError{Backend: "gemini", Op: "chat", Err: errors.New("client not initialized")}
	}

	// Create generation config for JSON output
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	temp := float32(req.Temperature)
	config.Temperature = &temp
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	g.log.Debug("Generating content", "model", g.model, "prompt_length", len(req.User))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.User), config)
	if err != nil {
		ie := &InferenceError{Backend: "gemini", Op: "chat", Err: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			ie.StatusCode = apiErr.Code
		}
		return "", ie
	}
	text := resp.Text()
	g.log.Debug("Generated content successfully", "response_length", len(text))
	return text, nil
}

func (g *GeminiClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if g.client == nil {
		return nil, &InferenceError{Backend: "gemini", Op: "models", Err: errors.New("client not initialized")}
	}
	var out []ModelInfo
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, &InferenceError{Backend: "gemini", Op: "models", Err: err}
		}
		out = append(out, ModelInfo{Name: m.Name, DisplayName: m.DisplayName})
	}
	return out, nil
}

// ThrottledClient bounds the request rate to the wrapped client and retries
// failed chats with exponential backoff.
type ThrottledClient struct {
	next       ChatClient
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
}

// NewThrottledClient allows rps requests per second (0 or less disables the
// limit) and up to maxRetries retries per chat.
func NewThrottledClient(next ChatClient, rps float64, maxRetries int, backoff time.Duration, log *slog.Logger) *ThrottledClient {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &ThrottledClient{
		next:       next,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log,
	}
}

func (t *ThrottledClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var out string
	err := retryable(ctx, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return &InferenceError{Backend: "throttle", Op: "wait", Err: err}
		}
		var err error
		out, err = t.next.Chat(ctx, req)
		return err
	}, t.maxRetries, t.backoff, t.log)
	return out, err
}

func (t *ThrottledClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &InferenceError{Backend: "throttle", Op: "wait", Err: err}
	}
	return t.next.ListModels(ctx)
}

// retryable executes a function with exponential backoff retry logic
func retryable(ctx context.Context, call func() error, max int, backoff time.Duration, log *slog.Logger) error {
	if max <= 0 {
		return call() // no retry
	}

	delay := backoff
	for i := 0; i <= max; i++ {
		err := call()
		if err == nil {
			if i > 0 {
				log.Debug("Attempt succeeded", "attempt", i+1)
			}
			return nil
		}
		if i == max || ctx.Err() != nil {
			log.Debug("Final attempt failed", "attempt", i+1, "error", err)
			return err
		}
		log.Debug("Attempt failed, retrying", "attempt", i+1, "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil
}
