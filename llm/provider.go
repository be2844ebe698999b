package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // openai, openrouter, local, ollama
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// Timeout bounds one HTTP request. Defaults to 120s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Default base URLs.
const (
	OpenAIBaseURL     = "https://api.openai.com"
	OpenRouterBaseURL = "https://openrouter.ai/api"
	LocalBaseURL      = "http://localhost:1234"
	OllamaBaseURL     = "http://localhost:11434"
)

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL == "" {
			cfg.BaseURL = OpenAIBaseURL
		}
		return &openAICompatProvider{base: newClient(cfg, logger)}, nil
	case "openrouter":
		if cfg.BaseURL == "" {
			cfg.BaseURL = OpenRouterBaseURL
		}
		return &openAICompatProvider{base: newClient(cfg, logger)}, nil
	case "local":
		if cfg.BaseURL == "" {
			cfg.BaseURL = LocalBaseURL
		}
		// Local servers accept any key.
		if cfg.APIKey == "" {
			cfg.APIKey = "local"
		}
		return &openAICompatProvider{base: newClient(cfg, logger)}, nil
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = OllamaBaseURL
		}
		return &ollamaProvider{base: newClient(cfg, logger)}, nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

type openAICompatProvider struct {
	base *client
}

func (p *openAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *openAICompatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
