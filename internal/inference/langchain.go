package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// LangChainModel drives any langchaingo model, in practice a local Ollama.
type LangChainModel struct {
	llm         llms.Model
	temperature float64
}

func NewLangChainModel(llm llms.Model, temperature float64) *LangChainModel {
	return &LangChainModel{llm: llm, temperature: temperature}
}

func NewOllamaModel(serverURL, model string, temperature float64) (*LangChainModel, error) {
	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return NewLangChainModel(llm, temperature), nil
}

func (m *LangChainModel) Infer(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt.User))

	resp, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(m.temperature))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

type EmbedderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// NewEmbedder builds a langchaingo embedder for the configured provider.
func NewEmbedder(cfg EmbedderConfig) (embeddings.Embedder, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "ollama":
		llm, err := ollama.New(ollama.WithServerURL(cfg.BaseURL), ollama.WithModel(model))
		if err != nil {
			return nil, fmt.Errorf("create ollama embedding client: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	case "openai":
		opts := []lcopenai.Option{
			lcopenai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			lcopenai.WithEmbeddingModel(model),
		}
		if strings.TrimSpace(cfg.BaseURL) != "" {
			opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := lcopenai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai embedding client: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
