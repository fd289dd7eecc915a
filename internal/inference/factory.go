package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/parseqri/parseqri/internal/config"
)

// ErrDisabled is returned by New when the model backend is switched off.
var ErrDisabled = errors.New("model inference is disabled")

// New assembles the configured backend behind rate limiting and retries.
func New(cfg config.AIConfig, logger *slog.Logger) (Model, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	var base Model
	switch cfg.Provider {
	case config.ProviderOpenAI:
		m, err := NewOpenAIModel(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, fmt.Errorf("openai model: %w", err)
		}
		base = m
	case config.ProviderOllama:
		m, err := NewOllamaModel(cfg.BaseURL, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		base = m
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}

	limited := NewRateLimited(base, cfg.RequestsPerSecond, 1)
	return NewRetrying(limited, RetryConfig{
		Attempts:       cfg.RetryAttempts,
		Delay:          cfg.RetryDelay,
		AttemptTimeout: cfg.Timeout,
		Logger:         logger,
	}), nil
}

// EmbedderConfigFor derives embedding client settings from the model settings.
func EmbedderConfigFor(cfg config.AIConfig) EmbedderConfig {
	return EmbedderConfig{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.EmbeddingModel,
	}
}
