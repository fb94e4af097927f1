package taxassist

import (
	"fmt"
	"log"
	"os"

	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/models/anthropic"
	"github.com/Desarso/taxassist/models/gemini"
	"github.com/Desarso/taxassist/models/openai"
	"github.com/Desarso/taxassist/models/scripted"
)

// NewModel builds the configured completion client wrapped with logging, rate
// limiting and retries. A nil logger writes to stderr with an [LLM] prefix.
func NewModel(cfg ModelConfig, logger *log.Logger) (models.Model, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[LLM] ", log.LstdFlags)
	}

	var base models.Model
	switch cfg.Provider {
	case "openai", "openrouter":
		m := &openai.OpenAI_Model{
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
		}
		if cfg.Provider == "openrouter" {
			m.APIKeyEnv = "OPENROUTER_API_KEY"
			if m.BaseURL == "" {
				m.BaseURL = openai.OpenRouterBaseURL
			}
		}
		base = m
	case "anthropic":
		base = &anthropic.Anthropic_Model{
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
		}
	case "gemini":
		m := &gemini.Gemini_Model{
			Model:   cfg.Name,
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		}
		if cfg.Temperature != nil {
			t := float32(*cfg.Temperature)
			m.Temperature = &t
		}
		if cfg.MaxTokens != nil {
			n := int32(*cfg.MaxTokens)
			m.MaxTokens = &n
		}
		base = m
	case "scripted":
		base = &scripted.Scripted_Model{}
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}

	return models.Wrap(base,
		models.WithLogging(logger),
		models.RateLimit(cfg.RPS, cfg.Burst),
		models.Retry(cfg.Retries, cfg.RetryDelay.Duration),
	), nil
}
