package openai

const (
	DefaultModel     = "gpt-4o"
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
	// OpenRouterBaseURL can be passed as BaseURL to route through OpenRouter.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)
