package anthropic

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
	DefaultAPIKeyEnv = "ANTHROPIC_API_KEY"
)
