package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	models "github.com/Desarso/taxassist/models"
	"google.golang.org/genai"
)

// Gemini_Model implements models.Model on the genai SDK.
type Gemini_Model struct {
	Model       string
	Temperature *float32
	MaxTokens   *int32
	APIKey      string
	APIKeyEnv   string
	BaseURL     string

	once   sync.Once
	cli    *genai.Client
	cliErr error
}

func (g *Gemini_Model) Name() string { return "gemini:" + g.modelName() }

func (g *Gemini_Model) modelName() string {
	if g.Model == "" {
		return DefaultModel
	}
	return g.Model
}

func (g *Gemini_Model) client(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		key := g.APIKey
		if key == "" {
			env := g.APIKeyEnv
			if env == "" {
				env = DefaultAPIKeyEnv
			}
			key = os.Getenv(env)
		}
		if key == "" {
			g.cliErr = models.NewPermanentError(fmt.Errorf("gemini: API key not set"))
			return
		}
		cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
		if g.BaseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.BaseURL}
		}
		g.cli, g.cliErr = genai.NewClient(ctx, cfg)
	})
	return g.cli, g.cliErr
}

// Stream_Model_Request implements models.Model.
func (g *Gemini_Model) Stream_Model_Request(ctx context.Context, request models.Model_Request) (<-chan models.Model_Response, <-chan error) {
	contents := buildContents(request.Messages)
	if len(contents) == 0 {
		return models.FailedStream(models.NewPermanentError(models.ErrEmptyHistory))
	}
	cli, err := g.client(ctx)
	if err != nil {
		return models.FailedStream(err)
	}

	config := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(request.System); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if g.Temperature != nil {
		config.Temperature = g.Temperature
	}
	if g.MaxTokens != nil {
		config.MaxOutputTokens = *g.MaxTokens
	}

	respChan := make(chan models.Model_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		for chunk, err := range cli.Models.GenerateContentStream(ctx, g.modelName(), contents, config) {
			if err != nil {
				errChan <- fmt.Errorf("gemini: %w", err)
				return
			}
			resp := models.Model_Response{Text: chunk.Text()}
			if len(chunk.Candidates) > 0 {
				resp.FinishReason = finishReason(chunk.Candidates[0].FinishReason)
			}
			if resp.Text == "" && resp.FinishReason == "" {
				continue
			}
			if !models.Emit(ctx, respChan, resp) {
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return respChan, errChan
}

func buildContents(history []models.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		text := msg.ProviderText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			out = append(out, genai.NewContentFromText(text, genai.RoleUser))
		case models.RoleAssistant:
			out = append(out, genai.NewContentFromText(text, genai.RoleModel))
		}
	}
	return out
}

func finishReason(reason genai.FinishReason) string {
	switch reason {
	case "", genai.FinishReasonUnspecified:
		return ""
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(string(reason))
	}
}
