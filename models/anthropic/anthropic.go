package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	models "github.com/Desarso/taxassist/models"
)

// Anthropic_Model implements models.Model for the Anthropic Messages API.
type Anthropic_Model struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	APIKey      string
	APIKeyEnv   string // Optional: env var name for API key (defaults to ANTHROPIC_API_KEY)
	BaseURL     string // Optional: custom API endpoint

	Options []option.RequestOption
}

func (a *Anthropic_Model) Name() string { return "anthropic:" + a.modelName() }

func (a *Anthropic_Model) modelName() string {
	if a.Model == "" {
		return DefaultModel
	}
	return a.Model
}

func (a *Anthropic_Model) client() (sdk.Client, error) {
	key := a.APIKey
	if key == "" {
		env := a.APIKeyEnv
		if env == "" {
			env = DefaultAPIKeyEnv
		}
		key = os.Getenv(env)
	}
	if key == "" {
		return sdk.Client{}, models.NewPermanentError(fmt.Errorf("anthropic: API key not set"))
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if a.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.BaseURL))
	}
	opts = append(opts, a.Options...)
	return sdk.NewClient(opts...), nil
}

// Stream_Model_Request implements models.Model.
func (a *Anthropic_Model) Stream_Model_Request(ctx context.Context, request models.Model_Request) (<-chan models.Model_Response, <-chan error) {
	messages := buildMessages(request.Messages)
	if len(messages) == 0 {
		return models.FailedStream(models.NewPermanentError(models.ErrEmptyHistory))
	}
	client, err := a.client()
	if err != nil {
		return models.FailedStream(err)
	}

	maxTokens := int64(DefaultMaxTokens)
	if a.MaxTokens != nil {
		maxTokens = int64(*a.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.modelName()),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if a.Temperature != nil {
		params.Temperature = sdk.Float(*a.Temperature)
	}
	if system := strings.TrimSpace(request.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	respChan := make(chan models.Model_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		stream := client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			var resp models.Model_Response
			switch event := stream.Current().AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				if delta, ok := event.Delta.AsAny().(sdk.TextDelta); ok {
					resp.Text = delta.Text
				}
			case sdk.MessageDeltaEvent:
				resp.FinishReason = finishReason(event.Delta.StopReason)
			}
			if resp.Text == "" && resp.FinishReason == "" {
				continue
			}
			if !models.Emit(ctx, respChan, resp) {
				errChan <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errChan <- classify(err)
		}
	}()

	return respChan, errChan
}

// buildMessages converts the history; consecutive same-role turns are merged
// since the Messages API expects alternation.
func buildMessages(history []models.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	lastRole := ""
	for _, msg := range history {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		text := msg.ProviderText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		block := sdk.NewTextBlock(text)
		if msg.Role == lastRole {
			last := &out[len(out)-1]
			last.Content = append(last.Content, block)
			continue
		}
		if msg.Role == models.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
		lastRole = msg.Role
	}
	return out
}

func finishReason(reason sdk.StopReason) string {
	switch reason {
	case "":
		return ""
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return "stop"
	case sdk.StopReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return models.NewPermanentError(fmt.Errorf("anthropic: %w", err))
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}
