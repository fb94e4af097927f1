package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	models "github.com/Desarso/taxassist/models"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI_Model implements models.Model for the OpenAI chat completions API.
// Also supports any OpenAI-compatible endpoint through BaseURL.
type OpenAI_Model struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	APIKey      string // Optional: defaults to the APIKeyEnv variable
	APIKeyEnv   string // Optional: defaults to OPENAI_API_KEY
	BaseURL     string // Optional: custom API base URL

	// Options are appended to the client options, mainly for tests.
	Options []option.RequestOption
}

func (o *OpenAI_Model) Name() string { return "openai:" + o.modelName() }

func (o *OpenAI_Model) modelName() string {
	if o.Model == "" {
		return DefaultModel
	}
	return o.Model
}

func (o *OpenAI_Model) client() (oai.Client, error) {
	key := o.APIKey
	if key == "" {
		env := o.APIKeyEnv
		if env == "" {
			env = DefaultAPIKeyEnv
		}
		key = os.Getenv(env)
	}
	if key == "" {
		return oai.Client{}, models.NewPermanentError(fmt.Errorf("openai: API key not set"))
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	opts = append(opts, o.Options...)
	return oai.NewClient(opts...), nil
}

// Stream_Model_Request implements models.Model.
func (o *OpenAI_Model) Stream_Model_Request(ctx context.Context, request models.Model_Request) (<-chan models.Model_Response, <-chan error) {
	if len(request.Messages) == 0 {
		return models.FailedStream(models.NewPermanentError(models.ErrEmptyHistory))
	}
	client, err := o.client()
	if err != nil {
		return models.FailedStream(err)
	}

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(o.modelName()),
		Messages: buildMessages(request),
	}
	if o.Temperature != nil {
		params.Temperature = oai.Float(*o.Temperature)
	}
	if o.MaxTokens != nil {
		params.MaxCompletionTokens = oai.Int(int64(*o.MaxTokens))
	}

	respChan := make(chan models.Model_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		stream := client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				resp := models.Model_Response{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
				if resp.Text == "" && resp.FinishReason == "" {
					continue
				}
				if !models.Emit(ctx, respChan, resp) {
					errChan <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errChan <- classify(err)
		}
	}()

	return respChan, errChan
}

func buildMessages(request models.Model_Request) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(request.Messages)+1)
	if strings.TrimSpace(request.System) != "" {
		out = append(out, oai.SystemMessage(request.System))
	}
	for _, msg := range request.Messages {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, oai.UserMessage(msg.ProviderText()))
		case models.RoleAssistant:
			out = append(out, oai.AssistantMessage(msg.ProviderText()))
		}
	}
	return out
}

// classify marks client errors that retrying cannot fix.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return models.NewPermanentError(fmt.Errorf("openai: %w", err))
		}
	}
	return fmt.Errorf("openai: %w", err)
}
