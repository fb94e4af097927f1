package relay

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Desarso/taxassist/models"
)

const (
	// MaxRequestBodySize caps the JSON body of a relay request (1 MiB).
	MaxRequestBodySize = 1 << 20
	// MaxMessageCount caps the history length of a single request.
	MaxMessageCount = 100
)

var (
	ErrNoMessages   = errors.New("messages are required")
	ErrTooMany      = fmt.Errorf("too many messages (max %d)", MaxMessageCount)
	ErrNoUserTurn   = errors.New("conversation has no user message")
	ErrBodyTooLarge = fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
)

// ValidateChatRequest checks the shape of a request before any model call.
func ValidateChatRequest(req models.Chat_Request) error {
	if len(req.Messages) == 0 {
		return ErrNoMessages
	}
	if len(req.Messages) > MaxMessageCount {
		return ErrTooMany
	}
	blank := true
	for i, m := range req.Messages {
		if !models.IsValidRole(m.Role) {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if !m.IsBlank() {
			blank = false
		}
	}
	if blank {
		return ErrNoMessages
	}
	return nil
}

// BuildModelRequest validates req and turns it into what the completion
// client receives: the sanitized history plus exactly one system prompt.
func BuildModelRequest(req models.Chat_Request, templateHints bool) (models.Model_Request, error) {
	if err := ValidateChatRequest(req); err != nil {
		return models.Model_Request{}, err
	}
	if issues := models.DetectCorruptedHistory(req.Messages); len(issues) > 0 {
		log.Printf("[HISTORY_SANITIZER] Repairing request history: %s", strings.Join(issues, "; "))
	}
	history := models.SanitizeHistory(req.Messages)
	if len(history) == 0 {
		return models.Model_Request{}, ErrNoUserTurn
	}
	out := models.Model_Request{Messages: history}
	out.System = BuildSystemPrompt(req.Document_Text, out.LastUserContent(), templateHints)
	return out, nil
}
