// Package scripted provides an offline models.Model that replays canned tax
// answers in small chunks. It backs the demo provider and the tests.
package scripted

import (
	"context"
	"strings"
	"sync"
	"time"

	models "github.com/Desarso/taxassist/models"
)

const DefaultChunkSize = 16

const standardDeductionAnswer = `## 2024 Standard Deduction

For tax year 2024 the standard deduction is:

- **Single or married filing separately:** $14,600
- **Married filing jointly:** $29,200
- **Head of household:** $21,900

Taxpayers who are 65 or older, or blind, can add an extra amount on top of these figures.`

const fallbackAnswer = `I can help with questions about US federal income tax and Form 1040, such as filing status, deductions, credits and how the tax brackets apply to your income. Could you tell me a bit more about your situation?`

// Scripted_Model streams a canned answer chosen from the last user message.
// Failure knobs let tests exercise error paths.
type Scripted_Model struct {
	// Answer overrides the canned answer selection when set.
	Answer    string
	ChunkSize int
	Delay     time.Duration

	// FailBefore is returned before any chunk is produced.
	FailBefore error
	// FailAfter, with FailAfterChunks, ends the stream with an error once
	// that many chunks have been delivered.
	FailAfter       error
	FailAfterChunks int

	mu       sync.Mutex
	requests []models.Model_Request
}

func (s *Scripted_Model) Name() string { return "scripted" }

// Requests returns the requests received so far.
func (s *Scripted_Model) Requests() []models.Model_Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Model_Request(nil), s.requests...)
}

// AnswerFor returns the canned answer for a user query.
func AnswerFor(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "tax bracket") || strings.Contains(q, "income"):
		return models.IncomeBreakdownAnswer
	case strings.Contains(q, "standard deduction"):
		return standardDeductionAnswer
	default:
		return fallbackAnswer
	}
}

// Stream_Model_Request implements models.Model.
func (s *Scripted_Model) Stream_Model_Request(ctx context.Context, request models.Model_Request) (<-chan models.Model_Response, <-chan error) {
	s.mu.Lock()
	s.requests = append(s.requests, models.Model_Request{
		System:   request.System,
		Messages: models.CloneMessages(request.Messages),
	})
	s.mu.Unlock()

	if s.FailBefore != nil {
		return models.FailedStream(s.FailBefore)
	}
	if len(request.Messages) == 0 {
		return models.FailedStream(models.NewPermanentError(models.ErrEmptyHistory))
	}

	answer := s.Answer
	if answer == "" {
		answer = AnswerFor(request.LastUserContent())
	}
	chunks := Split(answer, s.ChunkSize)

	respChan := make(chan models.Model_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		for i, chunk := range chunks {
			if s.FailAfter != nil && i == s.FailAfterChunks {
				errChan <- s.FailAfter
				return
			}
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				}
			}
			resp := models.Model_Response{Text: chunk}
			if i == len(chunks)-1 {
				resp.FinishReason = "stop"
			}
			if !models.Emit(ctx, respChan, resp) {
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return respChan, errChan
}

// Split cuts text into chunks of at most size runes. A size <= 0 uses
// DefaultChunkSize.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
