// Package chat drives a conversation turn by turn: it appends the user's
// message, streams the relay's answer into a trailing assistant message and
// files finished conversations into the local history.
package chat

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/Desarso/taxassist/history"
	"github.com/Desarso/taxassist/models"
)

// ApologyMessage replaces the assistant message when a turn fails.
const ApologyMessage = "Sorry, there was an error. Please try again"

var (
	ErrEmptyInput = errors.New("message is empty")
	ErrBusy       = errors.New("a message is already being sent")
)

// Transport opens the answer stream for one turn. client.Client implements it.
type Transport interface {
	Stream(ctx context.Context, req models.Chat_Request) (<-chan models.Model_Response, <-chan error)
}

// Event is delivered to the observer on every state or content change.
type Event struct {
	State State
	// Messages is a snapshot of the conversation.
	Messages []models.Message
	// Err is set when a turn fails.
	Err error
}

// Session is one live conversation. At most one turn streams at a time.
type Session struct {
	transport Transport
	history   *history.Store
	logger    *log.Logger

	mu           sync.Mutex
	state        State
	messages     []models.Message
	documentText string
	gen          uint64
	cancel       context.CancelFunc
	turnDone     chan struct{}
	onEvent      func(Event)
}

// NewSession creates an idle session. store may be nil to disable history.
func NewSession(transport Transport, store *history.Store) *Session {
	return &Session{
		transport: transport,
		history:   store,
		logger:    log.New(os.Stderr, "[CHAT] ", log.LstdFlags),
	}
}

func (s *Session) WithLogger(l *log.Logger) *Session {
	if l != nil {
		s.logger = l
	}
	return s
}

// OnEvent sets the observer. It is called synchronously with the session
// locked, so it must not call back into the Session; everything it needs is
// in the Event.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// SetDocumentText attaches raw document text that is sent with every turn.
func (s *Session) SetDocumentText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documentText = text
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the conversation.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneMessages(s.messages)
}

// emit must be called with s.mu held.
func (s *Session) emit(err error) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(Event{State: s.state, Messages: models.CloneMessages(s.messages), Err: err})
}

// setState must be called with s.mu held.
func (s *Session) setState(st State, err error) {
	s.state = st
	s.emit(err)
}

// Submit appends a user message and starts streaming the answer. Whitespace
// input is rejected with ErrEmptyInput and a submit while a turn is in
// flight with ErrBusy; neither changes any state.
func (s *Session) Submit(ctx context.Context, input string, attachments ...models.Attachment) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.InFlight() {
		return ErrBusy
	}

	msg := models.Message{Role: models.RoleUser, Content: input}
	if len(attachments) > 0 {
		msg.Attachments = append([]models.Attachment(nil), attachments...)
	}
	s.messages = append(s.messages, msg)

	s.gen++
	gen := s.gen
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.turnDone = done

	req := models.Chat_Request{
		Messages:      models.CloneMessages(s.messages),
		Document_Text: s.documentText,
	}
	s.setState(Sending, nil)
	s.logger.Printf("Sending turn %d (%d messages)", gen, len(req.Messages))

	go s.run(turnCtx, gen, req, done)
	return nil
}

func (s *Session) run(ctx context.Context, gen uint64, req models.Chat_Request, done chan struct{}) {
	defer close(done)

	respChan, errChan := s.transport.Stream(ctx, req)
	var acc strings.Builder
	err := models.Consume(ctx, respChan, errChan, func(resp models.Model_Response) error {
		if resp.Text == "" {
			return nil
		}
		acc.WriteString(resp.Text)
		if !s.applyChunk(gen, acc.String()) {
			return context.Canceled
		}
		return nil
	})

	snapshot, settled := s.finish(gen, err)
	if settled && s.history != nil {
		if _, err := s.history.Save(context.WithoutCancel(ctx), snapshot); err != nil {
			s.logger.Printf("Failed to save conversation: %v", err)
		}
	}
}

// applyChunk replaces the trailing assistant message with content. It
// reports false when the turn was abandoned.
func (s *Session) applyChunk(gen uint64, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	if s.state == Sending {
		s.messages = append(s.messages, models.Message{Role: models.RoleAssistant})
		s.setState(Streaming, nil)
	}
	s.messages[len(s.messages)-1].Content = content
	s.emit(nil)
	return true
}

// finish settles or fails the turn and returns to Idle. It returns the
// conversation to file into history when the turn settled.
func (s *Session) finish(gen uint64, err error) ([]models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.logger.Printf("Dropping result of abandoned turn %d", gen)
		return nil, false
	}
	s.cancel = nil

	if s.state == Sending {
		s.messages = append(s.messages, models.Message{Role: models.RoleAssistant})
	}

	if err != nil {
		s.logger.Printf("Turn %d failed: %v", gen, err)
		s.messages[len(s.messages)-1].Content = ApologyMessage
		s.setState(Failed, err)
		s.setState(Idle, nil)
		return nil, false
	}

	s.logger.Printf("Turn %d settled (%d chars)", gen, len(s.messages[len(s.messages)-1].Content))
	s.setState(Settled, nil)
	snapshot := models.CloneMessages(s.messages)
	s.setState(Idle, nil)
	return snapshot, true
}

// abandon drops interest in the active turn. Must be called with s.mu held.
// It returns the conversation without a half-streamed trailing answer.
func (s *Session) abandon() []models.Message {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	msgs := models.CloneMessages(s.messages)
	if s.state == Streaming && len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}
	return msgs
}

// NewChat files the current conversation into history, abandons any active
// stream and starts over with an empty conversation.
func (s *Session) NewChat(ctx context.Context) error {
	s.mu.Lock()
	current := s.abandon()
	s.messages = nil
	s.setState(Idle, nil)
	s.mu.Unlock()

	if s.history == nil || len(current) == 0 {
		return nil
	}
	_, err := s.history.Save(ctx, current)
	return err
}

// LoadHistory replaces the live conversation with a saved one, abandoning any
// active stream.
func (s *Session) LoadHistory(ctx context.Context, id string) error {
	if s.history == nil {
		return history.ErrEntryNotFound
	}
	entry, err := s.history.Get(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandon()
	s.messages = models.CloneMessages(entry.Messages)
	s.setState(Idle, nil)
	s.logger.Printf("Loaded conversation %s", id)
	return nil
}

// Wait blocks until the current turn, including its history write, is over.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.turnDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
