// Package history keeps the most recent finished conversations as a single
// JSON blob, most-recent-first.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/stores"
	"github.com/google/uuid"
)

const (
	// Key is the blob name the history list is stored under.
	Key = "chatHistory"
	// MaxEntries is how many conversations are kept.
	MaxEntries = 5
	// TitleLength is the number of characters of the first message used as title.
	TitleLength = 30
)

var ErrEntryNotFound = errors.New("history entry not found")

// Entry is one saved conversation.
type Entry struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Messages  []models.Message `json:"messages"`
	Timestamp time.Time        `json:"timestamp"`
}

// Capture snapshots a conversation as a new entry.
func Capture(msgs []models.Message) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Title:     Title(msgs),
		Messages:  models.CloneMessages(msgs),
		Timestamp: time.Now(),
	}
}

// Title is the first TitleLength characters of the first message followed by
// an ellipsis.
func Title(msgs []models.Message) string {
	if len(msgs) == 0 {
		return "..."
	}
	r := []rune(msgs[0].Content)
	if len(r) > TitleLength {
		r = r[:TitleLength]
	}
	return string(r) + "..."
}

// SameConversation reports whether two conversations have the same length and
// match role and content pairwise.
func SameConversation(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			return false
		}
	}
	return true
}

// Store persists the capped history list in a BlobStore. Every change
// rewrites the whole blob.
type Store struct {
	blobs  stores.BlobStore
	logger *log.Logger
	mu     sync.Mutex
}

func NewStore(blobs stores.BlobStore) *Store {
	return &Store{
		blobs:  blobs,
		logger: log.New(os.Stderr, "[HISTORY] ", log.LstdFlags),
	}
}

// WithLogger replaces the store logger.
func (s *Store) WithLogger(l *log.Logger) *Store {
	if l != nil {
		s.logger = l
	}
	return s
}

// List returns the saved entries, most recent first. A missing or corrupt
// blob reads as an empty history.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) ([]Entry, error) {
	data, err := s.blobs.Get(ctx, Key)
	if errors.Is(err, stores.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Printf("Discarding unreadable history blob: %v", err)
		return []Entry{}, nil
	}
	return entries, nil
}

func (s *Store) save(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.blobs.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Save captures msgs and adds it. Empty conversations are ignored. It
// reports whether a new entry was stored.
func (s *Store) Save(ctx context.Context, msgs []models.Message) (bool, error) {
	if len(msgs) == 0 {
		return false, nil
	}
	return s.Add(ctx, Capture(msgs))
}

// Add pushes entry to the front of the list unless an identical conversation
// is already saved. The list is truncated to MaxEntries and written back in
// full.
func (s *Store) Add(ctx context.Context, entry Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if SameConversation(e.Messages, entry.Messages) {
			s.logger.Printf("Conversation already saved as %s, skipping", e.ID)
			return false, nil
		}
	}

	entries = append([]Entry{entry}, entries...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	if err := s.save(ctx, entries); err != nil {
		return false, err
	}
	s.logger.Printf("Saved conversation %s (%d messages)", entry.ID, len(entry.Messages))
	return true, nil
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

// Clear removes all saved conversations.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs.Delete(ctx, Key)
}
