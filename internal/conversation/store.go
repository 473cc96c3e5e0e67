// Package conversation owns the ordered message history of a chat session and its durable persistence.
package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MegaGrindStone/campus-chat/internal/models"
)

// KV is the key-value persistence substrate the history is written to. Get returns a nil value and a
// nil error when the key is absent.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store keeps the conversation history in memory and mirrors it to a single key of a KV substrate.
//
// Persistence failures never reach the caller: a history that can't be read starts empty, and a write
// that is rejected leaves the in-memory history intact so the conversation continues for the session.
type Store struct {
	kv     KV
	key    string
	logger *slog.Logger

	mu       sync.RWMutex
	messages []models.Message
}

// DefaultKey is the well-known key the history is persisted under.
const DefaultKey = "chatHistory"

const errLoggerKey = "err"

// NewStore creates a Store persisting to key in kv. An empty key selects DefaultKey.
func NewStore(kv KV, key string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{
		kv:     kv,
		key:    key,
		logger: logger.With(slog.String("module", "conversation")),
	}
}

// Load reads the persisted history and makes it the in-memory history. An absent or unparsable value
// yields an empty history.
func (s *Store) Load() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil

	v, err := s.kv.Get(s.key)
	if err != nil {
		s.logger.Warn("Failed to read history, starting empty",
			slog.String("key", s.key),
			slog.String(errLoggerKey, err.Error()))
		return nil
	}
	if len(v) == 0 {
		return nil
	}

	var messages []models.Message
	if err := json.Unmarshal(v, &messages); err != nil {
		s.logger.Warn("Stored history is corrupt, starting empty",
			slog.String("key", s.key),
			slog.String(errLoggerKey, err.Error()))
		return nil
	}
	for _, msg := range messages {
		if !msg.Sender.Valid() {
			s.logger.Warn("Stored history has an unknown sender, starting empty",
				slog.String("key", s.key),
				slog.String("sender", string(msg.Sender)))
			return nil
		}
	}

	s.messages = messages
	return slices.Clone(s.messages)
}

// Append adds msg to the end of the history and persists the whole history before returning.
func (s *Store) Append(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)

	if err := s.persist(); err != nil {
		s.logger.Warn("Failed to persist history, keeping it in memory",
			slog.String("key", s.key),
			slog.Int("messages", len(s.messages)),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Clear empties both the in-memory and the persisted history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil

	if err := s.kv.Delete(s.key); err != nil {
		s.logger.Warn("Failed to delete persisted history",
			slog.String("key", s.key),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Messages returns a copy of the history in insertion order.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.messages)
}

func (s *Store) persist() error {
	v, err := json.Marshal(s.messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.kv.Put(s.key, v); err != nil {
		return fmt.Errorf("failed to put history: %w", err)
	}
	return nil
}
