// Package conversation owns the per-user, per-key message logs.
//
// All logs of a user live in one document of the conversations collection,
// one field per conversation key plus a "{key}_updatedAt" marker. Every
// write touches only the fields of a single key so sibling logs survive.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/persona"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// DefaultMaxMessages is the longest log kept between turns
const DefaultMaxMessages = 40

// Store loads, truncates and persists conversation logs
type Store struct {
	docs        storage.Store
	personas    *persona.Registry
	maxMessages int
	now         func() time.Time
	logger      *logrus.Logger
}

// NewStore creates a conversation store. maxMessages below 2 falls back to
// DefaultMaxMessages.
func NewStore(docs storage.Store, personas *persona.Registry, maxMessages int, logger *logrus.Logger) *Store {
	if maxMessages < 2 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{
		docs:        docs,
		personas:    personas,
		maxMessages: maxMessages,
		now:         time.Now,
		logger:      logger,
	}
}

func updatedAtField(key string) string {
	return key + "_updatedAt"
}

func (s *Store) checkKey(key string) error {
	if !s.personas.ValidKey(key) {
		return models.Validationf("unknown conversation key %q", key)
	}
	return nil
}

// Get returns the stored log for key and whether one exists
func (s *Store) Get(ctx context.Context, userID, key string) ([]models.Message, bool, error) {
	if err := s.checkKey(key); err != nil {
		return nil, false, err
	}

	doc, err := s.docs.Read(ctx, storage.CollectionConversations, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	raw, ok := doc[key]
	if !ok || raw == "" {
		return nil, false, nil
	}

	var log []models.Message
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return nil, false, models.NewError(models.KindStore, "decode conversation "+key, err)
	}
	if len(log) == 0 {
		return nil, false, nil
	}
	return log, true, nil
}

// Load returns the log for key, or a fresh log holding only the seed system
// prompt. The result is never empty.
func (s *Store) Load(ctx context.Context, userID, key, seedSystemPrompt string) ([]models.Message, error) {
	log, exists, err := s.Get(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.Message{{Role: models.RoleSystem, Content: seedSystemPrompt}}, nil
	}
	return log, nil
}

// Truncate keeps the system prompt and the most recent entries so the result
// holds at most maxMessages entries. Call it before appending the new user
// message.
func (s *Store) Truncate(log []models.Message) []models.Message {
	return Truncate(log, s.maxMessages)
}

// Truncate keeps log[0] plus the last max-1 entries when log is longer than max
func Truncate(log []models.Message, max int) []models.Message {
	if len(log) <= max {
		return log
	}
	out := make([]models.Message, 0, max)
	out = append(out, log[0])
	out = append(out, log[len(log)-(max-1):]...)
	return out
}

// AppendUser adds the user's message for a new turn
func AppendUser(log []models.Message, content string) []models.Message {
	return append(log, models.Message{Role: models.RoleUser, Content: content})
}

// AppendAssistant adds the reply that closes a turn. It refuses to append
// unless the log ends with the turn's user message.
func AppendAssistant(log []models.Message, content string) ([]models.Message, error) {
	if len(log) == 0 || log[len(log)-1].Role != models.RoleUser {
		return log, errors.New("assistant message without a preceding user message")
	}
	return append(log, models.Message{Role: models.RoleAssistant, Content: content}), nil
}

// AppendTurn adds a user message and its reply, in that order
func AppendTurn(log []models.Message, userMessage, assistantMessage string) []models.Message {
	log = AppendUser(log, userMessage)
	log, _ = AppendAssistant(log, assistantMessage)
	return log
}

// Persist merge-writes the log for key and its updatedAt marker
func (s *Store) Persist(ctx context.Context, userID, key string, log []models.Message) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(log) == 0 || log[0].Role != models.RoleSystem {
		return models.Validationf("conversation must start with a system message")
	}

	data, err := json.Marshal(log)
	if err != nil {
		return err
	}

	patch := storage.Document{
		key:                 string(data),
		updatedAtField(key): storage.FormatTime(s.now()),
	}
	if err := s.docs.Write(ctx, storage.CollectionConversations, userID, patch, true); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":          userID,
		"conversation_key": key,
		"messages":         len(log),
	}).Debug("Conversation persisted")
	return nil
}
