package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/private-symposium-go/internal/i18n"
	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/persona"
	"github.com/private-symposium-go/internal/services/conversation"
)

type conversationResponse struct {
	Success  bool             `json:"success"`
	Messages []models.Message `json:"messages"`
	Exists   bool             `json:"exists"`
}

type saveConversationRequest struct {
	UserID       string           `json:"userId"`
	Character    string           `json:"character"`
	IsRoundTable bool             `json:"isRoundTable"`
	Messages     []models.Message `json:"messages"`
}

// ConversationHandler serves GET and POST /conversation
type ConversationHandler struct {
	conversations *conversation.Store
	personas      *persona.Registry
	rs            *responder
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *conversation.Store, personas *persona.Registry, rs *responder) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		personas:      personas,
		rs:            rs,
	}
}

// conversationKey accepts either a persona id or the round-table key as
// character
func (h *ConversationHandler) conversationKey(character string, roundTable bool) (string, error) {
	if character == persona.RoundTableKey {
		return persona.RoundTableKey, nil
	}
	return h.personas.ConversationKey(character, roundTable)
}

// GetConversation returns the stored log for one conversation
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := strings.TrimSpace(query.Get("userId"))
	if userID == "" {
		h.rs.writeError(w, r, models.Validationf("userId is required"))
		return
	}
	roundTable, _ := strconv.ParseBool(query.Get("isRoundTable"))

	key, err := h.conversationKey(query.Get("character"), roundTable)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	messages, exists, err := h.conversations.Get(r.Context(), userID, key)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	writeJSON(w, http.StatusOK, conversationResponse{
		Success:  true,
		Messages: messages,
		Exists:   exists,
	})
}

// SaveConversation replaces the stored log for one conversation
func (h *ConversationHandler) SaveConversation(w http.ResponseWriter, r *http.Request) {
	var req saveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rs.writeMessage(w, r, http.StatusBadRequest, CodeInvalidBody, i18n.MsgInvalidBody)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		h.rs.writeError(w, r, models.Validationf("userId is required"))
		return
	}

	key, err := h.conversationKey(req.Character, req.IsRoundTable)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	log := h.conversations.Truncate(req.Messages)
	if err := h.conversations.Persist(r.Context(), userID, key, log); err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"character": key,
		"count":     len(log),
	})
}
