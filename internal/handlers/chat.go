package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/private-symposium-go/internal/i18n"
	"github.com/private-symposium-go/internal/middleware"
	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/persona"
	"github.com/private-symposium-go/internal/services/cache"
	"github.com/private-symposium-go/internal/services/chat"
	"github.com/private-symposium-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// IdempotencyKeyHeader lets clients retry a chat request without paying twice
const IdempotencyKeyHeader = "Idempotency-Key"

// TurnRunner runs one chat turn
type TurnRunner interface {
	HandleTurn(ctx context.Context, req chat.Request) (*models.TurnResult, error)
}

type chatRequest struct {
	Message      string `json:"message"`
	Character    string `json:"character"`
	UserID       string `json:"userId"`
	IsRoundTable bool   `json:"isRoundTable"`
}

type segmentResponse struct {
	Character *string `json:"character"`
	Name      string  `json:"name,omitempty"`
	Text      string  `json:"text"`
	HTML      string  `json:"html"`
}

type chatResponse struct {
	Success         bool              `json:"success"`
	Message         string            `json:"message"`
	TokensUsed      int64             `json:"tokensUsed"`
	RemainingTokens int64             `json:"remainingTokens"`
	Character       string            `json:"character"`
	Segments        []segmentResponse `json:"segments,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// ChatHandler serves POST /chat
type ChatHandler struct {
	turns       TurnRunner
	personas    *persona.Registry
	idempotency cache.Service
	rateLimiter middleware.RateLimiter
	metrics     *middleware.Metrics
	rs          *responder
	now         func() time.Time
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	turns TurnRunner,
	personas *persona.Registry,
	idempotency cache.Service,
	rateLimiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	rs *responder,
) *ChatHandler {
	return &ChatHandler{
		turns:       turns,
		personas:    personas,
		idempotency: idempotency,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		rs:          rs,
		now:         time.Now,
	}
}

// HandleChat runs one turn and returns the assistant reply
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rs.writeMessage(w, r, http.StatusBadRequest, CodeInvalidBody, i18n.MsgInvalidBody)
		return
	}
	if req.Character == "" {
		req.Character = persona.DefaultID
	}

	if req.UserID != "" && h.rateLimiter != nil && !h.rateLimiter.Allow(req.UserID) {
		if h.metrics != nil {
			h.metrics.RecordRateLimitExceeded("/chat")
		}
		h.rs.writeMessage(w, r, http.StatusTooManyRequests, CodeRateLimited, i18n.MsgRateLimited)
		return
	}

	idemKey := r.Header.Get(IdempotencyKeyHeader)
	idempotent := idemKey != "" && h.idempotency != nil
	if idempotent {
		if entry, reserved := h.idempotency.Reserve(req.UserID, idemKey); !reserved {
			if entry.Pending {
				h.rs.writeMessage(w, r, http.StatusConflict, CodeInProgress, i18n.MsgInProgress)
				return
			}
			if h.metrics != nil {
				h.metrics.RecordIdempotentReplay()
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(entry.Status)
			_, _ = w.Write(entry.Body)
			return
		}
	}

	// A failed turn frees the key so the client can retry
	fail := func(err error) {
		if idempotent {
			h.idempotency.Release(req.UserID, idemKey)
		}
		h.rs.writeError(w, r, err)
	}

	result, err := h.turns.HandleTurn(r.Context(), chat.Request{
		UserID:     req.UserID,
		PersonaID:  req.Character,
		Message:    req.Message,
		RoundTable: req.IsRoundTable,
	})
	if err != nil {
		fail(err)
		return
	}

	body, err := json.Marshal(h.response(result))
	if err != nil {
		fail(err)
		return
	}

	if idempotent {
		h.idempotency.Set(req.UserID, idemKey, &cache.Entry{
			Status:    http.StatusOK,
			Body:      body,
			CreatedAt: h.now(),
		})
	}

	requestLogger(h.rs.logger, r).WithFields(logrus.Fields{
		"user_id":     req.UserID,
		"character":   result.ConversationKey,
		"tokens_used": result.TokensUsed,
	}).Debug("Chat response sent")

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *ChatHandler) response(result *models.TurnResult) chatResponse {
	resp := chatResponse{
		Success:         true,
		Message:         result.Text,
		TokensUsed:      result.TokensUsed,
		RemainingTokens: result.RemainingTokens,
		Character:       result.ConversationKey,
		Timestamp:       h.now().UTC(),
	}

	for _, seg := range result.Segments {
		out := segmentResponse{
			Character: seg.PersonaID,
			Text:      seg.Text,
			HTML:      markdown.ToHTML(seg.Text),
		}
		if seg.PersonaID != nil {
			if p, ok := h.personas.Get(*seg.PersonaID); ok {
				out.Name = p.Name
			}
		}
		resp.Segments = append(resp.Segments, out)
	}
	return resp
}
