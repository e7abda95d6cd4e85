package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/private-symposium-go/internal/i18n"
	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/services/quota"
)

type userResponse struct {
	Success         bool         `json:"success"`
	User            *models.User `json:"user"`
	RemainingTokens int64        `json:"remainingTokens"`
	IsNewUser       bool         `json:"isNewUser"`
}

type updateUserRequest struct {
	UserID string      `json:"userId"`
	Plan   models.Plan `json:"plan"`
}

// UserHandler serves GET and POST /user
type UserHandler struct {
	ledger *quota.Ledger
	rs     *responder
}

// NewUserHandler creates a new user handler
func NewUserHandler(ledger *quota.Ledger, rs *responder) *UserHandler {
	return &UserHandler{
		ledger: ledger,
		rs:     rs,
	}
}

// GetUser returns the user record, creating it on first login
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		h.rs.writeError(w, r, models.Validationf("userId is required"))
		return
	}

	// Apply a due reset before reporting usage
	if _, err := h.ledger.ResetIfDue(r.Context(), userID); err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	user, created, err := h.ledger.Login(r.Context(), userID)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		Success:         true,
		User:            user,
		RemainingTokens: user.TokenUsage.Remaining(),
		IsNewUser:       created,
	})
}

// UpdateUser changes the user's plan
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rs.writeMessage(w, r, http.StatusBadRequest, CodeInvalidBody, i18n.MsgInvalidBody)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		h.rs.writeError(w, r, models.Validationf("userId is required"))
		return
	}

	user, err := h.ledger.SetPlan(r.Context(), userID, req.Plan)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		Success:         true,
		User:            user,
		RemainingTokens: user.TokenUsage.Remaining(),
	})
}
