package models

import (
	"time"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Plan is a subscription tier
type Plan string

const (
	PlanFree      Plan = "free"
	PlanLite      Plan = "lite"
	PlanPro       Plan = "pro"
	PlanUnlimited Plan = "unlimited"
)

// Valid reports whether p is one of the known plans
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanLite, PlanPro, PlanUnlimited:
		return true
	}
	return false
}

// Default quota values for a user seen for the first time
const (
	DefaultPlan       = PlanFree
	DefaultTokenLimit = int64(100000)
)

// TokenUsage is a user's consumption state for the current period
type TokenUsage struct {
	Used      int64      `json:"used"`
	Limit     int64      `json:"limit"`
	ResetDate *time.Time `json:"resetDate"`
	LastReset *time.Time `json:"lastReset,omitempty"`
}

// Remaining returns limit - used, which may be negative after an
// under-estimated turn
func (u TokenUsage) Remaining() int64 {
	return u.Limit - u.Used
}

// User represents a stored user record
type User struct {
	ID          string     `json:"userId"`
	Plan        Plan       `json:"plan"`
	TokenUsage  TokenUsage `json:"tokenUsage"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt time.Time  `json:"lastLoginAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Segment is one persona's part of a round-table reply. PersonaID is nil
// when the reply carried no recognizable speaker markers.
type Segment struct {
	PersonaID *string `json:"character"`
	Text      string  `json:"text"`
}

// TurnResult is the outcome of one chat turn
type TurnResult struct {
	Text            string
	TokensUsed      int64
	RemainingTokens int64
	ConversationKey string
	Segments        []Segment
}
