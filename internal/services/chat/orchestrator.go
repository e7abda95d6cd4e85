// Package chat runs one chat turn end to end: history, quota, provider call,
// persistence and reconciliation.
package chat

import (
	"context"
	"strings"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/persona"
	"github.com/private-symposium-go/internal/services/ai"
	"github.com/private-symposium-go/internal/services/conversation"
	"github.com/private-symposium-go/internal/services/quota"
	"github.com/private-symposium-go/internal/services/roundtable"
	"github.com/private-symposium-go/internal/services/tokens"
	"github.com/private-symposium-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Outcomes reported to the recorder besides the error kinds
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Recorder observes finished turns
type Recorder interface {
	RecordTurn(conversationKey, outcome string)
	RecordTokensCharged(conversationKey string, tokens int64)
	RecordQuotaDenied()
}

// Request is one user message
type Request struct {
	UserID     string
	PersonaID  string
	Message    string
	RoundTable bool
}

// Orchestrator sequences a chat turn
type Orchestrator struct {
	conversations   *conversation.Store
	ledger          *quota.Ledger
	provider        ai.Service
	personas        *persona.Registry
	parser          *roundtable.Parser
	maxOutputTokens int
	refundOnFailure bool
	recorder        Recorder
	logger          *logrus.Logger
}

// NewOrchestrator wires a turn runner from its collaborators. recorder may
// be nil.
func NewOrchestrator(
	conversations *conversation.Store,
	ledger *quota.Ledger,
	provider ai.Service,
	personas *persona.Registry,
	cfg *config.QuotaConfig,
	recorder Recorder,
	logger *logrus.Logger,
) *Orchestrator {
	maxOutput := cfg.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = 2000
	}
	return &Orchestrator{
		conversations:   conversations,
		ledger:          ledger,
		provider:        provider,
		personas:        personas,
		parser:          roundtable.NewParser(personas),
		maxOutputTokens: maxOutput,
		refundOnFailure: cfg.RefundOnFailure,
		recorder:        recorder,
		logger:          logger,
	}
}

// HandleTurn runs one turn. Validation happens before any store or provider
// access. A quota denial leaves both the log and the usage untouched.
func (o *Orchestrator) HandleTurn(ctx context.Context, req Request) (*models.TurnResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, models.Validationf("userId is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, models.Validationf("message is required")
	}
	key, err := o.personas.ConversationKey(req.PersonaID, req.RoundTable)
	if err != nil {
		return nil, err
	}

	log := logger.WithTurn(o.logger, userID, key)

	result, err := o.run(ctx, log, userID, key, req.Message)
	o.record(key, result, err)
	if err != nil {
		log.WithError(err).WithField("kind", models.KindOf(err)).Warn("Chat turn failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"tokens_used":      result.TokensUsed,
		"remaining_tokens": result.RemainingTokens,
	}).Info("Chat turn completed")
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, log *logrus.Entry, userID, key, message string) (*models.TurnResult, error) {
	history, err := o.conversations.Load(ctx, userID, key, o.personas.SeedPrompt(key))
	if err != nil {
		return nil, err
	}
	history = o.conversations.Truncate(history)
	history = conversation.AppendUser(history, message)

	estimated := int64(tokens.EstimateMessages(history) + o.maxOutputTokens)

	admission, err := o.ledger.Admit(ctx, userID, estimated)
	if err != nil {
		return nil, err
	}
	if !admission.Allowed {
		return nil, models.NewError(models.KindQuotaExceeded, "monthly token quota exhausted", nil)
	}

	// From here on the turn runs to completion even if the client goes away
	ctx = context.WithoutCancel(ctx)

	completion, err := o.provider.Complete(ctx, history, o.maxOutputTokens)
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = models.NewError(models.KindProvider, "malformed response", nil)
	}
	if err != nil {
		if models.KindOf(err) == "" {
			err = models.NewError(models.KindProvider, "completion failed", err)
		}
		o.refund(ctx, log, userID, estimated)
		return nil, err
	}

	history, err = conversation.AppendAssistant(history, completion.Text)
	if err != nil {
		return nil, err
	}
	if err := o.conversations.Persist(ctx, userID, key, history); err != nil {
		return nil, err
	}

	actual := completion.TotalTokens
	if !completion.Reported() {
		actual = int64(tokens.Estimate(message) + tokens.Estimate(completion.Text))
	}

	rec, err := o.ledger.Reconcile(ctx, userID, estimated, actual)
	if err != nil {
		return nil, err
	}

	used := admission.Usage.Used
	if rec.Applied {
		used = rec.Used
	}

	if err := o.ledger.TouchLogin(ctx, userID); err != nil {
		log.WithError(err).Warn("Failed to update last login")
	}

	result := &models.TurnResult{
		Text:            completion.Text,
		TokensUsed:      actual,
		RemainingTokens: admission.Usage.Limit - used,
		ConversationKey: key,
	}
	if key == persona.RoundTableKey {
		result.Segments = o.parser.Parse(completion.Text)
	}
	return result, nil
}

// refund returns the reservation of a turn whose provider call failed
func (o *Orchestrator) refund(ctx context.Context, log *logrus.Entry, userID string, estimated int64) {
	if !o.refundOnFailure {
		return
	}
	if _, err := o.ledger.Reconcile(ctx, userID, estimated, 0); err != nil {
		log.WithError(err).Error("Failed to refund reservation")
		return
	}
	log.WithField("refunded", estimated).Info("Reservation refunded after provider failure")
}

func (o *Orchestrator) record(key string, result *models.TurnResult, err error) {
	if o.recorder == nil {
		return
	}
	if err == nil {
		o.recorder.RecordTurn(key, OutcomeSuccess)
		o.recorder.RecordTokensCharged(key, result.TokensUsed)
		return
	}

	outcome := string(models.KindOf(err))
	if outcome == "" {
		outcome = OutcomeFailed
	}
	if outcome == string(models.KindQuotaExceeded) {
		o.recorder.RecordQuotaDenied()
	}
	o.recorder.RecordTurn(key, outcome)
}
