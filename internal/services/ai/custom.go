package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Service is the chat completion capability used by a chat turn
type Service interface {
	Complete(ctx context.Context, messages []models.Message, maxTokens int) (*Completion, error)
}

// Completion is the text generated for one request
type Completion struct {
	Text string
	// TotalTokens is the provider-reported usage; zero when not reported
	TotalTokens int64
}

// Reported tells whether the provider returned a usage count
func (c *Completion) Reported() bool {
	return c.TotalTokens > 0
}

// RequestRecorder observes provider calls
type RequestRecorder interface {
	RecordAIRequest(model, status string, duration time.Duration)
}

// CustomAI talks to an OpenAI-compatible chat completions endpoint
type CustomAI struct {
	config     config.ProviderConfig
	httpClient *http.Client
	recorder   RequestRecorder
	logger     *logrus.Logger
}

// NewCustomAI creates a new provider client. recorder may be nil.
func NewCustomAI(cfg *config.ProviderConfig, recorder RequestRecorder, logger *logrus.Logger) *CustomAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.WithFields(logrus.Fields{
		"baseURL": cfg.BaseURL,
		"model":   cfg.Model,
		"timeout": timeout,
	}).Info("AI service initialized")

	c := &CustomAI{
		config: *cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		recorder: recorder,
		logger:   logger,
	}
	c.config.Timeout = timeout
	return c
}

// Complete sends one request. Failures are not retried: a timed out or
// failed call surfaces as a provider error and the caller decides.
func (s *CustomAI) Complete(ctx context.Context, messages []models.Message, maxTokens int) (*Completion, error) {
	if s.config.APIKey == "" {
		return nil, models.NewError(models.KindConfig, "provider API key is not configured", nil)
	}

	started := time.Now()
	completion, err := s.complete(ctx, messages, maxTokens)

	status := "success"
	if err != nil {
		status = "error"
	}
	if s.recorder != nil {
		s.recorder.RecordAIRequest(s.config.Model, status, time.Since(started))
	}
	return completion, err
}

func (s *CustomAI) complete(ctx context.Context, messages []models.Message, maxTokens int) (*Completion, error) {
	// Convert messages to OpenAI format
	openAIMessages := make([]map[string]string, len(messages))
	for i, msg := range messages {
		openAIMessages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	reqBody := map[string]interface{}{
		"model":       s.config.Model,
		"messages":    openAIMessages,
		"max_tokens":  maxTokens,
		"temperature": s.config.Temperature,
		"stream":      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(s.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))

	s.logger.WithFields(logrus.Fields{
		"model":    s.config.Model,
		"messages": len(messages),
		"url":      url,
	}).Debug("Sending AI request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			s.logger.WithField("timeout", s.config.Timeout).Warn("AI request timed out")
			return nil, models.NewError(models.KindProvider, "timeout", err)
		}
		return nil, models.NewError(models.KindProvider, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, models.NewError(models.KindProvider, "timeout", err)
		}
		return nil, models.NewError(models.KindProvider, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("AI request failed")
		return nil, models.NewError(models.KindProvider, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, models.NewError(models.KindProvider, "malformed response", err)
	}

	if result.Error.Message != "" {
		return nil, models.NewError(models.KindProvider, result.Error.Message, nil)
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, models.NewError(models.KindProvider, "malformed response", nil)
	}

	completion := &Completion{Text: result.Choices[0].Message.Content}
	if result.Usage != nil && result.Usage.TotalTokens > 0 {
		completion.TotalTokens = result.Usage.TotalTokens
	}
	return completion, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
