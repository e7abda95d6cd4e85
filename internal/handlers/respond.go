package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/private-symposium-go/internal/i18n"
	"github.com/private-symposium-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Error codes returned to clients
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeProvider      = "PROVIDER_ERROR"
	CodeStore         = "STORE_ERROR"
	CodeConfig        = "CONFIG_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInvalidBody   = "INVALID_BODY"
	CodeInProgress    = "REQUEST_IN_PROGRESS"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// responder writes JSON bodies and maps classified errors to statuses
type responder struct {
	localizer  *i18n.Localizer
	production bool
	logger     *logrus.Logger
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorStatus(kind models.Kind) (int, string, string) {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest, CodeValidation, i18n.MsgValidation
	case models.KindQuotaExceeded:
		return http.StatusTooManyRequests, CodeQuotaExceeded, i18n.MsgQuotaExceeded
	case models.KindProvider:
		return http.StatusBadGateway, CodeProvider, i18n.MsgProvider
	case models.KindStore:
		return http.StatusInternalServerError, CodeStore, i18n.MsgStore
	case models.KindConfig:
		return http.StatusInternalServerError, CodeConfig, i18n.MsgConfig
	}
	return http.StatusInternalServerError, CodeInternal, i18n.MsgInternal
}

// writeError sends a localized error. Diagnostics are included only outside
// production.
func (rs *responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, messageID := errorStatus(models.KindOf(err))

	var detail string
	var classified *models.Error
	if errors.As(err, &classified) {
		detail = classified.Message
	}

	body := errorResponse{
		Error: rs.localizer.Get(r.Header.Get("Accept-Language"), messageID, map[string]interface{}{"Detail": detail}),
		Code:  code,
	}
	if !rs.production {
		body.Details = err.Error()
		body.Stack = string(debug.Stack())
	}

	if status >= http.StatusInternalServerError {
		requestLogger(rs.logger, r).WithError(err).Error("Request failed")
	}

	writeJSON(w, status, body)
}

// writeMessage sends an error that has no underlying Go error
func (rs *responder) writeMessage(w http.ResponseWriter, r *http.Request, status int, code, messageID string) {
	writeJSON(w, status, errorResponse{
		Error: rs.localizer.Get(r.Header.Get("Accept-Language"), messageID, nil),
		Code:  code,
	})
}
