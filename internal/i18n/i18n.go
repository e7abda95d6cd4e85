package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/private-symposium-go/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Languages bundled with the service
var Languages = []string{"zh", "en"}

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Chinese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range Languages {
		if _, err := bundle.LoadMessageFileFS(locales, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	defaultLanguage := cfg.DefaultLanguage
	if defaultLanguage == "" {
		defaultLanguage = "zh"
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
	}, nil
}

// Get returns the localized message. lang may be a language tag or a raw
// Accept-Language header; unknown languages fall back to the default.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer := i18n.NewLocalizer(l.bundle, lang, l.defaultLanguage)

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgValidation    = "error_validation"
	MsgQuotaExceeded = "error_quota_exceeded"
	MsgProvider      = "error_provider"
	MsgStore         = "error_store"
	MsgConfig        = "error_config"
	MsgInternal      = "error_internal"
	MsgRateLimited   = "error_rate_limited"
	MsgInvalidBody   = "error_invalid_body"
	MsgNotFound      = "error_not_found"
	MsgInProgress    = "error_request_in_progress"
)
