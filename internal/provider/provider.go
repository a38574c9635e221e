package provider

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/templatefmt"
)

// SendResult returns provider-specific metadata after successful delivery.
// Params: sender-specific metadata fields.
// Returns: optional message identifiers.
type SendResult struct {
	MessageID   int
	ExternalRef string
}

// Sender delivers one normalized alert to one notification provider.
// Params: context and alert payload.
// Returns: provider send metadata and transport error when send fails.
type Sender interface {
	Name() string
	Send(ctx context.Context, event domain.AlertEvent) (SendResult, error)
}

// NewSenders builds senders for every enabled provider.
// Params: global notify config.
// Returns: sender lookup by provider name; invalid config yields senders
// that fail on Send so startup can surface the error.
func NewSenders(cfg config.NotifyConfig) map[string]Sender {
	senders := make(map[string]Sender)
	for _, name := range config.ProviderNames() {
		if !config.ProviderEnabled(cfg, name) {
			continue
		}
		sender := newSenderForProvider(name, cfg)
		if sender == nil {
			continue
		}
		senders[name] = sender
	}
	return senders
}

// newSenderForProvider builds transport sender implementation for one provider key.
// Params: normalized provider key and full notify config.
// Returns: provider sender or nil when provider is unknown.
func newSenderForProvider(name string, cfg config.NotifyConfig) Sender {
	switch name {
	case config.ProviderPushover:
		return NewPushoverSender(cfg.Pushover)
	case config.ProviderSMS:
		return NewSMSSender(cfg.SMS)
	case config.ProviderTelegram:
		return NewTelegramSender(cfg.Telegram)
	case config.ProviderWebhook:
		return NewWebhookSender(cfg.Webhook)
	default:
		return nil
	}
}

// messageContent holds rendered alert text for one provider.
// Params: rendered title and body strings.
// Returns: content consumed by transport-specific payload builders.
type messageContent struct {
	title string
	body  string
}

// compiledContent holds parsed title/body templates for one provider.
// Params: optional compiled templates; nil falls back to alert fields.
// Returns: render source bound at sender construction.
type compiledContent struct {
	title *template.Template
	body  *template.Template
}

// compileContent parses per-provider title/body template overrides.
// Params: provider key and raw template strings from config.
// Returns: compiled pair or first parse error.
func compileContent(provider, titleTemplate, bodyTemplate string) (compiledContent, error) {
	var compiled compiledContent
	if strings.TrimSpace(titleTemplate) != "" {
		parsed, err := templatefmt.ParseNotificationTemplate("notify."+provider+".title_template", titleTemplate)
		if err != nil {
			return compiledContent{}, err
		}
		compiled.title = parsed
	}
	if strings.TrimSpace(bodyTemplate) != "" {
		parsed, err := templatefmt.ParseNotificationTemplate("notify."+provider+".body_template", bodyTemplate)
		if err != nil {
			return compiledContent{}, err
		}
		compiled.body = parsed
	}
	return compiled, nil
}

// render produces message content for one alert event.
// Params: alert payload.
// Returns: rendered content; missing templates fall back to alert title/body.
func (c compiledContent) render(event domain.AlertEvent) (messageContent, error) {
	content := messageContent{title: event.Title, body: event.Body}
	if c.title != nil {
		rendered, err := executeTemplate(c.title, event)
		if err != nil {
			return messageContent{}, fmt.Errorf("render title template: %w", err)
		}
		content.title = rendered
	}
	if c.body != nil {
		rendered, err := executeTemplate(c.body, event)
		if err != nil {
			return messageContent{}, fmt.Errorf("render body template: %w", err)
		}
		content.body = rendered
	}
	return content, nil
}

// text flattens rendered content into single message string.
// Params: none.
// Returns: "title\nbody", or whichever part is non-empty.
func (m messageContent) text() string {
	title := strings.TrimSpace(m.title)
	body := strings.TrimSpace(m.body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n" + body
	}
}

// executeTemplate renders one compiled template into string.
// Params: compiled template and data context.
// Returns: rendered string.
func executeTemplate(tmpl *template.Template, payload any) (string, error) {
	var builder strings.Builder
	if err := tmpl.Execute(&builder, payload); err != nil {
		return "", err
	}
	return builder.String(), nil
}
