package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/permanent"
)

// WebhookSender posts the alert payload to a configured HTTP endpoint.
// Params: endpoint URL, method, timeout, and headers.
// Returns: generic webhook provider sender.
type WebhookSender struct {
	cfg     config.WebhookNotifier
	content compiledContent
	client  *http.Client
	initErr error
}

// NewWebhookSender creates generic webhook sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	sender := &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}

	if strings.TrimSpace(cfg.URL) == "" {
		sender.initErr = errors.New("webhook url is required")
		return sender
	}

	content, err := compileContent(config.ProviderWebhook, cfg.TitleTemplate, cfg.BodyTemplate)
	if err != nil {
		sender.initErr = fmt.Errorf("init webhook templates: %w", err)
		return sender
	}
	sender.content = content
	return sender
}

// Name returns sender provider name.
// Params: none.
// Returns: static provider key.
func (s *WebhookSender) Name() string {
	return config.ProviderWebhook
}

// Send delivers the JSON alert payload to the configured endpoint.
// Params: context and alert payload.
// Returns: transport or HTTP error; 4xx responses are permanent.
func (s *WebhookSender) Send(ctx context.Context, event domain.AlertEvent) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}

	content, err := s.content.render(event)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("webhook %w", err))
	}
	payload := event
	payload.Title = content.title
	payload.Body = content.body

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode webhook payload: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, permanent.FromHTTPStatus("webhook", response)
	}
	return SendResult{}, nil
}
