package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/permanent"
)

const pushoverMessagePath = "/1/messages.json"

// PushoverSender posts alerts to the Pushover message API.
// Params: application token, user key, and optional device filter.
// Returns: pushover provider sender.
type PushoverSender struct {
	cfg     config.PushoverNotifier
	content compiledContent
	client  *http.Client
	initErr error
}

// NewPushoverSender creates Pushover sender with HTTP client.
// Params: pushover notifier config.
// Returns: initialized sender.
func NewPushoverSender(cfg config.PushoverNotifier) *PushoverSender {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	sender := &PushoverSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}

	if strings.TrimSpace(cfg.Token) == "" {
		sender.initErr = errors.New("pushover token is required")
		return sender
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		sender.initErr = errors.New("pushover user_key is required")
		return sender
	}

	content, err := compileContent(config.ProviderPushover, cfg.TitleTemplate, cfg.BodyTemplate)
	if err != nil {
		sender.initErr = fmt.Errorf("init pushover templates: %w", err)
		return sender
	}
	sender.content = content
	return sender
}

// Name returns sender provider name.
// Params: none.
// Returns: static provider key.
func (s *PushoverSender) Name() string {
	return config.ProviderPushover
}

// Send posts one alert as form-encoded Pushover message.
// Params: context and alert payload.
// Returns: transport or HTTP error; 4xx responses are permanent.
func (s *PushoverSender) Send(ctx context.Context, event domain.AlertEvent) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}

	content, err := s.content.render(event)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("pushover %w", err))
	}

	form := url.Values{}
	form.Set("token", s.cfg.Token)
	form.Set("user", s.cfg.UserKey)
	form.Set("title", content.title)
	form.Set("message", content.body)
	form.Set("priority", strconv.Itoa(s.priorityFor(event.Severity)))
	if device := strings.TrimSpace(s.cfg.Device); device != "" {
		form.Set("device", device)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("build pushover request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("pushover send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, permanent.FromHTTPStatus("pushover", response)
	}
	return SendResult{}, nil
}

// endpoint resolves message API URL from configured base.
// Params: none.
// Returns: absolute messages endpoint.
func (s *PushoverSender) endpoint() string {
	base := strings.TrimRight(strings.TrimSpace(s.cfg.APIBase), "/")
	if base == "" {
		base = "https://api.pushover.net"
	}
	return base + pushoverMessagePath
}

// priorityFor maps alert severity to Pushover priority.
// Params: alert severity.
// Returns: configured or default priority value.
func (s *PushoverSender) priorityFor(severity domain.Severity) int {
	if value, ok := s.cfg.Priority[string(severity)]; ok {
		return value
	}
	switch severity {
	case domain.SeverityCritical:
		return 1
	case domain.SeverityInfo:
		return -1
	default:
		return 0
	}
}
