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

// smsBodyLimit caps outbound message length at one SMS segment.
const smsBodyLimit = 160

// SMSSender posts alerts to an SMS gateway HTTP API.
// Params: gateway URL, API key, originator, and recipient list.
// Returns: sms provider sender.
type SMSSender struct {
	cfg     config.SMSNotifier
	content compiledContent
	client  *http.Client
	initErr error
}

// smsRequest is the gateway submit payload.
// Params: originator, destinations, and message text.
// Returns: JSON body for the gateway.
type smsRequest struct {
	Sender     string   `json:"sender,omitempty"`
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
}

// smsResponse is the gateway per-recipient delivery report.
// Params: none.
// Returns: decoded submit statuses.
type smsResponse struct {
	Results []smsRecipientResult `json:"results"`
}

// smsRecipientResult reports gateway status for one destination.
// Params: none.
// Returns: recipient number and gateway status string.
type smsRecipientResult struct {
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
}

// NewSMSSender creates SMS gateway sender with HTTP client.
// Params: sms notifier config.
// Returns: initialized sender.
func NewSMSSender(cfg config.SMSNotifier) *SMSSender {
	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	sender := &SMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}

	if strings.TrimSpace(cfg.GatewayURL) == "" {
		sender.initErr = errors.New("sms gateway_url is required")
		return sender
	}
	if len(cfg.Recipients) == 0 {
		sender.initErr = errors.New("sms recipients are required")
		return sender
	}

	content, err := compileContent(config.ProviderSMS, cfg.TitleTemplate, cfg.BodyTemplate)
	if err != nil {
		sender.initErr = fmt.Errorf("init sms templates: %w", err)
		return sender
	}
	sender.content = content
	return sender
}

// Name returns sender provider name.
// Params: none.
// Returns: static provider key.
func (s *SMSSender) Name() string {
	return config.ProviderSMS
}

// Send submits one alert message to the SMS gateway.
// Params: context and alert payload.
// Returns: transport or HTTP error; oversize messages and fully rejected
// recipient lists are permanent.
func (s *SMSSender) Send(ctx context.Context, event domain.AlertEvent) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}

	content, err := s.content.render(event)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("sms %w", err))
	}
	message := content.text()
	if len(message) > smsBodyLimit {
		return SendResult{}, permanent.Mark(fmt.Errorf("sms message is %d chars, limit is %d", len(message), smsBodyLimit))
	}

	body, err := json.Marshal(smsRequest{
		Sender:     strings.TrimSpace(s.cfg.Sender),
		Recipients: s.cfg.Recipients,
		Message:    message,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("encode sms payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if apiKey := strings.TrimSpace(s.cfg.APIKey); apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+apiKey)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("sms send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, permanent.FromHTTPStatus("sms", response)
	}

	var report smsResponse
	if err := json.NewDecoder(response.Body).Decode(&report); err != nil {
		return SendResult{}, fmt.Errorf("decode sms response: %w", err)
	}
	return SendResult{}, s.checkReport(report)
}

// checkReport accepts delivery when at least one recipient was sent.
// Params: decoded gateway report.
// Returns: nil on any success; permanent error when every recipient failed,
// since resubmitting the same list cannot succeed.
func (s *SMSSender) checkReport(report smsResponse) error {
	if len(report.Results) == 0 {
		return errors.New("sms response missing results")
	}
	rejected := make([]string, 0, len(report.Results))
	for _, result := range report.Results {
		if strings.EqualFold(strings.TrimSpace(result.Status), "sent") {
			return nil
		}
		rejected = append(rejected, result.Recipient+"="+result.Status)
	}
	return permanent.Mark(fmt.Errorf("sms gateway rejected all recipients: %s", strings.Join(rejected, ", ")))
}
