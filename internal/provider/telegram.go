package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramSender sends alerts to Telegram Bot API.
// Params: bot token, chat id, and base URL.
// Returns: telegram provider sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	content compiledContent
	initErr error
}

// NewTelegramSender creates Telegram sender with HTTP client.
// Params: telegram notifier config.
// Returns: initialized sender.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{
		chatID: normalizeChatID(cfg.ChatID),
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("telegram bot_token is required")
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = errors.New("telegram chat_id is required")
		return sender
	}

	content, err := compileContent(config.ProviderTelegram, cfg.TitleTemplate, cfg.BodyTemplate)
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram templates: %w", err)
		return sender
	}
	sender.content = content

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
	}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(base, "/")))
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = botClient
	return sender
}

// Name returns sender provider name.
// Params: none.
// Returns: static provider key.
func (s *TelegramSender) Name() string {
	return config.ProviderTelegram
}

// Send posts one alert message to the Telegram chat.
// Params: context and alert payload.
// Returns: transport or API error.
func (s *TelegramSender) Send(ctx context.Context, event domain.AlertEvent) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}
	if s.client == nil {
		return SendResult{}, errors.New("telegram client is not initialized")
	}

	content, err := s.content.render(event)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("telegram %w", err))
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      content.text(),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return SendResult{}, errors.New("telegram send returned empty message id")
	}
	return SendResult{MessageID: sent.ID}, nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
