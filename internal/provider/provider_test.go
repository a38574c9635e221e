package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/permanent"
)

func TestNewSendersSkipsDisabledProviders(t *testing.T) {
	t.Parallel()

	senders := NewSenders(config.NotifyConfig{
		Webhook: config.WebhookNotifier{
			Enabled: true,
			URL:     "http://localhost/hook",
		},
		Telegram: config.TelegramNotifier{
			Enabled: false,
		},
	})

	if len(senders) != 1 {
		t.Fatalf("expected 1 sender, got %d", len(senders))
	}
	if _, ok := senders[config.ProviderWebhook]; !ok {
		t.Fatalf("expected webhook sender, got %+v", senders)
	}
}

func TestPushoverSenderPostsForm(t *testing.T) {
	t.Parallel()

	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		captured = map[string]string{
			"token":    r.PostFormValue("token"),
			"user":     r.PostFormValue("user"),
			"title":    r.PostFormValue("title"),
			"message":  r.PostFormValue("message"),
			"priority": r.PostFormValue("priority"),
			"device":   r.PostFormValue("device"),
			"path":     r.URL.Path,
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewPushoverSender(config.PushoverNotifier{
		Token:   "app-token",
		UserKey: "user-key",
		Device:  "pager",
		APIBase: server.URL,
	})

	_, err := sender.Send(context.Background(), domain.AlertEvent{
		Severity: domain.SeverityCritical,
		Title:    "backend-api failed",
		Body:     "connect refused",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if captured["path"] != "/1/messages.json" {
		t.Fatalf("unexpected path %q", captured["path"])
	}
	if captured["token"] != "app-token" || captured["user"] != "user-key" {
		t.Fatalf("unexpected credentials %+v", captured)
	}
	if captured["title"] != "backend-api failed" || captured["message"] != "connect refused" {
		t.Fatalf("unexpected content %+v", captured)
	}
	if captured["priority"] != "1" {
		t.Fatalf("expected critical priority 1, got %q", captured["priority"])
	}
	if captured["device"] != "pager" {
		t.Fatalf("expected device pager, got %q", captured["device"])
	}
}

func TestPushoverSenderStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		permanent bool
	}{
		{status: http.StatusBadRequest, permanent: true},
		{status: http.StatusTooManyRequests, permanent: false},
		{status: http.StatusInternalServerError, permanent: false},
	}
	for _, testCase := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(testCase.status)
		}))
		sender := NewPushoverSender(config.PushoverNotifier{
			Token:   "app-token",
			UserKey: "user-key",
			APIBase: server.URL,
		})
		_, err := sender.Send(context.Background(), domain.AlertEvent{Title: "t", Body: "b"})
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", testCase.status)
		}
		if permanent.Is(err) != testCase.permanent {
			t.Fatalf("status %d: expected permanent=%v, got error %v", testCase.status, testCase.permanent, err)
		}
	}
}

func TestPushoverSenderInitErr(t *testing.T) {
	t.Parallel()

	sender := NewPushoverSender(config.PushoverNotifier{UserKey: "user-key"})
	if _, err := sender.Send(context.Background(), domain.AlertEvent{}); err == nil {
		t.Fatal("expected init error for missing token")
	}
}

func TestSMSSenderAcceptsPartialDelivery(t *testing.T) {
	t.Parallel()

	var captured smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sms-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[{"recipient":"+440000","status":"invalid"},{"recipient":"+441111","status":"Sent"}]}`))
	}))
	defer server.Close()

	sender := NewSMSSender(config.SMSNotifier{
		GatewayURL: server.URL,
		APIKey:     "sms-key",
		Sender:     "sentinel",
		Recipients: []string{"+440000", "+441111"},
	})

	_, err := sender.Send(context.Background(), domain.AlertEvent{Title: "vpn failed", Body: "tunnel down"})
	if err != nil {
		t.Fatalf("expected partial delivery success, got %v", err)
	}
	if captured.Message != "vpn failed\ntunnel down" {
		t.Fatalf("unexpected message %q", captured.Message)
	}
	if len(captured.Recipients) != 2 {
		t.Fatalf("unexpected recipients %+v", captured.Recipients)
	}
}

func TestSMSSenderAllRejectedIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"recipient":"+440000","status":"invalid"}]}`))
	}))
	defer server.Close()

	sender := NewSMSSender(config.SMSNotifier{
		GatewayURL: server.URL,
		Recipients: []string{"+440000"},
	})

	_, err := sender.Send(context.Background(), domain.AlertEvent{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !permanent.Is(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestSMSSenderOversizeMessageIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversize message must not reach the gateway")
	}))
	defer server.Close()

	sender := NewSMSSender(config.SMSNotifier{
		GatewayURL: server.URL,
		Recipients: []string{"+440000"},
	})

	_, err := sender.Send(context.Background(), domain.AlertEvent{
		Title: "t",
		Body:  strings.Repeat("x", smsBodyLimit+1),
	})
	if err == nil {
		t.Fatal("expected oversize error")
	}
	if !permanent.Is(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestTelegramSenderSendsMessage(t *testing.T) {
	t.Parallel()

	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":301,"date":1,"chat":{"id":1,"type":"private"}}}`))
	}))
	defer server.Close()

	sender := NewTelegramSender(config.TelegramNotifier{
		BotToken: "token",
		ChatID:   "-100200",
		APIBase:  server.URL,
	})

	result, err := sender.Send(context.Background(), domain.AlertEvent{Title: "cache degraded", Body: "hit rate below floor"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.MessageID != 301 {
		t.Fatalf("expected message id 301, got %d", result.MessageID)
	}
	if capturedPath != "/bottoken/sendMessage" {
		t.Fatalf("unexpected path %q", capturedPath)
	}
}

func TestTelegramSenderInitErr(t *testing.T) {
	t.Parallel()

	sender := NewTelegramSender(config.TelegramNotifier{BotToken: "token"})
	if _, err := sender.Send(context.Background(), domain.AlertEvent{}); err == nil {
		t.Fatal("expected init error for missing chat_id")
	}
}

func TestWebhookSenderPostsRenderedEvent(t *testing.T) {
	t.Parallel()

	var captured domain.AlertEvent
	var capturedMethod, capturedHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedMethod = r.Method
		capturedHeader = r.Header.Get("X-Env")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookNotifier{
		URL:           server.URL,
		Method:        "PUT",
		Headers:       map[string]string{"X-Env": "prod"},
		TitleTemplate: "[{{ .Severity }}] {{ .Title }}",
	})

	event := domain.AlertEvent{
		DedupKey:  "alert/vpn/failed/abc",
		Severity:  domain.SeverityCritical,
		Title:     "vpn failed",
		Body:      "tunnel down",
		Source:    "vpn",
		Category:  "failed",
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if _, err := sender.Send(context.Background(), event); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if capturedMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", capturedMethod)
	}
	if capturedHeader != "prod" {
		t.Fatalf("expected X-Env header, got %q", capturedHeader)
	}
	if captured.Title != "[critical] vpn failed" {
		t.Fatalf("unexpected rendered title %q", captured.Title)
	}
	if captured.DedupKey != event.DedupKey || captured.Body != event.Body {
		t.Fatalf("unexpected payload %+v", captured)
	}
}

func TestWebhookSenderStatusClassification(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown destination", http.StatusNotFound)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookNotifier{URL: server.URL})
	_, err := sender.Send(context.Background(), domain.AlertEvent{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("expected status error")
	}
	if !permanent.Is(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestCompiledContentFallback(t *testing.T) {
	t.Parallel()

	content, err := compileContent("webhook", "", "")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	rendered, err := content.render(domain.AlertEvent{Title: "title", Body: "body"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if rendered.text() != "title\nbody" {
		t.Fatalf("unexpected text %q", rendered.text())
	}
}

func TestCompileContentRejectsBadTemplate(t *testing.T) {
	t.Parallel()

	if _, err := compileContent("webhook", "{{ .Title", ""); err == nil {
		t.Fatal("expected parse error")
	}
}
