package e2e

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel/internal/domain"
)

// telegramCapture mimics the Bot API sendMessage endpoint and records bodies.
type telegramCapture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *telegramCapture) Handle(writer http.ResponseWriter, request *http.Request) {
	if !strings.HasSuffix(request.URL.Path, "/sendMessage") {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	defer request.Body.Close()
	body, _ := io.ReadAll(request.Body)

	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	count := len(c.bodies)
	c.mu.Unlock()

	writer.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(writer, `{"ok":true,"result":{"message_id":%d,"date":1,"chat":{"id":1,"type":"private"}}}`, count)
}

func (c *telegramCapture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *telegramCapture) Bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func TestFanOutDeliversToAllProvidersE2E(t *testing.T) {
	statusPort, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	ingestPort, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	collector := &deliveryCollector{}
	webhookSink := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer webhookSink.Close()

	telegram := &telegramCapture{}
	telegramAPI := httptest.NewServer(http.HandlerFunc(telegram.Handle))
	defer telegramAPI.Close()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	journalPath := filepath.Join(tmpDir, "escalations.jsonl")
	if err := os.WriteFile(configPath, []byte(fanoutConfigTOML(statusPort, ingestPort, journalPath, webhookSink.URL, telegramAPI.URL, 2)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	ingestBase := fmt.Sprintf("http://127.0.0.1:%d", ingestPort)
	waitReady(t, statusPort)

	doc := fetchStatus(t, statusPort)
	if len(doc.Providers) != 2 || doc.Providers[0] != "telegram" || doc.Providers[1] != "webhook" {
		t.Fatalf("unexpected provider set: %v", doc.Providers)
	}

	postIncident(t, ingestBase, "e2e-token", []byte(`{"source":"core-db","category":"replication","detail":"replica lag over limit"}`))
	waitFor(t, 6*time.Second, func() bool {
		return collector.Count("core-db", "replication") >= 1 && telegram.Count() >= 1
	})

	bodies := telegram.Bodies()
	if len(bodies) != 1 {
		t.Fatalf("expected single telegram send, got %d", len(bodies))
	}
	if !strings.Contains(bodies[0], "4242") || !strings.Contains(bodies[0], "core-db") {
		t.Fatalf("telegram payload misses chat or event fields: %q", bodies[0])
	}

	if escalations := readEscalations(t, journalPath); len(escalations) != 0 {
		t.Fatalf("successful fan-out must not escalate: %+v", escalations)
	}

	cancel()
	waitServiceStop(t, done)
}

func TestOptionalAckDoesNotSatisfyRequiredE2E(t *testing.T) {
	statusPort, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	ingestPort, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	var (
		mu           sync.Mutex
		webhookCalls int
	)
	webhookSink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		webhookCalls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer webhookSink.Close()

	telegram := &telegramCapture{}
	telegramAPI := httptest.NewServer(http.HandlerFunc(telegram.Handle))
	defer telegramAPI.Close()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	journalPath := filepath.Join(tmpDir, "escalations.jsonl")
	if err := os.WriteFile(configPath, []byte(fanoutConfigTOML(statusPort, ingestPort, journalPath, webhookSink.URL, telegramAPI.URL, 2)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	ingestBase := fmt.Sprintf("http://127.0.0.1:%d", ingestPort)
	waitReady(t, statusPort)

	postIncident(t, ingestBase, "e2e-token", []byte(`{"source":"core-db","category":"replication","detail":"replica lag over limit"}`))
	waitFor(t, 6*time.Second, func() bool {
		return journalLineCount(journalPath) >= 1
	})

	if telegram.Count() != 1 {
		t.Fatalf("optional provider must still receive the alert, got %d sends", telegram.Count())
	}
	mu.Lock()
	finalWebhookCalls := webhookCalls
	mu.Unlock()
	if finalWebhookCalls != 2 {
		t.Fatalf("required provider must exhaust its retries, got %d calls", finalWebhookCalls)
	}

	escalations := readEscalations(t, journalPath)
	if len(escalations) != 1 {
		t.Fatalf("expected single escalation, got %d", len(escalations))
	}
	record := escalations[0]
	if !strings.HasPrefix(record.Reason, "no required provider acknowledged") {
		t.Fatalf("unexpected escalation reason: %q", record.Reason)
	}

	acked := map[string]int{}
	failed := map[string]int{}
	for _, attempt := range record.Attempts {
		switch attempt.Result {
		case domain.AttemptAcked:
			acked[attempt.Provider]++
		case domain.AttemptFailed:
			failed[attempt.Provider]++
		}
	}
	if acked["telegram"] != 1 || failed["webhook"] != 2 {
		t.Fatalf("unexpected attempt trail: %+v", record.Attempts)
	}

	cancel()
	waitServiceStop(t, done)
}

func fanoutConfigTOML(statusPort, ingestPort int, journalPath, webhookURL, telegramBase string, webhookRetryAttempts int) string {
	return fmt.Sprintf(`
[service]
name = "sentinel"
status_addr = "127.0.0.1:%d"
suppression_window_sec = 300
reload_enabled = false

[log.console]
enabled = true
level = "error"
format = "line"

[escalation]
journal_path = %q

[webhook]
enabled = true
addr = "127.0.0.1:%d"
path = "/incident"
auth_token = "e2e-token"
max_body_bytes = 1048576

[notify.telegram]
enabled = true
required = false
bot_token = "e2e-bot-token"
chat_id = "4242"
api_base = %q

[notify.webhook]
enabled = true
required = true
url = %q
method = "POST"
timeout_sec = 2

[notify.webhook.retry]
enabled = true
backoff = "exponential"
initial_ms = 1
max_ms = 4
max_attempts = %d
log_each_attempt = true

[monitor.quiet-edge]
kind = "tcp"
target = "127.0.0.1:1"
interval_sec = 1
timeout_sec = 1
jitter_pct = 0
fail_threshold = 100
recovery_threshold = 1
`, statusPort, journalPath, ingestPort, telegramBase, webhookURL, webhookRetryAttempts)
}
