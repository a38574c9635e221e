package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinel/internal/domain"
)

func TestHotReloadAppliesMonitorChange(t *testing.T) {
	statusPort, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	collector := &deliveryCollector{}
	sink := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer sink.Close()

	target := newTCPTarget(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	journalPath := filepath.Join(tmpDir, "escalations.jsonl")
	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(statusPort, journalPath, sink.URL, "sentinel", "")), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	waitReady(t, statusPort)
	if doc := fetchStatus(t, statusPort); len(doc.Monitors) != 1 {
		t.Fatalf("expected single monitor before reload: %+v", doc.Monitors)
	}

	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(statusPort, journalPath, sink.URL, "sentinel", target.Addr())), 0o644); err != nil {
		t.Fatalf("write reloaded config: %v", err)
	}

	waitFor(t, 8*time.Second, func() bool {
		return collector.Count("beta-tcp", "healthy") >= 1
	})

	doc := fetchStatus(t, statusPort)
	if len(doc.Monitors) != 2 {
		t.Fatalf("expected reloaded monitor set of 2: %+v", doc.Monitors)
	}
	var beta *domain.MonitorSnapshot
	for i := range doc.Monitors {
		if doc.Monitors[i].Name == "beta-tcp" {
			beta = &doc.Monitors[i]
		}
	}
	if beta == nil {
		t.Fatalf("reloaded set misses beta-tcp: %+v", doc.Monitors)
	}
	if beta.Status != domain.StatusHealthy {
		t.Fatalf("expected healthy reloaded monitor, got %s", beta.Status)
	}

	cancel()
	waitServiceStop(t, done)
}

func TestHotReloadKeepsPreviousMonitorsOnRejectedConfig(t *testing.T) {
	statusPort, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	collector := &deliveryCollector{}
	sink := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer sink.Close()

	target := newTCPTarget(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	journalPath := filepath.Join(tmpDir, "escalations.jsonl")
	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(statusPort, journalPath, sink.URL, "sentinel", "")), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	waitReady(t, statusPort)

	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(statusPort, journalPath, sink.URL, "sentinel-two", target.Addr())), 0o644); err != nil {
		t.Fatalf("write static-change config: %v", err)
	}
	time.Sleep(2500 * time.Millisecond)

	doc := fetchStatus(t, statusPort)
	if doc.Service != "sentinel" {
		t.Fatalf("service identity must not change on rejected reload: %q", doc.Service)
	}
	if len(doc.Monitors) != 1 {
		t.Fatalf("rejected reload must keep previous monitor set: %+v", doc.Monitors)
	}

	if err := os.WriteFile(configPath, []byte("not toml ["), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)

	doc = fetchStatus(t, statusPort)
	if !doc.Ready || len(doc.Monitors) != 1 {
		t.Fatalf("broken config must keep service running on previous snapshot: %+v", doc)
	}

	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(statusPort, journalPath, sink.URL, "sentinel", target.Addr())), 0o644); err != nil {
		t.Fatalf("write valid followup config: %v", err)
	}
	waitFor(t, 8*time.Second, func() bool {
		return len(fetchStatus(t, statusPort).Monitors) == 2
	})

	cancel()
	waitServiceStop(t, done)
}

func reloadConfigTOML(statusPort int, journalPath, sinkURL, serviceName, betaTarget string) string {
	base := fmt.Sprintf(`
[service]
name = %q
status_addr = "127.0.0.1:%d"
suppression_window_sec = 300
reload_enabled = true
reload_interval_sec = 1

[log.console]
enabled = true
level = "error"
format = "line"

[escalation]
journal_path = %q

[notify.webhook]
enabled = true
required = true
url = %q
method = "POST"
timeout_sec = 2

[monitor.alpha-tcp]
kind = "tcp"
target = "127.0.0.1:1"
interval_sec = 1
timeout_sec = 1
jitter_pct = 0
fail_threshold = 100
recovery_threshold = 1
`, serviceName, statusPort, journalPath, sinkURL)

	if betaTarget == "" {
		return base
	}

	return base + fmt.Sprintf(`
[monitor.beta-tcp]
kind = "tcp"
target = %q
interval_sec = 1
timeout_sec = 1
jitter_pct = 0
fail_threshold = 2
recovery_threshold = 1
`, betaTarget)
}
