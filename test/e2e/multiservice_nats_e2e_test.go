package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMultiInstanceNATSQueueSingleDeliveryE2E(t *testing.T) {
	natsURL, stopNATS := startLocalNATSServer(t)
	defer stopNATS()

	ensureIncidentStream(t, natsURL, e2eIncidentStream, e2eIncidentSubj)

	collector := &deliveryCollector{}
	sink := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer sink.Close()

	portA, err := freePort()
	if err != nil {
		t.Fatalf("free port A: %v", err)
	}
	portB, err := freePort()
	if err != nil {
		t.Fatalf("free port B: %v", err)
	}

	tmpDir := t.TempDir()
	cfgAPath := filepath.Join(tmpDir, "svc-a.toml")
	cfgBPath := filepath.Join(tmpDir, "svc-b.toml")
	if err := os.WriteFile(cfgAPath, []byte(multiInstanceConfigTOML(portA, filepath.Join(tmpDir, "escalations-a.jsonl"), natsURL, sink.URL)), 0o644); err != nil {
		t.Fatalf("write config A: %v", err)
	}
	if err := os.WriteFile(cfgBPath, []byte(multiInstanceConfigTOML(portB, filepath.Join(tmpDir, "escalations-b.jsonl"), natsURL, sink.URL)), 0o644); err != nil {
		t.Fatalf("write config B: %v", err)
	}

	serviceA := newServiceFromConfig(t, cfgAPath)
	serviceB := newServiceFromConfig(t, cfgBPath)

	cancelA, doneA := runService(t, serviceA)
	defer cancelA()
	cancelB, doneB := runService(t, serviceB)
	defer cancelB()

	waitReady(t, portA)
	waitReady(t, portB)

	if err := publishNATSIncident(natsURL, e2eIncidentSubj, `{"source":"san-array","category":"disk","detail":"raid battery low"}`); err != nil {
		t.Fatalf("publish incident: %v", err)
	}
	waitFor(t, 8*time.Second, func() bool {
		return collector.Count("san-array", "disk") >= 1
	})
	time.Sleep(1200 * time.Millisecond)
	if total := collector.Total(); total != 1 {
		t.Fatalf("queue group must deliver once across instances, total=%d snapshot=%+v", total, collector.Snapshot())
	}

	if err := publishNATSIncident(natsURL, e2eIncidentSubj, `{"source":"san-array","category":"disk","detail":"raid battery low"}`); err != nil {
		t.Fatalf("publish duplicate incident: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if total := collector.Total(); total != 1 {
		t.Fatalf("shared marks must suppress cross-instance duplicates, total=%d snapshot=%+v", total, collector.Snapshot())
	}

	if err := publishNATSIncident(natsURL, e2eIncidentSubj, `{"source":"san-array","category":"network","detail":"iscsi path flapping"}`); err != nil {
		t.Fatalf("publish distinct incident: %v", err)
	}
	waitFor(t, 8*time.Second, func() bool {
		return collector.Count("san-array", "network") >= 1
	})
	if total := collector.Total(); total != 2 {
		t.Fatalf("distinct category must still deliver, total=%d snapshot=%+v", total, collector.Snapshot())
	}

	cancelA()
	cancelB()
	waitServiceStop(t, doneA)
	waitServiceStop(t, doneB)
}

func multiInstanceConfigTOML(statusPort int, journalPath, natsURL, sinkURL string) string {
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

[ingest]
enabled = true
url = ["%s"]

[notify.webhook]
enabled = true
required = true
url = %q
method = "POST"
timeout_sec = 2

[monitor.quiet-edge]
kind = "tcp"
target = "127.0.0.1:1"
interval_sec = 1
timeout_sec = 1
jitter_pct = 0
fail_threshold = 100
recovery_threshold = 1
`, statusPort, journalPath, natsURL, sinkURL)
}
