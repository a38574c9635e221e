package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTCPProbeConnectAndRefuse(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	outcome := NewTCPProbe(listener.Addr().String()).Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected ok outcome, got %+v", outcome)
	}
	if outcome.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen closed: %v", err)
	}
	target := closed.Addr().String()
	_ = closed.Close()

	outcome = NewTCPProbe(target).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected failure for closed port, got %+v", outcome)
	}
	if !strings.Contains(outcome.Detail, "connect "+target) {
		t.Fatalf("unexpected detail %q", outcome.Detail)
	}
}

func TestTCPProbeTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	// Non-routable address per RFC 5737; the dial must hit the deadline.
	outcome := NewTCPProbe("192.0.2.1:443").Check(ctx)
	if outcome.OK {
		t.Fatalf("expected timeout failure, got %+v", outcome)
	}
}

func TestHTTPProbeStatusMatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/teapot" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	outcome := NewHTTPProbe(server.URL+"/ok", 0).Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected ok for 200, got %+v", outcome)
	}

	outcome = NewHTTPProbe(server.URL+"/teapot", http.StatusTeapot).Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected ok for matching custom status, got %+v", outcome)
	}

	outcome = NewHTTPProbe(server.URL+"/teapot", 0).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected failure for status mismatch, got %+v", outcome)
	}
	if !strings.Contains(outcome.Detail, "status=418 want=200") {
		t.Fatalf("unexpected detail %q", outcome.Detail)
	}
}

func TestServiceProbeActive(t *testing.T) {
	t.Parallel()

	p := NewServiceProbe("nginx.service", false, 0)
	p.run = func(_ context.Context, name string, args ...string) (string, error) {
		if name != "systemctl" || args[0] != "is-active" {
			t.Fatalf("unexpected command %s %v", name, args)
		}
		return "active", nil
	}

	outcome := p.Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected active unit ok, got %+v", outcome)
	}
}

func TestServiceProbeRestartRecovers(t *testing.T) {
	t.Parallel()

	restarts := 0
	checks := 0
	p := NewServiceProbe("camerad.service", true, 2)
	p.run = func(_ context.Context, _ string, args ...string) (string, error) {
		switch args[0] {
		case "is-active":
			checks++
			if restarts > 0 {
				return "active", nil
			}
			return "inactive", errors.New("exit status 3")
		case "restart":
			restarts++
			return "", nil
		}
		return "", fmt.Errorf("unexpected args %v", args)
	}

	outcome := p.Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected recovery by restart, got %+v", outcome)
	}
	if restarts != 1 {
		t.Fatalf("expected one restart, got %d", restarts)
	}
	if checks != 2 {
		t.Fatalf("expected recheck after restart, got %d checks", checks)
	}
	if !strings.Contains(outcome.Detail, "recovered by restart 1/2") {
		t.Fatalf("unexpected detail %q", outcome.Detail)
	}
}

func TestServiceProbeRestartAttemptsExhausted(t *testing.T) {
	t.Parallel()

	restarts := 0
	p := NewServiceProbe("camerad.service", true, 2)
	p.run = func(_ context.Context, _ string, args ...string) (string, error) {
		if args[0] == "restart" {
			restarts++
			return "", nil
		}
		return "failed", errors.New("exit status 3")
	}

	outcome := p.Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected failure after exhausted restarts, got %+v", outcome)
	}
	if restarts != 2 {
		t.Fatalf("expected 2 restart attempts, got %d", restarts)
	}
}

func TestPowerProbeReadsSupplyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	supply := filepath.Join(dir, "online")
	if err := os.WriteFile(supply, []byte("1\n"), 0o644); err != nil {
		t.Fatalf("write supply: %v", err)
	}

	outcome := NewPowerProbe(supply).Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected online supply ok, got %+v", outcome)
	}

	if err := os.WriteFile(supply, []byte("0\n"), 0o644); err != nil {
		t.Fatalf("write supply: %v", err)
	}
	outcome = NewPowerProbe(supply).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected offline supply failure, got %+v", outcome)
	}

	outcome = NewPowerProbe(filepath.Join(dir, "missing")).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected read error failure, got %+v", outcome)
	}
}

func TestMetricProbeThreshold(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `# TYPE node_load1 gauge`)
		fmt.Fprintln(w, `node_load1 1.5`)
		fmt.Fprintln(w, `# TYPE disk_free_bytes gauge`)
		fmt.Fprintln(w, `disk_free_bytes{mount="/data"} 1000`)
		fmt.Fprintln(w, `disk_free_bytes{mount="/"} 50`)
	}))
	defer server.Close()

	outcome := NewMetricProbe(server.URL, "node_load1", nil, "<", 2).Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected load below threshold ok, got %+v", outcome)
	}

	outcome = NewMetricProbe(server.URL, "node_load1", nil, ">", 2).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected violated predicate failure, got %+v", outcome)
	}
	if !strings.Contains(outcome.Detail, "violates") {
		t.Fatalf("unexpected detail %q", outcome.Detail)
	}

	outcome = NewMetricProbe(server.URL, "disk_free_bytes", map[string]string{"mount": "/"}, ">=", 100).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected label-selected series to violate, got %+v", outcome)
	}

	outcome = NewMetricProbe(server.URL, "disk_free_bytes", map[string]string{"mount": "/data"}, ">=", 100).Check(context.Background())
	if !outcome.OK {
		t.Fatalf("expected label-selected series to pass, got %+v", outcome)
	}
}

func TestMetricProbeMissingMetric(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `node_load1 1.5`)
	}))
	defer server.Close()

	outcome := NewMetricProbe(server.URL, "absent_metric", nil, "<", 2).Check(context.Background())
	if outcome.OK {
		t.Fatalf("expected missing metric failure, got %+v", outcome)
	}
	if !strings.Contains(outcome.Detail, "not exposed") {
		t.Fatalf("unexpected detail %q", outcome.Detail)
	}
}
