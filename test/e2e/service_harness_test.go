package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"sentinel/internal/app"
	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"
)

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
// Params: test handle and status HTTP port.
// Returns: service is ready or test fails on timeout.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// statusDoc mirrors the /statusz response document.
type statusDoc struct {
	Service   string                   `json:"service"`
	Ready     bool                     `json:"ready"`
	Providers []string                 `json:"providers"`
	Monitors  []domain.MonitorSnapshot `json:"monitors"`
}

// fetchStatus reads and decodes the /statusz document.
// Params: test handle and status HTTP port.
// Returns: decoded status payload.
func fetchStatus(t *testing.T, port int) statusDoc {
	t.Helper()

	response, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/statusz", port))
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", response.StatusCode)
	}

	var doc statusDoc
	if err := json.NewDecoder(response.Body).Decode(&doc); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	return doc
}

// deliveryCollector records alert events POSTed by the webhook provider.
type deliveryCollector struct {
	mu    sync.Mutex
	items []domain.AlertEvent
}

func (c *deliveryCollector) Handle(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer request.Body.Close()

	var payload domain.AlertEvent
	if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.items = append(c.items, payload)
	c.mu.Unlock()

	writer.WriteHeader(http.StatusOK)
}

func (c *deliveryCollector) Count(source, category string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, item := range c.items {
		if item.Source == source && item.Category == category {
			count++
		}
	}
	return count
}

func (c *deliveryCollector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *deliveryCollector) Find(source, category string) (domain.AlertEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.items {
		if item.Source == source && item.Category == category {
			return item, true
		}
	}
	return domain.AlertEvent{}, false
}

func (c *deliveryCollector) Last(source, category string) (domain.AlertEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.items) - 1; i >= 0; i-- {
		if c.items[i].Source == source && c.items[i].Category == category {
			return c.items[i], true
		}
	}
	return domain.AlertEvent{}, false
}

func (c *deliveryCollector) Snapshot() []domain.AlertEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AlertEvent(nil), c.items...)
}

// tcpTarget is a closable TCP endpoint probed by monitor scenarios. The
// listener never accepts; probe dials complete from the listen backlog.
type tcpTarget struct {
	t        *testing.T
	addr     string
	mu       sync.Mutex
	listener net.Listener
}

func newTCPTarget(t *testing.T) *tcpTarget {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp target: %v", err)
	}
	target := &tcpTarget{t: t, addr: listener.Addr().String(), listener: listener}
	t.Cleanup(target.Stop)
	return target
}

func (target *tcpTarget) Addr() string {
	return target.addr
}

func (target *tcpTarget) Stop() {
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.listener == nil {
		return
	}
	_ = target.listener.Close()
	target.listener = nil
}

func (target *tcpTarget) Start() {
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.listener != nil {
		return
	}
	listener, err := net.Listen("tcp", target.addr)
	if err != nil {
		target.t.Fatalf("restart tcp target on %s: %v", target.addr, err)
	}
	target.listener = listener
}
