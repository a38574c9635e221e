package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/dispatch"
	"sentinel/internal/domain"
	"sentinel/internal/escalate"
	"sentinel/internal/ingest"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/monitor"
	"sentinel/internal/probe"
	"sentinel/internal/provider"
	"sentinel/internal/state"
)

const (
	statusReadHeaderTimeout = 5 * time.Second
	reloadDebounce          = 500 * time.Millisecond
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable monitoring service.
type Service struct {
	source     config.ConfigSource
	logger     *slog.Logger
	closeLog   func()
	store      state.Store
	escalator  *escalate.Tee
	dispatcher *dispatch.Dispatcher
	statusSrv  *http.Server
	webhookSrv *http.Server
	natsSub    interface{ Close() error }
	readyFlag  atomic.Bool
	clock      clock.Clock

	mu       sync.Mutex
	cfg      config.Config
	registry *monitor.Registry
	running  map[string]*runnerHandle
	stopped  bool

	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
}

// runnerHandle tracks one monitor loop with its definition and lifecycle.
// Params: source definition, built runner, and loop cancel/done pair.
// Returns: handle owned by the service running set.
type runnerHandle struct {
	definition config.MonitorConfig
	runner     *monitor.Runner
	cancel     context.CancelFunc
	done       chan struct{}
}

// statusPayload is the introspection document served on the status endpoint.
// Params: none.
// Returns: service identity, readiness, and per-monitor snapshots.
type statusPayload struct {
	Service   string                   `json:"service"`
	Ready     bool                     `json:"ready"`
	Providers []string                 `json:"providers"`
	Monitors  []domain.MonitorSnapshot `json:"monitors"`
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		closeLog()
		return nil, err
	}

	store, err := buildStore(cfg, clk)
	if err != nil {
		closeLog()
		return nil, err
	}

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		store:    store,
		clock:    clk,
	}

	if err := service.buildEscalator(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	senders := provider.NewSenders(cfg.Notify)
	service.dispatcher = dispatch.NewDispatcher(cfg.Service, cfg.Notify, senders, store, service.escalator, logger, clk)
	service.dispatcher.OnDelivered(service.recordAlertDelivery)

	registry, running, err := buildRunnerSet(cfg.Monitor, service.dispatcher, logger, clk)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.registry = registry
	service.running = running

	if err := service.buildStatusServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildWebhookServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 3)

	// The dispatcher and monitor loops stop via explicit cancels inside
	// shutdown so that intake closes before the queue stops draining.
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()
	s.dispatchCancel = dispatchCancel
	s.dispatchDone = make(chan struct{})
	go func() {
		defer close(s.dispatchDone)
		if err := s.dispatcher.Run(dispatchCtx); err != nil {
			s.logger.Error("dispatch loop failed", "error", err.Error())
		}
	}()

	s.mu.Lock()
	for _, handle := range s.running {
		s.startRunner(handle)
	}
	monitorCount := len(s.running)
	s.mu.Unlock()
	s.logger.Info("monitor runners started", "monitors", monitorCount)

	go func() {
		s.logger.Info("status server starting", "listen", s.statusSrv.Addr)
		err := s.statusSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("status server failed: %w", err)
		}
	}()

	if s.webhookSrv != nil {
		go func() {
			s.logger.Info("webhook ingest starting", "listen", s.webhookSrv.Addr, "path", s.cfg.Webhook.Path)
			err := s.webhookSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("webhook server failed: %w", err)
			}
		}()
	}

	if s.cfg.Service.ReloadEnabled {
		reloadHints := make(chan struct{}, 1)
		if err := s.watchConfigSource(shutdownCtx, reloadHints); err != nil {
			s.logger.Warn("config watch unavailable, relying on periodic reload", "error", err.Error())
		}
		reloadTicker := time.NewTicker(time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
				case <-reloadHints:
				}
				if err := s.reloadConfig(); err != nil {
					s.logger.Error("reload failed", "error", err.Error())
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return err
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)

	s.mu.Lock()
	s.stopped = true
	grace := time.Duration(s.cfg.Service.ShutdownGraceSec) * time.Second
	handles := make([]*runnerHandle, 0, len(s.running))
	for _, handle := range s.running {
		handles = append(handles, handle)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.webhookSrv != nil {
		if err := s.webhookSrv.Shutdown(ctx); err != nil {
			s.logger.Error("webhook shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("webhook shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}

	for _, handle := range handles {
		if handle.cancel != nil {
			handle.cancel()
		}
	}
	if !handlesStopped(ctx, handles) {
		s.logger.Error("monitor runners did not stop before grace deadline")
		markErr(errors.New("monitor stop timed out"))
	}

	if s.dispatchCancel != nil {
		s.dispatchCancel()
		select {
		case <-s.dispatchDone:
		case <-ctx.Done():
			s.logger.Error("dispatcher did not stop before grace deadline")
			markErr(errors.New("dispatcher stop timed out"))
		}
	}

	if err := s.escalator.Close(); err != nil {
		s.logger.Error("escalation sink close failed", "error", err.Error())
		markErr(fmt.Errorf("escalation sink close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if err := s.statusSrv.Shutdown(ctx); err != nil {
		s.logger.Error("status server shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("status server shutdown: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.webhookSrv != nil {
		_ = s.webhookSrv.Close()
		s.webhookSrv = nil
	}
	if s.statusSrv != nil {
		_ = s.statusSrv.Close()
		s.statusSrv = nil
	}
	if s.escalator != nil {
		_ = s.escalator.Close()
		s.escalator = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildEscalator wires the journal plus optional stream escalation sink.
// Params: none.
// Returns: setup error when the journal or stream cannot be opened.
func (s *Service) buildEscalator() error {
	journal, err := escalate.NewJournal(s.cfg.Escalation.JournalPath)
	if err != nil {
		return err
	}
	var secondary escalate.Sink
	if s.cfg.Escalation.NATS.Enabled {
		sink, err := escalate.NewNATSSink(s.cfg.Escalation.NATS)
		if err != nil {
			_ = journal.Close()
			return err
		}
		secondary = sink
	}
	s.escalator = escalate.NewTee(journal, secondary, s.logger)
	return nil
}

// buildStatusServer wires health, readiness, status, and metrics endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildStatusServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.HandleFunc("/statusz", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.statusSrv = &http.Server{
		Addr:              s.cfg.Service.StatusAddr,
		Handler:           mux,
		ReadHeaderTimeout: statusReadHeaderTimeout,
	}
	return nil
}

// buildWebhookServer wires the incident ingest endpoint when enabled.
// Params: none.
// Returns: setup error.
func (s *Service) buildWebhookServer() error {
	if !s.cfg.Webhook.Enabled {
		return nil
	}
	handler := ingest.NewHTTPHandler(s.dispatcher, s.cfg.Webhook.AuthToken, s.cfg.Webhook.MaxBodyBytes)
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Webhook.Path, handler)

	s.webhookSrv = &http.Server{
		Addr:              s.cfg.Webhook.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(s.cfg.Webhook.ReadHeaderTimeoutSec) * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts stream incident ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest, s.dispatcher, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// handleStatus serves the JSON status document with monitor snapshots.
// Params: HTTP request/response writer pair.
// Returns: writes current registry snapshots and provider bindings.
func (s *Service) handleStatus(writer http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	registry := s.registry
	serviceName := s.cfg.Service.Name
	s.mu.Unlock()

	payload := statusPayload{
		Service:   serviceName,
		Ready:     s.readyFlag.Load(),
		Providers: s.dispatcher.Providers(),
		Monitors:  registry.Snapshots(),
	}
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		s.logger.Warn("status encode failed", "error", err.Error())
	}
}

// recordAlertDelivery stamps monitor bookkeeping after acknowledged fan-out.
// Params: delivered event and acknowledgment time.
// Returns: nothing; events from external sources have no matching monitor.
func (s *Service) recordAlertDelivery(event domain.AlertEvent, at time.Time) {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()
	registry.MarkAlertSent(event.Source, at)
}

// reloadConfig reloads the source and applies monitor-set changes.
// Params: none.
// Returns: load error, restart-required error, or rebuild error.
func (s *Service) reloadConfig() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}

	s.mu.Lock()
	currentCfg := s.cfg
	s.mu.Unlock()

	if !staticSectionsEqual(currentCfg, nextCfg) {
		return errors.New("non-monitor configuration change requires restart")
	}
	if reflect.DeepEqual(currentCfg.Monitor, nextCfg.Monitor) {
		return nil
	}

	if err := s.applyMonitors(nextCfg.Monitor); err != nil {
		return err
	}
	s.logger.Info("monitor set reloaded", "monitors", s.registry.Len())
	return nil
}

// applyMonitors diffs the running monitor set against the next definitions.
// Params: complete next monitor list, disabled entries included.
// Returns: error when the service is stopping or a replacement cannot be built.
func (s *Service) applyMonitors(next []config.MonitorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("service is stopping")
	}

	desired := make(map[string]config.MonitorConfig, len(next))
	for _, mon := range next {
		if !mon.Disabled {
			desired[mon.Name] = mon
		}
	}

	var stale []string
	for name, handle := range s.running {
		mon, ok := desired[name]
		if ok && reflect.DeepEqual(handle.definition, mon) {
			// Unchanged monitors keep their loop and debounce streak.
			delete(desired, name)
			continue
		}
		stale = append(stale, name)
	}

	// Build every replacement before stopping anything so a bad probe
	// definition leaves the running set untouched.
	added := make(map[string]*runnerHandle, len(desired))
	for name, mon := range desired {
		runner, err := buildRunner(mon, s.dispatcher, s.logger, s.clock)
		if err != nil {
			return err
		}
		added[name] = &runnerHandle{definition: mon, runner: runner}
	}

	for _, name := range stale {
		handle := s.running[name]
		if handle.cancel != nil {
			handle.cancel()
			<-handle.done
		}
		s.registry.Remove(name)
		delete(s.running, name)
	}
	for name, handle := range added {
		if err := s.registry.Register(handle.runner); err != nil {
			return err
		}
		s.startRunner(handle)
		s.running[name] = handle
	}
	s.cfg.Monitor = next
	return nil
}

// startRunner launches the runner loop unless the handle already started.
// Params: handle owned by the running set; callers hold the service mutex.
// Returns: nothing.
func (s *Service) startRunner(handle *runnerHandle) {
	if handle.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	handle.cancel = cancel
	handle.done = make(chan struct{})
	go func() {
		defer close(handle.done)
		handle.runner.Run(ctx)
	}()
}

// watchConfigSource emits reload hints when source files change on disk.
// Params: lifecycle context and buffered hint channel.
// Returns: watcher setup error; watch loop failures degrade to the ticker.
func (s *Service) watchConfigSource(ctx context.Context, reloadHints chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the parent directory so atomic saves (write to temp file,
	// rename over the original) are still observed.
	watchDir := s.source.Dir
	if watchDir == "" {
		watchDir = filepath.Dir(s.source.File)
	}
	if err := watcher.Add(watchDir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var timerMu sync.Mutex
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				timerMu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				timerMu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !s.relevantConfigEvent(event) {
					continue
				}
				timerMu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					select {
					case reloadHints <- struct{}{}:
					default:
					}
				})
				timerMu.Unlock()
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watch error", "error", watchErr.Error())
			}
		}
	}()
	return nil
}

func (s *Service) relevantConfigEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	if s.source.File != "" {
		return filepath.Base(event.Name) == filepath.Base(s.source.File)
	}
	return strings.EqualFold(filepath.Ext(event.Name), ".toml")
}

// buildRunner constructs the probe, machine, and runner for one monitor.
// Params: monitor definition, transition sink, logger, and clock.
// Returns: ready runner or probe construction error.
func buildRunner(mon config.MonitorConfig, sink monitor.TransitionSink, logger *slog.Logger, clk clock.Clock) (*monitor.Runner, error) {
	p, err := probe.New(mon)
	if err != nil {
		return nil, fmt.Errorf("monitor %q: %w", mon.Name, err)
	}
	machine := monitor.NewMachine(mon.Name, mon.Kind, monitor.Thresholds{
		Fail:     mon.FailThreshold,
		Recovery: mon.RecoveryThreshold,
		Degraded: mon.DegradedThreshold,
	})
	return monitor.NewRunner(mon, machine, p, sink, logger, clk), nil
}

// buildRunnerSet constructs runners and handles for every enabled monitor.
// Params: monitor definitions, transition sink, logger, and clock.
// Returns: populated registry plus the handle map keyed by monitor name.
func buildRunnerSet(monitors []config.MonitorConfig, sink monitor.TransitionSink, logger *slog.Logger, clk clock.Clock) (*monitor.Registry, map[string]*runnerHandle, error) {
	registry := monitor.NewRegistry()
	running := make(map[string]*runnerHandle, len(monitors))
	for _, mon := range monitors {
		if mon.Disabled {
			continue
		}
		runner, err := buildRunner(mon, sink, logger, clk)
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(runner); err != nil {
			return nil, nil, err
		}
		running[mon.Name] = &runnerHandle{definition: mon, runner: runner}
	}
	return registry, running, nil
}

// handlesStopped waits for every started runner loop or deadline expiry.
// Params: deadline context and handle snapshot.
// Returns: true when every loop finished in time.
func handlesStopped(ctx context.Context, handles []*runnerHandle) bool {
	for _, handle := range handles {
		if handle.done == nil {
			continue
		}
		select {
		case <-handle.done:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// buildStore creates the suppression mark backend from config.
// Params: root config snapshot and clock.
// Returns: shared stream-backed store when stream ingest is enabled, else
// a process-local in-memory store.
func buildStore(cfg config.Config, clk clock.Clock) (state.Store, error) {
	if !cfg.Ingest.Enabled {
		return state.NewMemoryStore(clk.Now), nil
	}
	return state.NewNATSStore(config.DeriveStateNATSConfig(cfg))
}

func staticSectionsEqual(current, next config.Config) bool {
	current.Monitor = nil
	next.Monitor = nil
	return reflect.DeepEqual(current, next)
}
