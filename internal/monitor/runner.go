package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/metrics"
	"sentinel/internal/probe"
)

const heartbeatTimeout = 5 * time.Second

// TransitionSink consumes accepted status transitions from runner loops.
// Params: immutable transition event.
// Returns: nothing; submission must not block on dispatch internals.
type TransitionSink interface {
	SubmitTransition(transition domain.StateTransition)
}

// Runner owns one monitor loop polling its probe on an independent timer.
// Params: machine, probe, schedule settings, and transition sink.
// Returns: runner started via Run in its own goroutine.
type Runner struct {
	machine      *Machine
	probe        probe.Probe
	interval     time.Duration
	timeout      time.Duration
	jitterPct    int
	heartbeatURL string
	sink         TransitionSink
	logger       *slog.Logger
	clk          clock.Clock
	httpClient   *http.Client
}

// NewRunner creates monitor runner from validated config.
// Params: monitor config, state machine, probe, sink, logger, and clock.
// Returns: initialized runner.
func NewRunner(
	cfg config.MonitorConfig,
	machine *Machine,
	p probe.Probe,
	sink TransitionSink,
	logger *slog.Logger,
	clk clock.Clock,
) *Runner {
	return &Runner{
		machine:      machine,
		probe:        p,
		interval:     time.Duration(cfg.IntervalSec) * time.Second,
		timeout:      time.Duration(cfg.TimeoutSec) * time.Second,
		jitterPct:    cfg.JitterPct,
		heartbeatURL: cfg.HeartbeatURL,
		sink:         sink,
		logger:       logger,
		clk:          clk,
		httpClient:   &http.Client{Timeout: heartbeatTimeout},
	}
}

// Name returns monitor name owning this runner.
// Params: none.
// Returns: monitor name.
func (r *Runner) Name() string {
	return r.machine.Name()
}

// Snapshot copies current machine state.
// Params: none.
// Returns: read-only monitor snapshot.
func (r *Runner) Snapshot() domain.MonitorSnapshot {
	return r.machine.Snapshot()
}

// MarkAlertSent records delivery time on the owned machine.
// Params: delivery timestamp.
// Returns: nothing.
func (r *Runner) MarkAlertSent(at time.Time) {
	r.machine.MarkAlertSent(at)
}

// Run executes the polling loop until context cancellation.
// Params: lifecycle context.
// Returns: after the in-flight poll finishes and the loop stops.
func (r *Runner) Run(ctx context.Context) {
	timer := time.NewTimer(r.startupDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("monitor loop stopped", "monitor", r.Name())
			return
		case <-timer.C:
		}
		r.poll(ctx)
		timer.Reset(r.nextDelay())
	}
}

// poll executes one probe check and feeds the outcome to the machine.
// Params: lifecycle context; the check itself is bounded by the probe timeout.
// Returns: nothing; probe errors and panics become failed outcomes.
func (r *Runner) poll(ctx context.Context) {
	// The in-flight check runs to its own timeout even when shutdown
	// cancels the loop context.
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	outcome := r.check(checkCtx)
	cancel()

	now := r.clk.Now()
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = now
	}

	transition := r.machine.Apply(outcome, now)
	metrics.ObserveProbeCheck(r.Name(), outcome.OK, r.machine.Status())
	r.logger.Debug("probe check done",
		"monitor", r.Name(),
		"kind", r.probe.Kind(),
		"ok", outcome.OK,
		"detail", outcome.Detail,
	)

	if transition != nil {
		metrics.ObserveTransition(r.Name(), transition.To)
		r.logger.Info("monitor status changed",
			"monitor", r.Name(),
			"from", string(transition.From),
			"to", string(transition.To),
			"detail", transition.Detail,
		)
		r.sink.SubmitTransition(*transition)
	}

	if outcome.OK && r.heartbeatURL != "" {
		r.pushHeartbeat(ctx)
	}
}

// check invokes the probe with a panic guard at the poll boundary.
// Params: bounded check context.
// Returns: probe outcome; panics convert into failed outcomes.
func (r *Runner) check(ctx context.Context) (outcome domain.Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = domain.Outcome{
				OK:        false,
				Detail:    fmt.Sprintf("probe panic: %v", recovered),
				Timestamp: time.Now().UTC(),
			}
			r.logger.Error("probe panicked", "monitor", r.Name(), "panic", fmt.Sprint(recovered))
		}
	}()
	return r.probe.Check(ctx)
}

// pushHeartbeat reports one successful check to the external heartbeat URL.
// Params: lifecycle context.
// Returns: nothing; push failures are logged and never affect monitor state.
func (r *Runner) pushHeartbeat(ctx context.Context) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.heartbeatURL, nil)
	if err != nil {
		r.logger.Warn("heartbeat request build failed", "monitor", r.Name(), "error", err.Error())
		return
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		r.logger.Warn("heartbeat push failed", "monitor", r.Name(), "error", err.Error())
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 1024))
	_ = response.Body.Close()
}

// startupDelay returns initial stagger delay within the jitter share.
// Params: none.
// Returns: random delay in [0, jitter share of interval].
func (r *Runner) startupDelay() time.Duration {
	jitterSpan := r.jitterSpan()
	if jitterSpan <= 0 {
		return 0
	}
	return rand.N(jitterSpan)
}

// nextDelay returns next poll delay with symmetric jitter applied.
// Params: none.
// Returns: interval shifted by random value in [-jitter, +jitter].
func (r *Runner) nextDelay() time.Duration {
	jitterSpan := r.jitterSpan()
	if jitterSpan <= 0 {
		return r.interval
	}
	delay := r.interval - jitterSpan + rand.N(2*jitterSpan)
	if delay <= 0 {
		return r.interval
	}
	return delay
}

// jitterSpan computes absolute jitter span from the configured percentage.
// Params: none.
// Returns: jitter duration share of the interval.
func (r *Runner) jitterSpan() time.Duration {
	if r.jitterPct <= 0 {
		return 0
	}
	return r.interval * time.Duration(r.jitterPct) / 100
}
