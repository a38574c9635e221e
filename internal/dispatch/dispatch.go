package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"sentinel/internal/alert"
	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/escalate"
	"sentinel/internal/metrics"
	"sentinel/internal/permanent"
	"sentinel/internal/provider"
	"sentinel/internal/state"
)

// providerBinding pairs one sender with its dispatch policy.
// Params: sender, required flag, and retry settings.
// Returns: per-provider delivery plan.
type providerBinding struct {
	sender   provider.Sender
	required bool
	retry    config.NotifyRetry
}

// deliveryOutcome is the result of one provider fan-out branch.
// Params: none.
// Returns: attempt trail and final ack flag.
type deliveryOutcome struct {
	attempts []domain.DeliveryAttempt
	acked    bool
}

// Dispatcher drains the alert queue and fans deliveries out to providers.
// Params: bounded FIFO queue, suppression store, and escalation sink.
// Returns: single-consumer dispatcher; Enqueue is safe from any goroutine.
type Dispatcher struct {
	queue     chan domain.AlertEvent
	bindings  []providerBinding
	store     state.Store
	window    time.Duration
	escalator escalate.Sink
	logger    *slog.Logger
	clk       clock.Clock

	mu          sync.RWMutex
	onDelivered func(event domain.AlertEvent, at time.Time)
}

// NewDispatcher builds dispatcher from enabled providers and service policy.
// Params: service policy, notify config, sender set, suppression store,
// escalation sink, logger, and clock.
// Returns: dispatcher ready for Run.
func NewDispatcher(
	service config.ServiceConfig,
	notify config.NotifyConfig,
	senders map[string]provider.Sender,
	store state.Store,
	escalator escalate.Sink,
	logger *slog.Logger,
	clk clock.Clock,
) *Dispatcher {
	names := make([]string, 0, len(senders))
	for name := range senders {
		names = append(names, name)
	}
	sort.Strings(names)

	bindings := make([]providerBinding, 0, len(names))
	for _, name := range names {
		bindings = append(bindings, providerBinding{
			sender:   senders[name],
			required: config.ProviderRequired(notify, name),
			retry:    config.ProviderRetry(notify, name),
		})
	}

	capacity := service.QueueCapacity
	if capacity <= 0 {
		capacity = config.DefaultQueueCapacity
	}

	return &Dispatcher{
		queue:     make(chan domain.AlertEvent, capacity),
		bindings:  bindings,
		store:     store,
		window:    time.Duration(service.SuppressionWindowSec) * time.Second,
		escalator: escalator,
		logger:    logger,
		clk:       clk,
	}
}

// OnDelivered registers callback invoked after each delivered alert.
// Params: callback receiving event and delivery time.
// Returns: nothing; intended for wiring before Run.
func (d *Dispatcher) OnDelivered(fn func(event domain.AlertEvent, at time.Time)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDelivered = fn
}

// Providers lists bound provider names.
// Params: none.
// Returns: deterministic provider keys.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.bindings))
	for _, binding := range d.bindings {
		names = append(names, binding.sender.Name())
	}
	return names
}

// Enqueue appends one alert event without blocking the caller.
// Params: normalized alert event.
// Returns: false when the queue is full and the event was dropped.
func (d *Dispatcher) Enqueue(event domain.AlertEvent) bool {
	select {
	case d.queue <- event:
		metrics.ObserveEnqueue(event.Severity, true)
		return true
	default:
		metrics.ObserveEnqueue(event.Severity, false)
		d.logger.Warn("alert queue full, dropping event",
			"dedup_key", event.DedupKey,
			"severity", string(event.Severity),
			"title", event.Title,
		)
		return false
	}
}

// SubmitTransition normalizes and enqueues one monitor status transition.
// Params: immutable transition event.
// Returns: nothing; queue overflow is logged by Enqueue.
func (d *Dispatcher) SubmitTransition(transition domain.StateTransition) {
	d.Enqueue(alert.NormalizeTransition(transition))
}

// Submit normalizes and enqueues one externally reported incident.
// Params: validated incident record.
// Returns: error when the queue rejected the event.
func (d *Dispatcher) Submit(incident domain.Incident) error {
	if !d.Enqueue(alert.NormalizeIncident(incident, d.clk.Now())) {
		return fmt.Errorf("alert queue is full")
	}
	return nil
}

// SubmitBatch normalizes and enqueues a batch of incidents.
// Params: validated incident batch.
// Returns: error naming how many events the full queue dropped.
func (d *Dispatcher) SubmitBatch(incidents []domain.Incident) error {
	now := d.clk.Now()
	dropped := 0
	for _, incident := range incidents {
		if !d.Enqueue(alert.NormalizeIncident(incident, now)) {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("alert queue is full, dropped %d of %d incidents", dropped, len(incidents))
	}
	return nil
}

// Run consumes queued alerts in FIFO order until context cancellation.
// Params: lifecycle context.
// Returns: nil after the loop stops; abandoned queue entries are logged.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.logAbandoned()
			return nil
		case event := <-d.queue:
			d.process(ctx, event)
		}
	}
}

// process delivers one event through suppression check and provider fan-out.
// Params: lifecycle context and dequeued event.
// Returns: nothing; every branch ends in delivered, suppressed, or escalated.
func (d *Dispatcher) process(ctx context.Context, event domain.AlertEvent) {
	suppressed, err := d.store.Suppressed(ctx, event.DedupKey)
	if err != nil {
		// Fail open: a broken suppression store must not silence alerts.
		d.logger.Warn("suppression lookup failed", "dedup_key", event.DedupKey, "error", err.Error())
	}
	if suppressed {
		metrics.ObserveSuppressed()
		d.logger.Info("alert suppressed",
			"dedup_key", event.DedupKey,
			"severity", string(event.Severity),
		)
		return
	}

	outcomes := make([]deliveryOutcome, len(d.bindings))
	var wg sync.WaitGroup
	for i := range d.bindings {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			outcomes[slot] = d.deliver(ctx, d.bindings[slot], event)
		}(i)
	}
	wg.Wait()

	requiredAcked := false
	attempts := make([]domain.DeliveryAttempt, 0, len(outcomes))
	for i, outcome := range outcomes {
		attempts = append(attempts, outcome.attempts...)
		if d.bindings[i].required && outcome.acked {
			requiredAcked = true
		}
	}

	if requiredAcked {
		d.markDelivered(ctx, event)
		return
	}
	d.escalateUndelivered(ctx, event, attempts)
}

// markDelivered records suppression mark and fires the delivered callback.
// Params: lifecycle context and delivered event.
// Returns: nothing; store errors are logged and do not undo delivery.
func (d *Dispatcher) markDelivered(ctx context.Context, event domain.AlertEvent) {
	now := d.clk.Now()
	if err := d.store.MarkDelivered(ctx, event.DedupKey, now, d.window); err != nil {
		d.logger.Warn("suppression mark failed", "dedup_key", event.DedupKey, "error", err.Error())
	}
	d.logger.Info("alert delivered",
		"dedup_key", event.DedupKey,
		"severity", string(event.Severity),
		"title", event.Title,
	)

	d.mu.RLock()
	callback := d.onDelivered
	d.mu.RUnlock()
	if callback != nil {
		callback(event, now)
	}
}

// escalateUndelivered surfaces total delivery failure on the side channel.
// Params: lifecycle context, undelivered event, and full attempt trail.
// Returns: nothing; sink errors are logged, the event is never retried here.
func (d *Dispatcher) escalateUndelivered(ctx context.Context, event domain.AlertEvent, attempts []domain.DeliveryAttempt) {
	metrics.ObserveEscalation()
	d.logger.Error("alert undelivered, no required provider acknowledged",
		"dedup_key", event.DedupKey,
		"severity", string(event.Severity),
		"attempts", len(attempts),
	)

	escalation := domain.Escalation{
		Event:    event,
		Reason:   fmt.Sprintf("no required provider acknowledged after %d attempts", len(attempts)),
		Attempts: attempts,
		FailedAt: d.clk.Now(),
	}
	if err := d.escalator.Escalate(ctx, escalation); err != nil {
		d.logger.Error("escalation sink failed", "dedup_key", event.DedupKey, "error", err.Error())
	}
}

// deliver sends one event to one provider with sequential retry policy.
// Params: lifecycle context, provider binding, and event payload.
// Returns: attempt trail and whether the provider acknowledged.
func (d *Dispatcher) deliver(ctx context.Context, binding providerBinding, event domain.AlertEvent) deliveryOutcome {
	retry := binding.retry
	name := binding.sender.Name()

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	var attempts []domain.DeliveryAttempt

	for {
		attempt++
		metrics.ObserveDeliveryAttempt(name)
		_, err := binding.sender.Send(ctx, event)
		attemptedAt := d.clk.Now()
		if err == nil {
			attempts = append(attempts, domain.DeliveryAttempt{
				Provider:    name,
				Attempt:     attempt,
				Result:      domain.AttemptAcked,
				AttemptedAt: attemptedAt,
			})
			metrics.ObserveDelivery(name, true)
			stopRetryTimer(timer)
			if retry.LogEachAttempt && attempt > 1 {
				d.logger.Info("alert send recovered after retries", "provider", name, "attempt", attempt)
			}
			return deliveryOutcome{attempts: attempts, acked: true}
		}

		attempts = append(attempts, domain.DeliveryAttempt{
			Provider:    name,
			Attempt:     attempt,
			Result:      domain.AttemptFailed,
			Reason:      err.Error(),
			AttemptedAt: attemptedAt,
		})
		if retry.LogEachAttempt {
			d.logger.Warn("alert send attempt failed", "provider", name, "attempt", attempt, "error", err.Error())
		}

		if permanent.Is(err) {
			metrics.ObserveDelivery(name, false)
			stopRetryTimer(timer)
			d.logger.Warn("alert send failed permanently", "provider", name, "attempt", attempt, "error", err.Error())
			return deliveryOutcome{attempts: attempts, acked: false}
		}
		if !retry.Enabled || (retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts) {
			metrics.ObserveDelivery(name, false)
			stopRetryTimer(timer)
			d.logger.Warn("alert send retries exhausted", "provider", name, "attempts", attempt, "error", err.Error())
			return deliveryOutcome{attempts: attempts, acked: false}
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			stopRetryTimer(timer)
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			stopRetryTimer(timer)
			metrics.ObserveDelivery(name, false)
			d.logger.Warn("alert retry abandoned at shutdown", "provider", name, "attempts", attempt, "dedup_key", event.DedupKey)
			return deliveryOutcome{attempts: attempts, acked: false}
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// logAbandoned drains remaining queue entries on shutdown with a log trail.
// Params: none.
// Returns: nothing; every abandoned event leaves a log line.
func (d *Dispatcher) logAbandoned() {
	for {
		select {
		case event := <-d.queue:
			d.logger.Warn("alert abandoned at shutdown",
				"dedup_key", event.DedupKey,
				"severity", string(event.Severity),
			)
		default:
			return
		}
	}
}

// stopRetryTimer stops timer and drains a fired tick if present.
// Params: timer pointer, may be nil.
// Returns: nothing.
func stopRetryTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
