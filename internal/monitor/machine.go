package monitor

import (
	"sync"
	"time"

	"sentinel/internal/domain"
)

// Thresholds groups debounce gates for one monitor.
// Params: consecutive-sample counts required to accept a status change.
// Returns: gate settings consumed by the state machine.
type Thresholds struct {
	// Fail is consecutive failures required to gate StatusFailed.
	Fail int
	// Recovery is consecutive successes required to leave Failed/Degraded.
	Recovery int
	// Degraded is consecutive failures gating StatusDegraded; 0 disables the rung.
	Degraded int
}

// Machine applies probe outcomes to one monitor state with threshold gating.
// Params: monitor identity, gates, and counters guarded for snapshot readers.
// Returns: state machine mutated only by the owning runner loop.
type Machine struct {
	mu         sync.RWMutex
	name       string
	kind       string
	thresholds Thresholds

	status           domain.Status
	failures         int
	successes        int
	lastDetail       string
	lastCheckedAt    time.Time
	lastTransitionAt time.Time
	lastAlertSentAt  time.Time
}

// NewMachine creates state machine starting in StatusUnknown.
// Params: monitor name, probe kind, and threshold gates.
// Returns: initialized machine.
func NewMachine(name, kind string, thresholds Thresholds) *Machine {
	return &Machine{
		name:       name,
		kind:       kind,
		thresholds: thresholds,
		status:     domain.StatusUnknown,
	}
}

// Name returns monitor name owning this machine.
// Params: none.
// Returns: monitor name.
func (m *Machine) Name() string {
	return m.name
}

// Apply feeds one probe outcome and gates the resulting status.
// Params: outcome sample and sample timestamp.
// Returns: transition when the gated status differs from the recorded one, else nil.
func (m *Machine) Apply(outcome domain.Outcome, now time.Time) *domain.StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if outcome.OK {
		m.successes++
		m.failures = 0
	} else {
		m.failures++
		m.successes = 0
	}
	m.lastDetail = outcome.Detail
	m.lastCheckedAt = now

	gated := m.gatedStatus()
	if gated == m.status {
		return nil
	}

	transition := &domain.StateTransition{
		MonitorName: m.name,
		From:        m.status,
		To:          gated,
		Detail:      outcome.Detail,
		At:          now,
	}
	if gated == domain.StatusHealthy && (m.status == domain.StatusFailed || m.status == domain.StatusDegraded) && !m.lastTransitionAt.IsZero() {
		transition.Downtime = now.Sub(m.lastTransitionAt)
	}
	m.status = gated
	m.lastTransitionAt = now
	return transition
}

// gatedStatus computes target status from current counters.
// Params: none (reads counters under the held lock).
// Returns: status after applying fail/degraded/recovery gates.
func (m *Machine) gatedStatus() domain.Status {
	if m.thresholds.Fail > 0 && m.failures >= m.thresholds.Fail {
		return domain.StatusFailed
	}
	if m.thresholds.Degraded > 0 && m.failures >= m.thresholds.Degraded {
		return domain.StatusDegraded
	}

	switch m.status {
	case domain.StatusFailed, domain.StatusDegraded:
		if m.successes >= m.thresholds.Recovery {
			return domain.StatusHealthy
		}
	case domain.StatusUnknown:
		// First success establishes the healthy baseline; the recovery
		// gate applies only when leaving Failed/Degraded.
		if m.successes >= 1 {
			return domain.StatusHealthy
		}
	}
	return m.status
}

// Status returns current gated status.
// Params: none.
// Returns: recorded status.
func (m *Machine) Status() domain.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// MarkAlertSent records delivery time of the latest alert for this monitor.
// Params: delivery timestamp.
// Returns: nothing.
func (m *Machine) MarkAlertSent(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAlertSentAt = at
}

// Snapshot copies current runtime state for status reporting.
// Params: none.
// Returns: read-only snapshot with nil-able timestamps.
func (m *Machine) Snapshot() domain.MonitorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := domain.MonitorSnapshot{
		Name:                 m.name,
		Kind:                 m.kind,
		Status:               m.status,
		ConsecutiveFailures:  m.failures,
		ConsecutiveSuccesses: m.successes,
		LastDetail:           m.lastDetail,
	}
	if !m.lastCheckedAt.IsZero() {
		at := m.lastCheckedAt
		snapshot.LastCheckedAt = &at
	}
	if !m.lastTransitionAt.IsZero() {
		at := m.lastTransitionAt
		snapshot.LastTransitionAt = &at
	}
	if !m.lastAlertSentAt.IsZero() {
		at := m.lastAlertSentAt
		snapshot.LastAlertSentAt = &at
	}
	return snapshot
}
