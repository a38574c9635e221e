package domain

import "time"

// Status is monitor health state.
// Params: unknown/healthy/degraded/failed status constants.
// Returns: gated status values for transition detection.
type Status string

const (
	// StatusUnknown indicates no threshold has been satisfied yet.
	StatusUnknown Status = "unknown"
	// StatusHealthy indicates probe successes reached recovery threshold.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates failures reached degraded threshold but not fail threshold.
	StatusDegraded Status = "degraded"
	// StatusFailed indicates failures reached fail threshold.
	StatusFailed Status = "failed"
)

// Outcome is result of one probe execution.
// Params: success flag, human detail, and sample timestamp.
// Returns: ephemeral sample consumed by threshold state machine.
type Outcome struct {
	OK        bool
	Detail    string
	Timestamp time.Time
}

// StateTransition is one accepted monitor status change.
// Params: monitor identity, old/new status, and transition time.
// Returns: immutable event for alert normalization.
type StateTransition struct {
	MonitorName string        `json:"monitor_name"`
	From        Status        `json:"from"`
	To          Status        `json:"to"`
	Detail      string        `json:"detail,omitempty"`
	Downtime    time.Duration `json:"downtime,omitempty"`
	At          time.Time     `json:"at"`
}

// MonitorSnapshot is read-only copy of one monitor runtime state.
// Params: counters, gated status, and transition/alert timestamps.
// Returns: status endpoint payload without exposing live state.
type MonitorSnapshot struct {
	Name                 string     `json:"name"`
	Kind                 string     `json:"kind"`
	Status               Status     `json:"status"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastDetail           string     `json:"last_detail,omitempty"`
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
	LastTransitionAt     *time.Time `json:"last_transition_at,omitempty"`
	LastAlertSentAt      *time.Time `json:"last_alert_sent_at,omitempty"`
}
