package domain

import "time"

// Severity is normalized alert severity level.
// Params: info/warning/critical/recovery severity constants.
// Returns: severity values consumed by providers and suppression.
type Severity string

const (
	// SeverityInfo indicates informational alert without operator action.
	SeverityInfo Severity = "info"
	// SeverityWarning indicates degraded but functioning resource.
	SeverityWarning Severity = "warning"
	// SeverityCritical indicates failed resource or reported incident.
	SeverityCritical Severity = "critical"
	// SeverityRecovery indicates resource returned to healthy.
	SeverityRecovery Severity = "recovery"
)

// AlertEvent is the normalized unit consumed by the dispatcher.
// Params: deterministic dedup key, severity, and rendered title/body.
// Returns: immutable event owned by dispatch queue after enqueue.
type AlertEvent struct {
	DedupKey  string        `json:"dedup_key"`
	Severity  Severity      `json:"severity"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	Source    string        `json:"source"`
	Category  string        `json:"category"`
	Downtime  time.Duration `json:"downtime,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// AttemptResult is outcome classification of one delivery attempt.
// Params: pending/acked/failed result constants.
// Returns: per-attempt bookkeeping values.
type AttemptResult string

const (
	// AttemptPending indicates delivery attempt not finished yet.
	AttemptPending AttemptResult = "pending"
	// AttemptAcked indicates provider accepted the alert.
	AttemptAcked AttemptResult = "acked"
	// AttemptFailed indicates provider rejected or transport failed.
	AttemptFailed AttemptResult = "failed"
)

// DeliveryAttempt records one provider attempt during dispatch.
// Params: provider identity, attempt ordinal, and result with reason.
// Returns: in-memory retry bookkeeping, dropped after dispatch.
type DeliveryAttempt struct {
	Provider    string        `json:"provider"`
	Attempt     int           `json:"attempt"`
	Result      AttemptResult `json:"result"`
	Reason      string        `json:"reason,omitempty"`
	AttemptedAt time.Time     `json:"attempted_at"`
}

// Escalation is operator-visible record of total delivery failure.
// Params: undelivered event, textual reason, and failed attempt trail.
// Returns: durable side-channel payload for journal and stream sinks.
type Escalation struct {
	Event    AlertEvent        `json:"event"`
	Reason   string            `json:"reason"`
	Attempts []DeliveryAttempt `json:"attempts,omitempty"`
	FailedAt time.Time         `json:"failed_at"`
}
