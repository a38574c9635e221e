package alert

import (
	"fmt"
	"strings"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/templatefmt"
)

// DrillCategory marks incidents submitted as test drills, not real alarms.
const DrillCategory = "test"

// NormalizeTransition converts one monitor status change into alert event.
// Params: accepted state transition from a monitor runner.
// Returns: normalized event; dedup key depends on monitor and target status only.
func NormalizeTransition(transition domain.StateTransition) domain.AlertEvent {
	severity := severityForTransition(transition.From, transition.To)
	title := fmt.Sprintf("%s %s", transition.MonitorName, transition.To)
	body := transitionBody(transition)
	return domain.AlertEvent{
		DedupKey:  BuildDedupKey(transition.MonitorName, string(transition.To)),
		Severity:  severity,
		Title:     title,
		Body:      body,
		Source:    transition.MonitorName,
		Category:  string(transition.To),
		Downtime:  transition.Downtime,
		CreatedAt: transition.At,
	}
}

// NormalizeIncident converts one externally reported incident into alert event.
// Params: validated incident and normalization timestamp fallback.
// Returns: normalized event; dedup key depends on source and coarse category only.
func NormalizeIncident(incident domain.Incident, now time.Time) domain.AlertEvent {
	category := CategorizeIncident(incident)
	severity := incident.Severity
	if severity == "" {
		severity = domain.SeverityCritical
	}
	if category == DrillCategory {
		severity = domain.SeverityInfo
	}

	title := fmt.Sprintf("incident from %s: %s", incident.Source, category)
	body := strings.TrimSpace(incident.Detail)
	if body == "" {
		body = category
	}

	createdAt := incident.ReceivedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return domain.AlertEvent{
		DedupKey:  BuildDedupKey(incident.Source, category),
		Severity:  severity,
		Title:     title,
		Body:      body,
		Source:    incident.Source,
		Category:  category,
		CreatedAt: createdAt.UTC(),
	}
}

// CategorizeIncident derives coarse payload category for deduplication.
// Params: incident with optional explicit category.
// Returns: declared category, else first detail token, else "incident".
func CategorizeIncident(incident domain.Incident) string {
	category := strings.TrimSpace(incident.Category)
	if category != "" {
		return strings.ToLower(category)
	}
	fields := strings.Fields(incident.Detail)
	if len(fields) == 0 {
		return "incident"
	}
	return sanitize(fields[0])
}

// severityForTransition maps status transition onto alert severity.
// Params: previous and gated target status.
// Returns: critical for failed, warning for degraded, recovery for healthy.
func severityForTransition(from, to domain.Status) domain.Severity {
	switch to {
	case domain.StatusFailed:
		return domain.SeverityCritical
	case domain.StatusDegraded:
		return domain.SeverityWarning
	case domain.StatusHealthy:
		if from != domain.StatusHealthy {
			return domain.SeverityRecovery
		}
	}
	return domain.SeverityInfo
}

// transitionBody renders default body text for one transition.
// Params: transition with probe detail and downtime.
// Returns: single-line body used when provider templates do not override.
func transitionBody(transition domain.StateTransition) string {
	if transition.To == domain.StatusHealthy && transition.Downtime > 0 {
		return fmt.Sprintf("%s recovered after %s", transition.MonitorName, templatefmt.FormatDuration(transition.Downtime))
	}
	detail := strings.TrimSpace(transition.Detail)
	if detail == "" {
		return fmt.Sprintf("%s is %s", transition.MonitorName, transition.To)
	}
	return fmt.Sprintf("%s is %s: %s", transition.MonitorName, transition.To, detail)
}
