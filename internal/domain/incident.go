package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Incident is externally reported event not derived from polling.
// Params: source identity, coarse category, opaque detail, and optional severity hint.
// Returns: validated incident payload for alert normalization.
type Incident struct {
	Source     string    `json:"source"`
	Category   string    `json:"category,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Severity   Severity  `json:"severity,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// DecodeIncident decodes and validates one incident payload.
// Params: JSON document bytes.
// Returns: validated incident or decode/validation error.
func DecodeIncident(raw []byte) (Incident, error) {
	var incident Incident
	if err := json.Unmarshal(raw, &incident); err != nil {
		return Incident{}, fmt.Errorf("decode incident: %w", err)
	}
	if err := incident.Validate(); err != nil {
		return Incident{}, err
	}
	return incident, nil
}

// DecodeIncidentReader decodes and validates one incident payload from stream.
// Params: reader with one JSON object.
// Returns: validated incident or decode/validation error.
func DecodeIncidentReader(reader *json.Decoder) (Incident, error) {
	var incident Incident
	if err := reader.Decode(&incident); err != nil {
		return Incident{}, fmt.Errorf("decode incident: %w", err)
	}
	if err := incident.Validate(); err != nil {
		return Incident{}, err
	}
	return incident, nil
}

// DecodeIncidentsReader decodes and validates one batch of incidents from stream.
// Params: reader with one JSON array of incidents.
// Returns: validated incidents slice or decode/validation error.
func DecodeIncidentsReader(reader *json.Decoder) ([]Incident, error) {
	var incidents []Incident
	if err := reader.Decode(&incidents); err != nil {
		return nil, fmt.Errorf("decode incident batch: %w", err)
	}
	if len(incidents) == 0 {
		return nil, errors.New("incident batch must contain at least one incident")
	}
	for i := range incidents {
		if err := incidents[i].Validate(); err != nil {
			return nil, fmt.Errorf("incident[%d]: %w", i, err)
		}
	}
	return incidents, nil
}

// Validate validates one incident against the contract.
// Params: incident fields parsed from transport.
// Returns: validation error when schema is violated.
func (i Incident) Validate() error {
	if strings.TrimSpace(i.Source) == "" {
		return errors.New("source is required")
	}

	switch i.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical, SeverityRecovery:
	default:
		return fmt.Errorf("unsupported severity %q", i.Severity)
	}

	if strings.TrimSpace(i.Category) == "" && strings.TrimSpace(i.Detail) == "" {
		return errors.New("category or detail is required")
	}

	return nil
}
