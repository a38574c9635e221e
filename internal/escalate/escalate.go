package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"sentinel/internal/domain"
)

// Sink receives alerts whose required deliveries all failed.
// Params: context and escalation record.
// Returns: error when the side channel itself could not record the event.
type Sink interface {
	Escalate(ctx context.Context, escalation domain.Escalation) error
	Close() error
}

// Journal appends escalations to a local JSONL file.
// Params: journal file path.
// Returns: durable sink independent of network health.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewJournal opens or creates the append-only escalation journal.
// Params: journal file path.
// Returns: journal sink or open error.
func NewJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open escalation journal %q: %w", path, err)
	}
	return &Journal{path: path, file: file}, nil
}

// Escalate appends one JSON line to the journal.
// Params: context (unused, file writes are local) and escalation record.
// Returns: marshal or write error.
func (j *Journal) Escalate(_ context.Context, escalation domain.Escalation) error {
	body, err := json.Marshal(escalation)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	body = append(body, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("escalation journal %q is closed", j.path)
	}
	if _, err := j.file.Write(body); err != nil {
		return fmt.Errorf("write escalation journal %q: %w", j.path, err)
	}
	return nil
}

// Close syncs and closes the journal file.
// Params: none.
// Returns: close error.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Tee fans escalations to the journal and an optional stream sink.
// Params: durable journal and best-effort secondary sink.
// Returns: combined sink; journal write failure is the only fatal path.
type Tee struct {
	journal   Sink
	secondary Sink
	logger    *slog.Logger
}

// NewTee combines journal and secondary sinks.
// Params: journal sink, optional secondary sink (may be nil), and logger.
// Returns: tee sink.
func NewTee(journal, secondary Sink, logger *slog.Logger) *Tee {
	return &Tee{journal: journal, secondary: secondary, logger: logger}
}

// Escalate writes the journal first, then mirrors to the secondary sink.
// Params: context and escalation record.
// Returns: journal error only; secondary failures are logged, since the
// side channel must not depend on network health.
func (t *Tee) Escalate(ctx context.Context, escalation domain.Escalation) error {
	if err := t.journal.Escalate(ctx, escalation); err != nil {
		return err
	}
	if t.secondary == nil {
		return nil
	}
	if err := t.secondary.Escalate(ctx, escalation); err != nil {
		t.logger.Warn("escalation stream publish failed",
			"dedup_key", escalation.Event.DedupKey,
			"error", err.Error(),
		)
	}
	return nil
}

// Close closes both sinks, keeping the first error.
// Params: none.
// Returns: first close error.
func (t *Tee) Close() error {
	var firstErr error
	if err := t.journal.Close(); err != nil {
		firstErr = err
	}
	if t.secondary != nil {
		if err := t.secondary.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
