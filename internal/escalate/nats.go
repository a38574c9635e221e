package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"

	"github.com/nats-io/nats.go"
)

const escalationStreamMaxAge = 7 * 24 * time.Hour

// NATSSink publishes escalations to a JetStream stream.
// Params: NATS connection and escalation subject settings.
// Returns: stream sink implementation.
type NATSSink struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSSink connects to NATS and ensures the escalation stream exists.
// Params: escalation stream config.
// Returns: initialized sink or setup error.
func NewNATSSink(cfg config.EscalationNATSConfig) (*NATSSink, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect escalation nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for escalation: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSSink{nc: nc, js: js, subject: cfg.Subject}, nil
}

// Escalate publishes one escalation record to the stream.
// Params: context and escalation record.
// Returns: marshal or publish error.
func (s *NATSSink) Escalate(ctx context.Context, escalation domain.Escalation) error {
	body, err := json.Marshal(escalation)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = body
	if key := strings.TrimSpace(escalation.Event.DedupKey); key != "" {
		msg.Header.Set("Nats-Msg-Id", key+":"+escalation.FailedAt.UTC().Format(time.RFC3339))
	}
	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	return nil
}

// Close closes sink NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSSink) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	s.nc.Close()
	return nil
}

// ensureStream ensures the escalation stream exists with limits retention.
// Params: JetStream context and stream/subject names.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nil && err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    escalationStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
