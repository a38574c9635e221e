package e2e

import (
	"errors"
	"strings"
	"testing"
	"time"

	"sentinel/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	e2eIncidentStream   = "SENTINEL_INCIDENTS"
	e2eIncidentSubj     = "sentinel.incidents"
	e2eEscalationStream = "SENTINEL_ESCALATIONS"
	e2eEscalationSubj   = "sentinel.escalations"
)

// startLocalNATSServer starts a local JetStream NATS process for e2e tests.
// Params: testing handle for lifecycle/error reporting.
// Returns: server URL and stop callback.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}

// ensureIncidentStream creates the JetStream stream consumed by NATS ingest.
// Params: test handle, server URL, stream name, and subject.
// Returns: stream exists with required subject.
func ensureIncidentStream(tb testing.TB, url, streamName, subject string) {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream init: %v", err)
	}

	if _, err := js.StreamInfo(streamName); err == nil {
		return
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		tb.Fatalf("stream info failed: %v", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		tb.Fatalf("add stream %q failed: %v", streamName, err)
	}
}

// publishNATSIncident publishes one incident document to the ingest subject.
// Params: server URL, subject, and JSON body.
// Returns: publish or flush error.
func publishNATSIncident(url, subject, body string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := nc.Publish(subject, []byte(body)); err != nil {
		return err
	}
	return nc.FlushTimeout(3 * time.Second)
}
