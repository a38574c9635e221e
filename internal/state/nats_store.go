package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSStore persists suppression marks in one JetStream KV bucket.
// Params: NATS connection, JetStream context, and KV bucket handle.
// Returns: KV-backed suppression store shared across instances.
type NATSStore struct {
	nc                *nats.Conn
	js                nats.JetStreamContext
	markKV            nats.KeyValue
	markSubjectPrefix string
}

// NewNATSStore opens mark bucket and returns NATS suppression backend.
// Params: NATS/JetStream settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	markKV, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open mark bucket %q: %w", settings.Bucket, err)
		}
		markKV, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: settings.Bucket,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create mark bucket %q: %w", settings.Bucket, err)
		}
	}
	if err := enableBucketPerMessageTTL(js, settings.Bucket); err != nil {
		nc.Close()
		return nil, fmt.Errorf("enable per-message ttl on mark bucket: %w", err)
	}

	return &NATSStore{
		nc:                nc,
		js:                js,
		markKV:            markKV,
		markSubjectPrefix: "$KV." + settings.Bucket + ".",
	}, nil
}

// enableBucketPerMessageTTL ensures underlying KV stream allows Nats-TTL header.
// Params: JetStream context and KV bucket name.
// Returns: stream update error when config cannot be applied.
func enableBucketPerMessageTTL(js nats.JetStreamContext, bucket string) error {
	streamName := "KV_" + bucket
	info, err := js.StreamInfo(streamName)
	if err != nil {
		return err
	}
	if info.Config.AllowMsgTTL {
		return nil
	}
	cfg := info.Config
	cfg.AllowMsgTTL = true
	if cfg.SubjectDeleteMarkerTTL == 0 {
		cfg.SubjectDeleteMarkerTTL = 5 * time.Minute
	}
	_, err = js.UpdateStream(&cfg)
	return err
}

// MarkDelivered publishes mark entry with suppression-window TTL.
// Params: dedup key, delivery timestamp, and window duration.
// Returns: publish error.
func (s *NATSStore) MarkDelivered(_ context.Context, dedupKey string, deliveredAt time.Time, window time.Duration) error {
	windowMS := window.Milliseconds()
	payload := buildMarkPayload(deliveredAt.UnixMilli(), windowMS)
	msg := nats.NewMsg(s.markSubjectPrefix + dedupKey)
	msg.Data = payload
	if window > 0 {
		msg.Header = nats.Header{
			"Nats-TTL": []string{strconv.FormatInt(windowMS, 10) + "ms"},
		}
	}
	if _, err := s.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish mark: %w", err)
	}
	return nil
}

// buildMarkPayload encodes lightweight mark metadata without reflective map encoding.
// Params: delivery unix ms and window ms.
// Returns: compact JSON payload for KV value.
func buildMarkPayload(deliveredUnixMS, windowMS int64) []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, `{"delivered_unix_ms":`...)
	payload = strconv.AppendInt(payload, deliveredUnixMS, 10)
	payload = append(payload, `,"window_ms":`...)
	payload = strconv.AppendInt(payload, windowMS, 10)
	payload = append(payload, '}')
	return payload
}

// Suppressed checks whether mark key currently exists.
// Params: dedup key.
// Returns: true when an unexpired mark exists.
func (s *NATSStore) Suppressed(_ context.Context, dedupKey string) (bool, error) {
	if _, err := s.markKV.Get(dedupKey); err != nil {
		if err == nats.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
