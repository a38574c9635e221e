package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"sentinel/internal/domain"
)

const maxPooledBatchCapacity = 4096

type decodeScratch struct {
	incidents []domain.Incident
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{incidents: make([]domain.Incident, 0, 16)}
	},
}

// decodeSingleIncident decodes one incident and rejects trailing JSON tokens.
// Params: json decoder for a single incident object.
// Returns: validated incident or decode error.
func decodeSingleIncident(decoder *json.Decoder) (domain.Incident, error) {
	incident, err := domain.DecodeIncidentReader(decoder)
	if err != nil {
		return domain.Incident{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.Incident{}, err
	}
	return incident, nil
}

// decodeIncidentPayloadInto auto-detects batch vs single payload.
// Params: raw JSON bytes and caller-owned scratch; the returned slice shares
// the scratch backing array and is valid until the scratch is released.
// Returns: validated incidents slice.
func decodeIncidentPayloadInto(raw []byte, scratch *decodeScratch) ([]domain.Incident, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeBatchIncidentsInto(decoder, scratch)
	}
	incident, err := decodeSingleIncident(decoder)
	if err != nil {
		return nil, err
	}
	incidents := scratch.incidents[:0]
	incidents = append(incidents, incident)
	scratch.incidents = incidents
	return incidents, nil
}

func decodeBatchIncidentsInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.Incident, error) {
	incidents := scratch.incidents[:0]
	if err := decoder.Decode(&incidents); err != nil {
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
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.incidents = incidents
	return incidents, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.incidents {
		scratch.incidents[i] = domain.Incident{}
	}
	if cap(scratch.incidents) > maxPooledBatchCapacity {
		scratch.incidents = make([]domain.Incident, 0, 16)
	} else {
		scratch.incidents = scratch.incidents[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// submitIncidents sends incidents to sink with optional batch support.
// Params: incident sink and incident slice.
// Returns: first submit error or nil.
func submitIncidents(sink IncidentSink, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	if batchSink, ok := sink.(batchIncidentSink); ok {
		return batchSink.SubmitBatch(incidents)
	}
	for _, incident := range incidents {
		if err := sink.Submit(incident); err != nil {
			return err
		}
	}
	return nil
}
