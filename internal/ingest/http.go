package ingest

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"sentinel/internal/domain"
)

// IncidentSink receives decoded incidents from ingest interfaces.
// Params: validated incident record.
// Returns: error when the alert queue rejected the incident.
type IncidentSink interface {
	Submit(incident domain.Incident) error
}

// batchIncidentSink is implemented by sinks that accept whole batches.
// Params: validated incident batch.
// Returns: first submit error.
type batchIncidentSink interface {
	SubmitBatch(incidents []domain.Incident) error
}

// HTTPHandler decodes JSON incidents and forwards them to the sink.
// Params: sink receives validated incidents, optional bearer token guards
// the endpoint, max body limits payload size.
// Returns: HTTP handler for the webhook endpoint.
type HTTPHandler struct {
	sink        IncidentSink
	authToken   string
	maxBodySize int64
}

// NewHTTPHandler creates webhook ingest HTTP handler.
// Params: sink, bearer token (empty disables auth), and max body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink IncidentSink, authToken string, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{
		sink:        sink,
		authToken:   strings.TrimSpace(authToken),
		maxBodySize: maxBodySize,
	}
}

// ServeHTTP handles one incoming incident request.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to auth/decode/submit result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(request) {
		writer.WriteHeader(http.StatusUnauthorized)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	// The handler owns the scratch until submit copies the incidents out.
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	incidents, err := decodeIncidentPayloadInto(body, scratch)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := submitIncidents(h.sink, incidents); err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}

// authorized verifies the bearer token when one is configured.
// Params: incoming request.
// Returns: true when no token is required or the header matches.
func (h *HTTPHandler) authorized(request *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.authToken)) == 1
}
