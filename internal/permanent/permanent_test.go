package permanent

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestMarkAndIs(t *testing.T) {
	t.Parallel()

	base := errors.New("invalid recipient")
	marked := Mark(base)
	if !Is(marked) {
		t.Fatalf("expected marked error to be permanent")
	}
	if Is(base) {
		t.Fatalf("expected plain error to stay transient")
	}
	if Mark(nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestIsSeesWrappedMarker(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("send pushover: %w", Mark(errors.New("user key rejected")))
	if !Is(wrapped) {
		t.Fatalf("expected wrapped marker to be detected")
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatalf("errors.Is must keep working on wrapped chain")
	}
}

func TestFromHTTPStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		response := &http.Response{
			StatusCode: tc.status,
			Body:       io.NopCloser(strings.NewReader(`{"error":"nope"}`)),
		}
		err := FromHTTPStatus("gateway", response)
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if Is(err) != tc.permanent {
			t.Fatalf("status %d: permanent=%v, want %v", tc.status, Is(err), tc.permanent)
		}
		if !strings.Contains(err.Error(), "gateway status=") {
			t.Fatalf("status %d: unexpected error text %q", tc.status, err.Error())
		}
	}
}

func TestFromHTTPStatusIncludesBodyExcerpt(t *testing.T) {
	t.Parallel()

	response := &http.Response{
		StatusCode: http.StatusBadRequest,
		Body:       io.NopCloser(strings.NewReader("invalid\nrecipient")),
	}
	err := FromHTTPStatus("sms", response)
	if !strings.Contains(err.Error(), "invalid recipient") {
		t.Fatalf("expected flattened body excerpt, got %q", err.Error())
	}
}
