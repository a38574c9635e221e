package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel/internal/domain"
)

// HTTPProbe checks endpoint health with one GET request.
// Params: URL and expected status code.
// Returns: probe reporting status match within the context deadline.
type HTTPProbe struct {
	url          string
	expectStatus int
	client       *http.Client
}

// NewHTTPProbe creates HTTP health probe.
// Params: endpoint URL and expected status (0 defaults to 200).
// Returns: initialized probe.
func NewHTTPProbe(url string, expectStatus int) *HTTPProbe {
	if expectStatus == 0 {
		expectStatus = http.StatusOK
	}
	return &HTTPProbe{
		url:          url,
		expectStatus: expectStatus,
		client:       &http.Client{},
	}
}

// Kind returns probe kind name.
// Params: none.
// Returns: "http".
func (p *HTTPProbe) Kind() string {
	return "http"
}

// Check performs one GET and compares the response status.
// Params: context bounding the request.
// Returns: ok outcome on expected status, failed outcome otherwise.
func (p *HTTPProbe) Check(ctx context.Context) domain.Outcome {
	started := time.Now()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("build request %s: %v", p.url, err),
			Timestamp: time.Now().UTC(),
		}
	}
	response, err := p.client.Do(request)
	now := time.Now().UTC()
	if err != nil {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("get %s: %v", p.url, err),
			Timestamp: now,
		}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))
		_ = response.Body.Close()
	}()

	if response.StatusCode != p.expectStatus {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("get %s: status=%d want=%d", p.url, response.StatusCode, p.expectStatus),
			Timestamp: now,
		}
	}
	return domain.Outcome{
		OK:        true,
		Detail:    fmt.Sprintf("get %s status=%d in %s", p.url, response.StatusCode, time.Since(started).Round(time.Millisecond)),
		Timestamp: now,
	}
}
