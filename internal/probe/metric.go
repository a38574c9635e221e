package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sentinel/internal/domain"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MetricProbe checks one sample from a Prometheus text exposition endpoint.
// Params: endpoint URL, metric selector, and numeric threshold predicate.
// Returns: probe reporting whether the sample satisfies the predicate.
type MetricProbe struct {
	url    string
	metric string
	labels map[string]string
	op     string
	value  float64
	client *http.Client
}

// NewMetricProbe creates exposition threshold probe.
// Params: endpoint URL, metric name, label selector, comparison op, and threshold.
// Returns: initialized probe.
func NewMetricProbe(url, metric string, labels map[string]string, op string, value float64) *MetricProbe {
	return &MetricProbe{
		url:    url,
		metric: metric,
		labels: labels,
		op:     op,
		value:  value,
		client: &http.Client{},
	}
}

// Kind returns probe kind name.
// Params: none.
// Returns: "metric".
func (p *MetricProbe) Kind() string {
	return "metric"
}

// Check scrapes the endpoint once and evaluates the threshold predicate.
// Params: context bounding the request.
// Returns: ok outcome when sample satisfies op/value, failed outcome otherwise.
func (p *MetricProbe) Check(ctx context.Context) domain.Outcome {
	now := time.Now().UTC()
	sample, err := p.fetchSample(ctx)
	if err != nil {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("scrape %s: %v", p.url, err),
			Timestamp: now,
		}
	}

	ok, err := compareSample(sample, p.op, p.value)
	if err != nil {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("evaluate %s: %v", p.metric, err),
			Timestamp: now,
		}
	}
	detail := fmt.Sprintf("%s=%g %s %g", p.metric, sample, p.op, p.value)
	if !ok {
		detail = fmt.Sprintf("%s=%g violates %s %g", p.metric, sample, p.op, p.value)
	}
	return domain.Outcome{OK: ok, Detail: detail, Timestamp: now}
}

// fetchSample scrapes the endpoint and extracts the selected sample value.
// Params: context bounding the request.
// Returns: sample value or scrape/lookup error.
func (p *MetricProbe) fetchSample(ctx context.Context) (float64, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	response, err := p.client.Do(request)
	if err != nil {
		return 0, fmt.Errorf("http get: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", response.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(response.Body)
	if err != nil && len(families) == 0 {
		return 0, fmt.Errorf("parse exposition: %w", err)
	}

	family, ok := families[p.metric]
	if !ok {
		return 0, fmt.Errorf("metric %q not exposed", p.metric)
	}
	for _, metric := range family.GetMetric() {
		if !labelsMatch(metric, p.labels) {
			continue
		}
		return sampleValue(metric), nil
	}
	return 0, fmt.Errorf("metric %q has no series matching labels", p.metric)
}

// labelsMatch reports whether metric carries every selector label pair.
// Params: exposition metric and required label map.
// Returns: true when all selector pairs are present.
func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	present := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		present[pair.GetName()] = pair.GetValue()
	}
	for name, value := range labels {
		if present[name] != value {
			return false
		}
	}
	return true
}

// sampleValue extracts numeric value from counter, gauge, or untyped sample.
// Params: exposition metric.
// Returns: sample value, 0 for unsupported sample types.
func sampleValue(metric *dto.Metric) float64 {
	switch {
	case metric.Gauge != nil:
		return metric.Gauge.GetValue()
	case metric.Counter != nil:
		return metric.Counter.GetValue()
	case metric.Untyped != nil:
		return metric.Untyped.GetValue()
	}
	return 0
}

// compareSample evaluates numeric predicate against one sample.
// Params: sample value, comparison op, and threshold.
// Returns: predicate result or error for unsupported op.
func compareSample(sample float64, op string, threshold float64) (bool, error) {
	switch op {
	case "==":
		return sample == threshold, nil
	case "!=":
		return sample != threshold, nil
	case ">":
		return sample > threshold, nil
	case ">=":
		return sample >= threshold, nil
	case "<":
		return sample < threshold, nil
	case "<=":
		return sample <= threshold, nil
	}
	return false, fmt.Errorf("unsupported comparison op %q", op)
}
