package probe

import (
	"context"
	"fmt"

	"sentinel/internal/config"
	"sentinel/internal/domain"
)

// Probe is one synchronous health check with bounded execution.
// Params: context carrying the per-monitor timeout.
// Returns: outcome sample; failures are reported in the outcome, never panics.
type Probe interface {
	Kind() string
	Check(ctx context.Context) domain.Outcome
}

// New builds probe implementation for one monitor config.
// Params: validated monitor config with kind-specific settings.
// Returns: probe instance or error for unsupported kind.
func New(cfg config.MonitorConfig) (Probe, error) {
	switch cfg.Kind {
	case config.MonitorKindTCP:
		return NewTCPProbe(cfg.Target), nil
	case config.MonitorKindHTTP:
		return NewHTTPProbe(cfg.URL, cfg.ExpectStatus), nil
	case config.MonitorKindService:
		return NewServiceProbe(cfg.Unit, cfg.Restart, cfg.RestartAttempts), nil
	case config.MonitorKindPower:
		return NewPowerProbe(cfg.Supply), nil
	case config.MonitorKindMetric:
		return NewMetricProbe(cfg.URL, cfg.Metric, cfg.MetricLabels, cfg.Op, cfg.Value), nil
	default:
		return nil, fmt.Errorf("unsupported monitor kind %q", cfg.Kind)
	}
}
