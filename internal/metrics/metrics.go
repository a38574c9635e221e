package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"sentinel/internal/domain"
)

const (
	// ResultOK labels successful probe checks and deliveries.
	ResultOK = "ok"
	// ResultFailed labels failed probe checks and deliveries.
	ResultFailed = "failed"
)

var (
	probeChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "probe_checks_total",
			Help:      "Total probe executions, partitioned by monitor and result.",
		},
		[]string{"monitor", "result"},
	)

	monitorStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "monitor_status",
			Help:      "Current gated monitor status (0 unknown, 1 healthy, 2 degraded, 3 failed).",
		},
		[]string{"monitor"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "transitions_total",
			Help:      "Total accepted status transitions, partitioned by monitor and target status.",
		},
		[]string{"monitor", "to"},
	)

	alertsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "alerts_enqueued_total",
			Help:      "Total alert events accepted into the dispatch queue, partitioned by severity.",
		},
		[]string{"severity"},
	)

	alertsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "alerts_dropped_total",
			Help:      "Total alert events dropped because the dispatch queue was full.",
		},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "alerts_suppressed_total",
			Help:      "Total alert events dropped by the suppression window.",
		},
	)

	deliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "delivery_attempts_total",
			Help:      "Total provider delivery attempts including retries.",
		},
		[]string{"provider"},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "deliveries_total",
			Help:      "Total finished provider deliveries, partitioned by provider and result.",
		},
		[]string{"provider", "result"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "escalations_total",
			Help:      "Total delivery failures escalated through the operator side channel.",
		},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
// Params: target registerer, usually prometheus.DefaultRegisterer.
// Returns: first registration error that is not AlreadyRegistered.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		probeChecksTotal,
		monitorStatus,
		transitionsTotal,
		alertsEnqueuedTotal,
		alertsDroppedTotal,
		alertsSuppressedTotal,
		deliveryAttemptsTotal,
		deliveriesTotal,
		escalationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProbeCheck records one probe execution and the resulting status.
// Params: monitor name, success flag, and gated status after the sample.
// Returns: nothing.
func ObserveProbeCheck(monitor string, ok bool, status domain.Status) {
	result := ResultFailed
	if ok {
		result = ResultOK
	}
	probeChecksTotal.WithLabelValues(monitor, result).Inc()
	monitorStatus.WithLabelValues(monitor).Set(statusValue(status))
}

// ObserveTransition records one accepted status transition.
// Params: monitor name and target status.
// Returns: nothing.
func ObserveTransition(monitor string, to domain.Status) {
	transitionsTotal.WithLabelValues(monitor, string(to)).Inc()
}

// ObserveEnqueue records queue acceptance or drop of one alert event.
// Params: event severity and acceptance flag.
// Returns: nothing.
func ObserveEnqueue(severity domain.Severity, accepted bool) {
	if !accepted {
		alertsDroppedTotal.Inc()
		return
	}
	alertsEnqueuedTotal.WithLabelValues(string(severity)).Inc()
}

// ObserveSuppressed records one event dropped by the suppression window.
// Params: none.
// Returns: nothing.
func ObserveSuppressed() {
	alertsSuppressedTotal.Inc()
}

// ObserveDeliveryAttempt records one provider attempt including retries.
// Params: provider name.
// Returns: nothing.
func ObserveDeliveryAttempt(provider string) {
	deliveryAttemptsTotal.WithLabelValues(provider).Inc()
}

// ObserveDelivery records one finished provider delivery.
// Params: provider name and final success flag.
// Returns: nothing.
func ObserveDelivery(provider string, ok bool) {
	result := ResultFailed
	if ok {
		result = ResultOK
	}
	deliveriesTotal.WithLabelValues(provider, result).Inc()
}

// ObserveEscalation records one total-delivery-failure escalation.
// Params: none.
// Returns: nothing.
func ObserveEscalation() {
	escalationsTotal.Inc()
}

// statusValue maps status onto stable gauge value.
// Params: gated monitor status.
// Returns: numeric gauge encoding.
func statusValue(status domain.Status) float64 {
	switch status {
	case domain.StatusHealthy:
		return 1
	case domain.StatusDegraded:
		return 2
	case domain.StatusFailed:
		return 3
	}
	return 0
}
