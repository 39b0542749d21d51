package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	helpRequestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msj",
		Subsystem: "help",
		Name:      "requests_total",
		Help:      "Help requests by final outcome.",
	}, []string{"outcome"})
	lastSuccessGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "msj",
		Subsystem: "help",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed exchange.",
	})
	upstreamResultsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msj",
		Subsystem: "boost",
		Name:      "upstream_results_total",
		Help:      "Upstream boost call results by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(helpRequestsCounter, lastSuccessGauge, upstreamResultsCounter)
}

// RecordOutcome counts one finished help request.
func RecordOutcome(outcome string) {
	helpRequestsCounter.WithLabelValues(outcome).Inc()
}

// RecordSuccess updates the completed-exchange watermark gauge.
func RecordSuccess(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSuccessGauge.Set(float64(ts.Unix()))
}

// RecordUpstreamResult counts one upstream boost call by its decoded status.
func RecordUpstreamResult(status string) {
	upstreamResultsCounter.WithLabelValues(status).Inc()
}
