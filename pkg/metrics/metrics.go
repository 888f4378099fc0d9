package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveCalls tracks sessions that are not yet ended, by call class.
	ActiveCalls = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trunkecho",
		Name:      "active_calls",
		Help:      "Number of active call sessions by class.",
	}, []string{"class"})

	// AdmittedCalls counts calls admitted against the concurrency cap.
	AdmittedCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "admitted_calls_total",
		Help:      "Calls admitted by the admission controller.",
	})

	// AdmissionDenied counts admission rejections.
	AdmissionDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "admission_denied_total",
		Help:      "Calls denied by the concurrent-call cap.",
	})

	// PTTGrants counts transmit grants received.
	PTTGrants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "ptt_grants_total",
		Help:      "Transmit grants received from the network.",
	})

	// PTTDenied counts rejected transmit demands.
	PTTDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "ptt_denied_total",
		Help:      "Transmit demands rejected by the network.",
	})

	// FloorTakeovers counts microphone floor claims that demoted a holder.
	FloorTakeovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "floor_takeovers_total",
		Help:      "Microphone floor claims that demoted a previous holder.",
	})

	// CompletedCalls counts finished calls by class and cause.
	CompletedCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "completed_calls_total",
		Help:      "Completed calls by class and disconnect cause.",
	}, []string{"class", "cause"})

	// SetupTimeouts counts calls that never received a network acknowledgement.
	SetupTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trunkecho",
		Name:      "setup_timeouts_total",
		Help:      "Outgoing calls released by setup timeout.",
	})
)

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
