package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "booking",
	Name:      "transitions_total",
	Help:      "Committed booking status transitions.",
}, []string{"from", "to"})

var rejectionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "booking",
	Name:      "rejections_total",
	Help:      "Rejected operations by rejection code.",
}, []string{"operation", "code"})

var sampleCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "telemetry",
	Name:      "samples_total",
	Help:      "Accepted SOC samples.",
})

var invoiceCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Name:      "invoices_total",
	Help:      "Settlement outcomes.",
}, []string{"outcome"})

var energyHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "settlement",
	Name:      "session_energy_kwh",
	Help:      "Billed energy per completed session.",
	Buckets:   []float64{1, 5, 10, 20, 40, 60, 80, 120},
})

var sweepCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "booking",
	Name:      "no_shows_total",
	Help:      "Bookings expired by the no-show sweep.",
})

var streamsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "telemetry",
	Name:      "progress_streams_active",
	Help:      "Open websocket progress streams.",
})

func ObserveTransition(from, to string) {
	transitionCounter.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

func ObserveRejection(operation, code string) {
	if len(operation) == 0 || len(code) == 0 {
		return
	}
	rejectionCounter.With(prometheus.Labels{"operation": operation, "code": code}).Inc()
}

func ObserveSample() {
	sampleCounter.Inc()
}

func ObserveInvoice(outcome string, energyKWh float64) {
	invoiceCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
	if outcome == "issued" {
		energyHistogram.Observe(energyKWh)
	}
}

func ObserveNoShows(count int) {
	sweepCounter.Add(float64(count))
}

func StreamOpened() {
	streamsGauge.Inc()
}

func StreamsClosed(count int) {
	streamsGauge.Sub(float64(count))
}
