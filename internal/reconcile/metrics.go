package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	// cyclesTotal counts finished cycles by group, cadence and outcome
	// (ok, poll_error, canceled).
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersync_cycles_total",
			Help: "Reconciliation cycles run.",
		},
		[]string{"group", "cadence", "outcome"},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgersync_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"group", "cadence"},
	)

	pollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersync_poll_errors_total",
			Help: "Failed fetches from the confirmed or pending poller.",
		},
		[]string{"group", "source"},
	)

	// ticksDropped counts cycles skipped because one was already in flight.
	ticksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersync_ticks_dropped_total",
			Help: "Scheduled cycles dropped by the single-flight guard.",
		},
		[]string{"group", "cadence"},
	)

	malformedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersync_malformed_records_total",
			Help: "Polled records dropped by shape validation.",
		},
		[]string{"group", "source"},
	)

	recordsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledgersync_records",
			Help: "Records held in the store.",
		},
		[]string{"group", "state"},
	)

	prunedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersync_pruned_records_total",
			Help: "Records removed by expiry or retention.",
		},
		[]string{"group", "reason"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleDuration, pollErrors, ticksDropped, malformedRecords, recordsGauge, prunedRecords)
}
