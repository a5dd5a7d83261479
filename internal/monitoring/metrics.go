package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_reservation_operations_total",
			Help: "Reservation operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parking_operation_duration_seconds",
			Help:    "Duration of reservation and ticket operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ticketValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_ticket_validations_total",
			Help: "Ticket validation attempts by result",
		},
		[]string{"result"},
	)

	sweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_sweep_transitions_total",
			Help: "Rows transitioned by the periodic sweeps",
		},
		[]string{"job"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_sweep_runs_total",
			Help: "Sweep executions by status",
		},
		[]string{"job", "status"},
	)

	txRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_tx_retries_total",
			Help: "Transactions retried after lock contention",
		},
	)

	notificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_notifications_failed_total",
			Help: "Notifications which could not be delivered",
		},
		[]string{"channel"},
	)
)

// TrackOperation records the outcome and latency of a reservation
// operation. outcome is the error kind, or "ok".
func TrackOperation(operation, outcome string, started time.Time) {
	reservationOperations.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func TrackValidation(result string) {
	ticketValidations.WithLabelValues(result).Inc()
}

func TrackSweep(job string, transitioned int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sweepRuns.WithLabelValues(job, status).Inc()
	sweepTransitions.WithLabelValues(job).Add(float64(transitioned))
}

func TrackTxRetry() {
	txRetries.Inc()
}

func TrackNotificationFailure(channel string) {
	notificationsFailed.WithLabelValues(channel).Inc()
}
