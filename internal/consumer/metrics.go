package consumer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsLogged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "event_log",
		Name:      "events_logged_total",
		Help:      "Run events written to the event log, by event type.",
	}, []string{"event_type"})

	handlerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "event_log",
		Name:      "handler_retries_total",
		Help:      "Failed event log writes that were scheduled for another attempt, by event type.",
	}, []string{"event_type"})

	decodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "event_log",
		Name:      "undecodable_records_total",
		Help:      "Records skipped because they could not be decoded, by reason.",
	}, []string{"reason"})

	lastRunEventGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runnerz",
		Subsystem: "event_log",
		Name:      "last_run_event_timestamp_seconds",
		Help:      "Broker timestamp of the most recent run event written to the event log.",
	})
)

func init() {
	prometheus.MustRegister(eventsLogged, handlerRetries, decodeFailures, lastRunEventGauge)
}

func recordHandled(msg Message) {
	eventsLogged.WithLabelValues(msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastRunEventGauge.Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerRetry(msg Message) {
	handlerRetries.WithLabelValues(msg.EventType).Inc()
}

func recordDecodeFailure(err error) {
	reason := "invalid_payload"
	if errors.Is(err, errMissingEventType) {
		reason = "missing_event_type"
	}
	decodeFailures.WithLabelValues(reason).Inc()
}
