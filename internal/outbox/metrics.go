package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	runEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "run_outbox",
		Name:      "run_events_published_total",
		Help:      "Run events published to the broker, by event type.",
	}, []string{"event_type"})

	runEventsRequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "run_outbox",
		Name:      "run_events_requeued_total",
		Help:      "Run events whose publish failed and were released back to run_outbox, by event type.",
	}, []string{"event_type"})

	claimedRunEvents = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runnerz",
		Subsystem: "run_outbox",
		Name:      "claimed_run_events",
		Help:      "Number of run events claimed per non-empty poll.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	})

	publishAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runnerz",
		Subsystem: "run_outbox",
		Name:      "publish_attempts",
		Help:      "Failed attempts a run event had accumulated before it was published.",
		Buckets:   []float64{0, 1, 2, 3, 5, 10},
	})
)

func init() {
	prometheus.MustRegister(runEventsPublished, runEventsRequeued, claimedRunEvents, publishAttempts)
}

func recordClaimed(messages []Message) {
	claimedRunEvents.Observe(float64(len(messages)))
}

func recordPublished(messages []Message) {
	for _, msg := range messages {
		runEventsPublished.WithLabelValues(msg.EventType).Inc()
		publishAttempts.Observe(float64(msg.Attempts))
	}
}

func recordRequeued(messages []Message) {
	for _, msg := range messages {
		runEventsRequeued.WithLabelValues(msg.EventType).Inc()
	}
}
