package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the pipeline.
type PipelineMetrics struct {
	EventsAccepted       prometheus.Counter
	EventsRejected       *prometheus.CounterVec
	QueueUnavailable     prometheus.Counter
	MessagesProcessed    prometheus.Counter
	MessagesNacked       prometheus.Counter
	MessagesDeadLettered prometheus.Counter
	GroupsCreated        prometheus.Counter
	DedupHits            prometheus.Counter
	AlertsFired          prometheus.Counter
	AlertsSuppressed     prometheus.Counter
	NotificationFailures prometheus.Counter
	IdentitiesPruned     prometheus.Counter
}

// New initializes and registers the pipeline metrics.
func New() *PipelineMetrics {
	return &PipelineMetrics{
		EventsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "ingest",
			Name:      "events_accepted_total",
			Help:      "Total number of events admitted and enqueued.",
		}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected at validation, by field.",
		}, []string{"field"}),
		QueueUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "ingest",
			Name:      "queue_unavailable_total",
			Help:      "Total number of batch submissions refused because the queue could not accept writes.",
		}),
		MessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "worker",
			Name:      "messages_processed_total",
			Help:      "Total number of messages processed to acknowledge.",
		}),
		MessagesNacked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "worker",
			Name:      "messages_nacked_total",
			Help:      "Total number of messages returned for redelivery after a transient failure.",
		}),
		MessagesDeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "worker",
			Name:      "messages_dead_lettered_total",
			Help:      "Total number of messages routed to the dead-letter channel.",
		}),
		GroupsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "grouper",
			Name:      "groups_created_total",
			Help:      "Total number of new error groups.",
		}),
		DedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "grouper",
			Name:      "dedup_hits_total",
			Help:      "Total number of redelivered events skipped by the idempotency record.",
		}),
		AlertsFired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Total number of notifications delivered.",
		}),
		AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Total number of qualifying events suppressed by the notification window.",
		}),
		NotificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "alerts",
			Name:      "delivery_failures_total",
			Help:      "Total number of notifications abandoned after bounded retries.",
		}),
		IdentitiesPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "error_pipeline",
			Subsystem: "retention",
			Name:      "identities_pruned_total",
			Help:      "Total number of expired idempotency records removed by the retention hook.",
		}),
	}
}
