package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine run metrics
	RunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_runs_total",
		Help: "Total number of escalation engine runs started",
	})
	RunsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_runs_skipped_total",
		Help: "Total number of scheduled runs skipped because the previous run was still active",
	})
	IncidentsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_incidents_processed_total",
		Help: "Total number of incidents evaluated by the escalation engine",
	})
	UnitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_unit_errors_total",
		Help: "Total number of failed (incident, policy, step) processing units",
	}, []string{"stage"})

	// Policy matching metrics
	PoliciesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_policies_matched_total",
		Help: "Total number of policy matches against incidents",
	})
	PoliciesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_policies_skipped_total",
		Help: "Total number of policies skipped during matching",
	}, []string{"reason"})

	// Step processing metrics
	StepsTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_steps_triggered_total",
		Help: "Total number of escalation steps that produced an event",
	}, []string{"policy"})
	StepsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_steps_completed_total",
		Help: "Total number of escalation steps completed successfully",
	}, []string{"policy"})
	StepsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_steps_failed_total",
		Help: "Total number of escalation steps that ended in a failed event",
	}, []string{"policy"})
	StepsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_steps_skipped_total",
		Help: "Total number of due steps skipped because nothing was left to do",
	}, []string{"policy"})
	TargetResolutionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_target_resolution_errors_total",
		Help: "Total number of target resolutions that failed soft to an empty set",
	}, []string{"target"})

	// Notification metrics
	NotificationsQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_notifications_queued_total",
		Help: "Total number of notifications accepted by the delivery queue",
	}, []string{"channel"})
	NotificationsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_notifications_deduped_total",
		Help: "Total number of notifications suppressed because the recipient was already notified",
	})
	NotificationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_notifications_failed_total",
		Help: "Total number of notification requests the delivery layer rejected",
	}, []string{"channel"})
	NotifySent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_notify_sent_total",
		Help: "Total number of notifications delivered by a channel",
	}, []string{"channel"})
	NotifyRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_notify_retry_scheduled_total",
		Help: "Total number of notification delivery retries scheduled",
	}, []string{"channel"})
	NotifyDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_notify_dropped_total",
		Help: "Total number of notifications dropped by the delivery queue",
	}, []string{"channel"})

	// Event store metrics
	EventsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalation_events_appended_total",
		Help: "Total number of escalation events appended to the event store",
	})

	// Audit sink metrics
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_audit_events_processed_total",
		Help: "Total number of audit events written to a sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_audit_events_dropped_total",
		Help: "Total number of audit events dropped before reaching a sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_audit_sink_errors_total",
		Help: "Total number of audit sink write errors",
	}, []string{"sink", "op"})
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunsSkipped)
	prometheus.MustRegister(IncidentsProcessed)
	prometheus.MustRegister(UnitErrors)
	prometheus.MustRegister(PoliciesMatched)
	prometheus.MustRegister(PoliciesSkipped)
	prometheus.MustRegister(StepsTriggered)
	prometheus.MustRegister(StepsCompleted)
	prometheus.MustRegister(StepsFailed)
	prometheus.MustRegister(StepsSkipped)
	prometheus.MustRegister(TargetResolutionErrors)
	prometheus.MustRegister(NotificationsQueued)
	prometheus.MustRegister(NotificationsDeduped)
	prometheus.MustRegister(NotificationsFailed)
	prometheus.MustRegister(NotifySent)
	prometheus.MustRegister(NotifyRetryScheduled)
	prometheus.MustRegister(NotifyDropped)
	prometheus.MustRegister(EventsAppended)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
