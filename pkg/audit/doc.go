// Package audit provides the observability event trail for the escalation
// engine, forwarding engine events to configurable sinks (Kafka, webhook,
// log) with circuit breaker protection and queued delivery. The durable
// dedup state lives in the escalation event store, not here; this trail is
// for operators and downstream consumers.
package audit
