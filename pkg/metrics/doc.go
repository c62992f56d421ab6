// Package metrics defines the Prometheus metrics exposed by the escalation
// engine and its delivery and audit subsystems.
package metrics
