// Package escalation implements the incident escalation engine: matching
// active incidents against escalation policies, evaluating delay-gated steps,
// deduplicating notifications at step and recipient granularity, and emitting
// the durable escalation event trail.
package escalation
