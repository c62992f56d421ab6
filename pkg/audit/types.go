// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of engine audit event.
type EventType string

const (
	// === Engine run lifecycle ===
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunSkipped   EventType = "run.skipped"

	// === Per-incident evaluation ===
	EventIncidentEvaluated EventType = "incident.evaluated"
	EventPolicyMatched     EventType = "policy.matched"
	EventPolicySkipped     EventType = "policy.skipped"

	// === Step processing ===
	EventStepTriggered EventType = "step.triggered"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"

	// === Notification delivery ===
	EventNotificationQueued  EventType = "notification.queued"
	EventNotificationDeduped EventType = "notification.deduped"
	EventNotificationFailed  EventType = "notification.failed"

	// === Non-notify step side effects ===
	EventIncidentAssigned      EventType = "incident.assigned"
	EventIncidentStatusChanged EventType = "incident.status_changed"

	// === System events ===
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"

	// === Audit meta events ===
	EventAuditDropped EventType = "audit.dropped"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event emitted by the engine.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// TriggeredBy is who or what caused the event ("system" for the
	// periodic runner, a user identity for manual triggers)
	TriggeredBy string `json:"triggeredBy"`

	// Subject is the engine entity the event is about
	Subject Subject `json:"subject"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`
}

// Subject identifies the (incident, policy, step) unit an event refers to.
// Zero values mean the field does not apply (e.g. run-level events).
type Subject struct {
	IncidentID int64  `json:"incidentId,omitempty"`
	PolicyID   int64  `json:"policyId,omitempty"`
	PolicyName string `json:"policyName,omitempty"`
	StepIndex  int    `json:"stepIndex,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventAuditDropped:
		return SeverityCritical
	case EventStepFailed, EventNotificationFailed, EventRunSkipped, EventPolicySkipped:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
