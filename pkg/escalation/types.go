// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IncidentStatus is the lifecycle status of an incident.
type IncidentStatus string

const (
	StatusTriggered    IncidentStatus = "triggered"
	StatusAcknowledged IncidentStatus = "acknowledged"
	StatusResolved     IncidentStatus = "resolved"
	StatusSnoozed      IncidentStatus = "snoozed"
)

// ParseIncidentStatus converts a string to an IncidentStatus, case-insensitively.
func ParseIncidentStatus(s string) (IncidentStatus, error) {
	switch IncidentStatus(strings.ToLower(s)) {
	case StatusTriggered:
		return StatusTriggered, nil
	case StatusAcknowledged:
		return StatusAcknowledged, nil
	case StatusResolved:
		return StatusResolved, nil
	case StatusSnoozed:
		return StatusSnoozed, nil
	}
	return "", fmt.Errorf("unknown incident status %q", s)
}

// Severity classifies how urgent an incident is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Incident is the engine's read-only view of an active problem. Incidents are
// created and mutated elsewhere; the engine only reads them, except for the
// side effects of assign and status_change step actions which go back through
// the IncidentStore.
type Incident struct {
	ID           int64          `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       IncidentStatus `json:"status"`
	Severity     Severity       `json:"severity"`
	Service      string         `json:"service,omitempty"`
	TeamID       *int64         `json:"teamId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	SnoozedUntil *time.Time     `json:"snoozedUntil,omitempty"`
}

// Escalatable reports whether the incident is eligible for escalation:
// status triggered or acknowledged and not currently snoozed.
func (i Incident) Escalatable(now time.Time) bool {
	if i.Status != StatusTriggered && i.Status != StatusAcknowledged {
		return false
	}
	if i.SnoozedUntil != nil && now.Before(*i.SnoozedUntil) {
		return false
	}
	return true
}

// AgeMinutes returns the incident age in whole minutes (floor) at the given time.
func (i Incident) AgeMinutes(now time.Time) int {
	age := now.Sub(i.CreatedAt)
	if age < 0 {
		return 0
	}
	return int(age.Minutes())
}

// User is a notification recipient resolved from a step target.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Conditions is a policy's matching criteria. Absent criteria match anything;
// present criteria are AND'ed, and each multi-valued criterion is an OR-set
// membership test against the incident's corresponding attribute.
type Conditions struct {
	Severities []Severity `json:"severity,omitempty"`
	TeamIDs    []int64    `json:"team,omitempty"`
	Services   []string   `json:"service,omitempty"`
}

// Empty reports whether no criteria are present (catch-all policy).
func (c Conditions) Empty() bool {
	return len(c.Severities) == 0 && len(c.TeamIDs) == 0 && len(c.Services) == 0
}

// Matches evaluates the conditions against an incident.
func (c Conditions) Matches(inc Incident) bool {
	if len(c.Severities) > 0 {
		ok := false
		for _, s := range c.Severities {
			if Severity(strings.ToLower(string(s))) == inc.Severity {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(c.TeamIDs) > 0 {
		if inc.TeamID == nil {
			return false
		}
		ok := false
		for _, id := range c.TeamIDs {
			if id == *inc.TeamID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(c.Services) > 0 {
		ok := false
		for _, svc := range c.Services {
			if svc == inc.Service {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ActionType identifies what a step action does.
type ActionType string

const (
	ActionNotify       ActionType = "notify"
	ActionAssign       ActionType = "assign"
	ActionStatusChange ActionType = "status_change"
)

// rolePrefix is the shorthand action-type prefix ("notify_team_lead") that is
// normalized into a notify action with a role target at unmarshal time.
const rolePrefix = "notify_"

// Action is a single side effect inside a step. Notify actions carry symbolic
// targets, channels, and a message template; assign and status_change carry
// their respective parameters.
type Action struct {
	Type       ActionType     `json:"type"`
	Targets    []string       `json:"targets,omitempty"`
	Channels   []string       `json:"channels,omitempty"`
	Message    string         `json:"message,omitempty"`
	AssigneeID int64          `json:"assignee_id,omitempty"`
	Status     IncidentStatus `json:"status,omitempty"`
}

// UnmarshalJSON normalizes legacy policy encodings: a scalar "target" key
// becomes a one-element Targets list, "recipients" is accepted as an alias,
// and the "notify_<role>" action-type shorthand becomes a notify action with
// that role as its target.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string         `json:"type"`
		Target      string         `json:"target"`
		Targets     []string       `json:"targets"`
		Recipients  []string       `json:"recipients"`
		TargetRoles []string       `json:"target_roles"`
		Channels    []string       `json:"channels"`
		Message     string         `json:"message"`
		AssigneeID  int64          `json:"assignee_id"`
		Status      IncidentStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	targets := raw.Targets
	if len(targets) == 0 {
		targets = raw.Recipients
	}
	if len(targets) == 0 && raw.Target != "" {
		targets = []string{raw.Target}
	}

	typ := ActionType(raw.Type)
	switch {
	case strings.HasPrefix(raw.Type, rolePrefix):
		typ = ActionNotify
		targets = append(targets, strings.TrimPrefix(raw.Type, rolePrefix))
	case raw.Type == "change_status":
		typ = ActionStatusChange
	}
	if typ == ActionNotify && len(targets) == 0 {
		targets = append(targets, raw.TargetRoles...)
	}

	a.Type = typ
	a.Targets = targets
	a.Channels = raw.Channels
	a.Message = raw.Message
	a.AssigneeID = raw.AssigneeID
	a.Status = raw.Status
	return nil
}

// IsNotify reports whether the action sends notifications.
func (a Action) IsNotify() bool { return a.Type == ActionNotify }

// Step is one delay-gated rung of a policy's ladder. Its position in the
// policy's Steps slice is the ordinal index used for ordering and dedup.
type Step struct {
	DelayMinutes int      `json:"delay_minutes"`
	Actions      []Action `json:"actions"`
}

// Policy is a named, versioned escalation rule set. Read-only to the engine.
type Policy struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	Conditions  Conditions `json:"conditions"`
	Steps       []Step     `json:"steps"`
}

// Validate checks a policy for configuration errors. Invalid policies are
// skipped by the matcher, never processed.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy %d: name is empty", p.ID)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("policy %q: no steps", p.Name)
	}
	for i, step := range p.Steps {
		if step.DelayMinutes < 0 {
			return fmt.Errorf("policy %q step %d: negative delay", p.Name, i)
		}
		if len(step.Actions) == 0 {
			return fmt.Errorf("policy %q step %d: no actions", p.Name, i)
		}
		for j, action := range step.Actions {
			switch action.Type {
			case ActionNotify:
				if len(action.Targets) == 0 {
					return fmt.Errorf("policy %q step %d action %d: notify without targets", p.Name, i, j)
				}
			case ActionAssign:
				if action.AssigneeID == 0 {
					return fmt.Errorf("policy %q step %d action %d: assign without assignee", p.Name, i, j)
				}
			case ActionStatusChange:
				if _, err := ParseIncidentStatus(string(action.Status)); err != nil {
					return fmt.Errorf("policy %q step %d action %d: %w", p.Name, i, j, err)
				}
			default:
				return fmt.Errorf("policy %q step %d action %d: unknown action type %q", p.Name, i, j, action.Type)
			}
		}
	}
	return nil
}

// EventStatus is the processing state of an escalation event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// TargetUser is the recipient record stored in event metadata. The metadata's
// target_users list is the dedup source of truth for recipient-level
// suppression across runs.
type TargetUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// EventMetadata is the audit payload of one escalation event. TargetUsers
// records the union of everyone notified for this (incident, policy, step) up
// to and including this event; NewNotifications counts how many of them were
// first notified by this event.
type EventMetadata struct {
	PolicyName         string       `json:"policy_name"`
	PolicyDescription  string       `json:"policy_description,omitempty"`
	Severity           Severity     `json:"severity"`
	Service            string       `json:"service,omitempty"`
	IncidentAgeMinutes int          `json:"incident_age_minutes"`
	DelayMinutes       int          `json:"delay_minutes"`
	TriggeredBy        string       `json:"triggered_by"`
	TriggeredFor       []string     `json:"triggered_for"`
	TargetUsers        []TargetUser `json:"target_users"`
	AlreadyNotified    []int64      `json:"already_notified_users"`
	NewNotifications   int          `json:"new_notifications"`
	FailedDeliveries   []int64      `json:"failed_deliveries,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// Event is the durable audit record of one step having been processed for one
// incident under one policy. Created by the emitter; only its status,
// completion timestamp, and metadata are ever updated afterwards.
type Event struct {
	ID          int64         `json:"id"`
	IncidentID  int64         `json:"incidentId"`
	PolicyID    int64         `json:"policyId"`
	Step        int           `json:"step"`
	Status      EventStatus   `json:"status"`
	TriggeredAt time.Time     `json:"triggeredAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Metadata    EventMetadata `json:"metadata"`
}
