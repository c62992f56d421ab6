// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IncidentStore provides read access to incidents plus the two write
// operations the engine's non-notify actions need.
type IncidentStore interface {
	// ListActive returns incidents with status triggered or acknowledged.
	// Snooze filtering happens in the engine so that a snooze expiring
	// between store read and evaluation is handled consistently.
	ListActive(ctx context.Context) ([]Incident, error)
	Get(ctx context.Context, id int64) (Incident, error)
	Assignees(ctx context.Context, incidentID int64) ([]User, error)
	Assign(ctx context.Context, incidentID, userID int64) error
	UpdateStatus(ctx context.Context, incidentID int64, status IncidentStatus) error
}

// PolicyStore provides read access to escalation policies.
type PolicyStore interface {
	ListActive(ctx context.Context) ([]Policy, error)
}

// DirectoryStore resolves team membership for target resolution.
type DirectoryStore interface {
	UsersByTeamAndRole(ctx context.Context, teamID int64, role string) ([]User, error)
	TeamMembers(ctx context.Context, teamID int64) ([]User, error)
}

// EventStore is the append-only escalation event log. Append assigns the
// event's ID; Complete and Fail update status, completion timestamp, and
// metadata of a previously appended event and touch nothing else.
type EventStore interface {
	Append(ctx context.Context, ev *Event) error
	Complete(ctx context.Context, ev *Event) error
	Fail(ctx context.Context, ev *Event, reason string) error
	ListByIncidentPolicy(ctx context.Context, incidentID, policyID int64) ([]Event, error)
}

// NotificationRequest is one message to one recipient. Channels names the
// delivery channels requested by the step action; an empty list means the
// dispatcher's default channel.
type NotificationRequest struct {
	Recipient  User
	Channels   []string
	Subject    string
	Body       string
	IncidentID int64
	PolicyID   int64
	StepIndex  int
}

// Notifier hands a notification request to the delivery layer. Delivery is
// fire-and-forget: an error here means the request was not accepted at all,
// and the recipient is left unrecorded so the next run retries.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) error
}
