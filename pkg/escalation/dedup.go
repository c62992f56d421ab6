// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
)

// DedupTracker answers two questions from the escalation event log: which
// steps of a policy already ran for an incident, and which individual users
// were already notified for a given step. Step-level dedup keeps one-shot
// actions from re-running; recipient-level dedup is finer because a step's
// resolved target set can legitimately grow between runs, in which case only
// the delta is notified.
type DedupTracker struct {
	events EventStore
}

// NewDedupTracker creates a tracker reading from the given event store.
func NewDedupTracker(events EventStore) *DedupTracker {
	return &DedupTracker{events: events}
}

// ProcessedSteps returns the set of step indices that have an escalation
// event for the (incident, policy) pair, regardless of event status. A failed
// event still counts as processed at step level; its unrecorded recipients
// remain eligible via NotifiedRecipients.
func (t *DedupTracker) ProcessedSteps(ctx context.Context, incidentID, policyID int64) (map[int]struct{}, error) {
	events, err := t.events.ListByIncidentPolicy(ctx, incidentID, policyID)
	if err != nil {
		return nil, fmt.Errorf("listing escalation events for incident %d policy %d: %w", incidentID, policyID, err)
	}
	steps := make(map[int]struct{}, len(events))
	for _, ev := range events {
		steps[ev.Step] = struct{}{}
	}
	return steps, nil
}

// NotifiedRecipients returns the users recorded as notified for one
// (incident, policy, step), keyed by user ID, extracted from the target_users
// metadata of every matching event. Metadata content, not mere event
// existence, decides who still needs notifying.
func (t *DedupTracker) NotifiedRecipients(ctx context.Context, incidentID, policyID int64, step int) (map[int64]TargetUser, error) {
	events, err := t.events.ListByIncidentPolicy(ctx, incidentID, policyID)
	if err != nil {
		return nil, fmt.Errorf("listing escalation events for incident %d policy %d: %w", incidentID, policyID, err)
	}
	notified := make(map[int64]TargetUser)
	for _, ev := range events {
		if ev.Step != step {
			continue
		}
		for _, u := range ev.Metadata.TargetUsers {
			notified[u.ID] = u
		}
	}
	return notified, nil
}
