// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakePolicyStore struct {
	policies []Policy
	err      error
}

func (f *fakePolicyStore) ListActive(context.Context) ([]Policy, error) {
	return f.policies, f.err
}

type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents map[int64]Incident
	assignees map[int64][]User
	assigned  []int64
	statuses  []IncidentStatus
	assignErr error
	statusErr error
}

func newFakeIncidentStore(incidents ...Incident) *fakeIncidentStore {
	m := make(map[int64]Incident, len(incidents))
	for _, inc := range incidents {
		m[inc.ID] = inc
	}
	return &fakeIncidentStore{
		incidents: m,
		assignees: make(map[int64][]User),
	}
}

func (f *fakeIncidentStore) ListActive(context.Context) ([]Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Incident
	for _, inc := range f.incidents {
		if inc.Status == StatusTriggered || inc.Status == StatusAcknowledged {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (f *fakeIncidentStore) Get(_ context.Context, id int64) (Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	return inc, nil
}

func (f *fakeIncidentStore) Assignees(_ context.Context, id int64) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignees[id], nil
}

func (f *fakeIncidentStore) Assign(_ context.Context, incidentID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assigned = append(f.assigned, userID)
	return nil
}

func (f *fakeIncidentStore) UpdateStatus(_ context.Context, incidentID int64, status IncidentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	inc := f.incidents[incidentID]
	inc.Status = status
	f.incidents[incidentID] = inc
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeDirectory struct {
	byRole map[string][]User
	all    []User
	err    error
}

func (f *fakeDirectory) UsersByTeamAndRole(_ context.Context, _ int64, role string) ([]User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byRole[role], nil
}

func (f *fakeDirectory) TeamMembers(context.Context, int64) ([]User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.all, nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []Event
	nextID int64
}

func (f *fakeEventStore) Append(_ context.Context, ev *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ev.ID = f.nextID
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeEventStore) Complete(_ context.Context, ev *Event) error {
	return f.finish(ev, EventCompleted, "")
}

func (f *fakeEventStore) Fail(_ context.Context, ev *Event, reason string) error {
	return f.finish(ev, EventFailed, reason)
}

func (f *fakeEventStore) finish(ev *Event, status EventStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == ev.ID {
			now := time.Now()
			ev.Status = status
			ev.CompletedAt = &now
			if reason != "" {
				ev.Metadata.Error = reason
			}
			f.events[i] = *ev
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeEventStore) ListByIncidentPolicy(_ context.Context, incidentID, policyID int64) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.IncidentID == incidentID && ev.PolicyID == policyID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []NotificationRequest
	failFor map[int64]bool
}

func (f *fakeNotifier) Notify(_ context.Context, req NotificationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[req.Recipient.ID] {
		return fmt.Errorf("delivery rejected for user %d", req.Recipient.ID)
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeNotifier) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.sent))
	for _, req := range f.sent {
		ids = append(ids, req.Recipient.ID)
	}
	return ids
}
