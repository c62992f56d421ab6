// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package memory is an in-memory implementation of the escalation stores.
// It backs tests and the demo mode of the daemon; production deployments use
// the SQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/telekom/incident-escalation/pkg/escalation"
)

// Store holds all escalation state in memory. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	incidents map[int64]escalation.Incident
	policies  map[int64]escalation.Policy
	users     map[int64]escalation.User
	// teamID -> userID set
	teamMembers map[int64]map[int64]struct{}
	// incidentID -> userID set
	assignees map[int64]map[int64]struct{}
	events    []escalation.Event

	nextIncidentID int64
	nextPolicyID   int64
	nextUserID     int64
	nextEventID    int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		incidents:   make(map[int64]escalation.Incident),
		policies:    make(map[int64]escalation.Policy),
		users:       make(map[int64]escalation.User),
		teamMembers: make(map[int64]map[int64]struct{}),
		assignees:   make(map[int64]map[int64]struct{}),
	}
}

// AddIncident stores an incident, assigning an ID when it has none.
func (s *Store) AddIncident(inc escalation.Incident) escalation.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc.ID == 0 {
		s.nextIncidentID++
		inc.ID = s.nextIncidentID
	} else if inc.ID > s.nextIncidentID {
		s.nextIncidentID = inc.ID
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now()
	}
	s.incidents[inc.ID] = inc
	return inc
}

// AddPolicy stores a policy, assigning an ID when it has none.
func (s *Store) AddPolicy(p escalation.Policy) escalation.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextPolicyID++
		p.ID = s.nextPolicyID
	} else if p.ID > s.nextPolicyID {
		s.nextPolicyID = p.ID
	}
	s.policies[p.ID] = p
	return p
}

// AddUser stores a user and optionally adds them to a team.
func (s *Store) AddUser(u escalation.User, teamID int64) escalation.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextUserID++
		u.ID = s.nextUserID
	} else if u.ID > s.nextUserID {
		s.nextUserID = u.ID
	}
	s.users[u.ID] = u
	if teamID != 0 {
		if s.teamMembers[teamID] == nil {
			s.teamMembers[teamID] = make(map[int64]struct{})
		}
		s.teamMembers[teamID][u.ID] = struct{}{}
	}
	return u
}

// ListActive returns incidents with status triggered or acknowledged.
func (s *Store) ListActive(_ context.Context) ([]escalation.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.Incident
	for _, inc := range s.incidents {
		if inc.Status == escalation.StatusTriggered || inc.Status == escalation.StatusAcknowledged {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one incident.
func (s *Store) Get(_ context.Context, id int64) (escalation.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return escalation.Incident{}, escalation.ErrNotFound
	}
	return inc, nil
}

// Assignees returns the users assigned to an incident.
func (s *Store) Assignees(_ context.Context, incidentID int64) ([]escalation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.incidents[incidentID]; !ok {
		return nil, escalation.ErrNotFound
	}
	var out []escalation.User
	for id := range s.assignees[incidentID] {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Assign adds a user to an incident's assignee set.
func (s *Store) Assign(_ context.Context, incidentID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[incidentID]; !ok {
		return escalation.ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return escalation.ErrNotFound
	}
	if s.assignees[incidentID] == nil {
		s.assignees[incidentID] = make(map[int64]struct{})
	}
	s.assignees[incidentID][userID] = struct{}{}
	return nil
}

// UpdateStatus sets an incident's status.
func (s *Store) UpdateStatus(_ context.Context, incidentID int64, status escalation.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return escalation.ErrNotFound
	}
	inc.Status = status
	s.incidents[incidentID] = inc
	return nil
}

// ListActivePolicies returns active policies. Named to avoid clashing with the
// incident ListActive on the same type; the PolicyStore view is exposed via
// Policies().
func (s *Store) listActivePolicies(_ context.Context) ([]escalation.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.Policy
	for _, p := range s.policies {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// policyView adapts the store to the PolicyStore interface.
type policyView struct{ s *Store }

func (v policyView) ListActive(ctx context.Context) ([]escalation.Policy, error) {
	return v.s.listActivePolicies(ctx)
}

// Policies returns the store's PolicyStore view.
func (s *Store) Policies() escalation.PolicyStore { return policyView{s} }

// UsersByTeamAndRole returns team members holding the given role.
func (s *Store) UsersByTeamAndRole(_ context.Context, teamID int64, role string) ([]escalation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.User
	for id := range s.teamMembers[teamID] {
		u, ok := s.users[id]
		if ok && u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TeamMembers returns every member of a team.
func (s *Store) TeamMembers(_ context.Context, teamID int64) ([]escalation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.User
	for id := range s.teamMembers[teamID] {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Append adds a new event and assigns its ID.
func (s *Store) Append(_ context.Context, ev *escalation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, *ev)
	return nil
}

// Complete marks an event completed and persists its metadata.
func (s *Store) Complete(_ context.Context, ev *escalation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == ev.ID {
			now := time.Now()
			ev.Status = escalation.EventCompleted
			ev.CompletedAt = &now
			s.events[i] = *ev
			return nil
		}
	}
	return escalation.ErrNotFound
}

// Fail marks an event failed with a reason and persists its metadata.
func (s *Store) Fail(_ context.Context, ev *escalation.Event, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == ev.ID {
			now := time.Now()
			ev.Status = escalation.EventFailed
			ev.CompletedAt = &now
			ev.Metadata.Error = reason
			s.events[i] = *ev
			return nil
		}
	}
	return escalation.ErrNotFound
}

// ListByIncidentPolicy returns all events for an (incident, policy) pair.
func (s *Store) ListByIncidentPolicy(_ context.Context, incidentID, policyID int64) ([]escalation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.Event
	for _, ev := range s.events {
		if ev.IncidentID == incidentID && ev.PolicyID == policyID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListByIncident returns all events for an incident, newest first.
func (s *Store) ListByIncident(_ context.Context, incidentID int64) ([]escalation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.Event
	for _, ev := range s.events {
		if ev.IncidentID == incidentID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
