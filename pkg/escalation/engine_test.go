// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type engineFixture struct {
	incidents *fakeIncidentStore
	policies  *fakePolicyStore
	directory *fakeDirectory
	events    *fakeEventStore
	notifier  *fakeNotifier
	engine    *Engine
}

func newEngineFixture(t *testing.T, incidents []Incident, policies []Policy) *engineFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	incidentStore := newFakeIncidentStore(incidents...)
	policyStore := &fakePolicyStore{policies: policies}
	directory := &fakeDirectory{
		byRole: map[string][]User{
			"team_lead": {{ID: 10, Name: "Ada", Email: "ada@example.com", Role: "team_lead"}},
			"manager":   {{ID: 20, Name: "Barbara", Email: "barbara@example.com", Role: "manager"}},
		},
		all: []User{
			{ID: 10, Name: "Ada", Email: "ada@example.com", Role: "team_lead"},
			{ID: 20, Name: "Barbara", Email: "barbara@example.com", Role: "manager"},
			{ID: 30, Name: "Donald", Email: "donald@example.com", Role: "engineer"},
		},
	}
	events := &fakeEventStore{}
	notifier := &fakeNotifier{failFor: map[int64]bool{}}

	matcher := NewMatcher(policyStore, log)
	resolver := NewTargetResolver(incidentStore, directory, log)
	dedup := NewDedupTracker(events)
	emitter := NewEmitter(resolver, dedup, events, incidentStore, notifier, nil, log)
	engine := NewEngine(matcher, emitter, dedup, incidentStore, nil, DefaultEngineConfig(), log)

	return &engineFixture{
		incidents: incidentStore,
		policies:  policyStore,
		directory: directory,
		events:    events,
		notifier:  notifier,
		engine:    engine,
	}
}

func escalationLadder() Policy {
	return Policy{
		ID:     1,
		Name:   "critical-ladder",
		Active: true,
		Conditions: Conditions{
			Severities: []Severity{SeverityCritical},
		},
		Steps: []Step{
			{DelayMinutes: 0, Actions: []Action{{Type: ActionNotify, Targets: []string{"assignees"}}}},
			{DelayMinutes: 15, Actions: []Action{{Type: ActionNotify, Targets: []string{"team_lead"}}}},
			{DelayMinutes: 30, Actions: []Action{{Type: ActionNotify, Targets: []string{"manager"}}}},
		},
	}
}

func TestEngineRunCatchesUpOverdueSteps(t *testing.T) {
	ctx := context.Background()
	team := int64(7)
	inc := Incident{
		ID:        1,
		Title:     "checkout down",
		Status:    StatusTriggered,
		Severity:  SeverityCritical,
		TeamID:    &team,
		CreatedAt: time.Now().Add(-17 * time.Minute),
	}
	f := newEngineFixture(t, []Incident{inc}, []Policy{escalationLadder()})
	f.incidents.assignees[1] = []User{{ID: 5, Name: "Alan", Email: "alan@example.com"}}

	// First run at ~T+17: steps 0 and 15 are due, the 30-minute step is not.
	stats, err := f.engine.RunOnce(ctx, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IncidentsEvaluated)
	assert.Equal(t, 2, stats.StepsCompleted)
	assert.ElementsMatch(t, []int64{5, 10}, f.notifier.sentTo())

	// Advance the incident to ~T+35 and run again: only the last step is new,
	// the earlier ones are skipped without writing events.
	f.incidents.mu.Lock()
	aged := f.incidents.incidents[1]
	aged.CreatedAt = time.Now().Add(-35 * time.Minute)
	f.incidents.incidents[1] = aged
	f.incidents.mu.Unlock()

	stats, err = f.engine.RunOnce(ctx, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StepsCompleted)
	assert.Equal(t, 2, stats.StepsSkipped)
	assert.ElementsMatch(t, []int64{5, 10, 20}, f.notifier.sentTo())
	assert.Len(t, f.events.events, 3, "one event per processed step")
}

func TestEngineSkipsNonEscalatableIncidents(t *testing.T) {
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	incidents := []Incident{
		{ID: 1, Status: StatusResolved, Severity: SeverityCritical, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: 2, Status: StatusTriggered, Severity: SeverityCritical, SnoozedUntil: &future, CreatedAt: time.Now().Add(-time.Hour)},
	}
	f := newEngineFixture(t, incidents, []Policy{escalationLadder()})

	stats, err := f.engine.RunOnce(ctx, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.IncidentsEvaluated)
	assert.Empty(t, f.events.events)
}

func TestEngineSeverityMismatchNoEvents(t *testing.T) {
	ctx := context.Background()
	inc := Incident{ID: 1, Status: StatusTriggered, Severity: SeverityLow, CreatedAt: time.Now().Add(-time.Hour)}
	f := newEngineFixture(t, []Incident{inc}, []Policy{escalationLadder()})

	stats, err := f.engine.RunOnce(ctx, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IncidentsEvaluated)
	assert.Equal(t, 0, stats.PoliciesMatched)
	assert.Empty(t, f.events.events)
}

func TestEngineSingleFlight(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.engine.running.Store(true)

	_, err := f.engine.RunOnce(context.Background(), SystemActor)
	assert.ErrorIs(t, err, ErrRunActive)
}

func TestProcessIncidentForceBypassesTimingNotDedup(t *testing.T) {
	ctx := context.Background()
	team := int64(7)
	inc := Incident{
		ID:        1,
		Title:     "fresh incident",
		Status:    StatusTriggered,
		Severity:  SeverityCritical,
		TeamID:    &team,
		CreatedAt: time.Now(),
	}
	f := newEngineFixture(t, []Incident{inc}, []Policy{escalationLadder()})

	stats, err := f.engine.ProcessIncident(ctx, 1, true, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.StepsCompleted, "force runs every step regardless of age")
	assert.ElementsMatch(t, []int64{10, 20}, f.notifier.sentTo(), "no assignees, later rungs notified")

	for _, ev := range f.events.events {
		assert.Equal(t, "ops@example.com", ev.Metadata.TriggeredBy)
	}

	// forcing again changes nothing: dedup still applies
	stats, err = f.engine.ProcessIncident(ctx, 1, true, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.StepsCompleted)
	assert.Equal(t, 3, stats.StepsSkipped)
	assert.Len(t, f.notifier.sentTo(), 2)
}

func TestProcessIncidentEligibilityAlwaysEnforced(t *testing.T) {
	ctx := context.Background()
	inc := Incident{ID: 1, Status: StatusResolved, Severity: SeverityCritical, CreatedAt: time.Now().Add(-time.Hour)}
	f := newEngineFixture(t, []Incident{inc}, []Policy{escalationLadder()})

	_, err := f.engine.ProcessIncident(ctx, 1, true, "ops@example.com")
	assert.ErrorIs(t, err, ErrNotEscalatable, "force does not bypass eligibility")

	_, err = f.engine.ProcessIncident(ctx, 99, false, "ops@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
