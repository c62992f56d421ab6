// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitterFixture struct {
	incidents *fakeIncidentStore
	directory *fakeDirectory
	events    *fakeEventStore
	notifier  *fakeNotifier
	emitter   *Emitter
}

func newEmitterFixture(t *testing.T, inc Incident) *emitterFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	incidents := newFakeIncidentStore(inc)
	directory := &fakeDirectory{byRole: map[string][]User{
		"team_lead": {
			{ID: 10, Name: "Ada", Email: "ada@example.com", Role: "team_lead"},
			{ID: 11, Name: "Grace", Email: "grace@example.com", Role: "team_lead"},
		},
	}}
	events := &fakeEventStore{}
	notifier := &fakeNotifier{failFor: map[int64]bool{}}
	resolver := NewTargetResolver(incidents, directory, log)
	dedup := NewDedupTracker(events)
	emitter := NewEmitter(resolver, dedup, events, incidents, notifier, nil, log)
	return &emitterFixture{
		incidents: incidents,
		directory: directory,
		events:    events,
		notifier:  notifier,
		emitter:   emitter,
	}
}

func testIncident() Incident {
	team := int64(7)
	return Incident{
		ID:        1,
		Title:     "checkout latency",
		Status:    StatusTriggered,
		Severity:  SeverityCritical,
		Service:   "payments",
		TeamID:    &team,
		CreatedAt: time.Now().Add(-40 * time.Minute),
	}
}

func teamLeadPolicy() Policy {
	return Policy{
		ID:   1,
		Name: "page-leads",
		Steps: []Step{
			{DelayMinutes: 0, Actions: []Action{{Type: ActionNotify, Targets: []string{"team_lead"}}}},
		},
	}
}

func TestProcessStepFirstRun(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	p := teamLeadPolicy()
	now := time.Now()

	res, err := f.emitter.ProcessStep(ctx, inc, p, DueStep{Index: 0, Step: p.Steps[0]}, false, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepDone, res.Outcome)
	assert.Equal(t, 2, res.NewNotifications)
	assert.ElementsMatch(t, []int64{10, 11}, f.notifier.sentTo())

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, EventCompleted, ev.Status)
	assert.Equal(t, "page-leads", ev.Metadata.PolicyName)
	assert.Equal(t, 40, ev.Metadata.IncidentAgeMinutes)
	assert.Len(t, ev.Metadata.TargetUsers, 2)
	assert.Empty(t, ev.Metadata.AlreadyNotified)
	assert.Equal(t, 2, ev.Metadata.NewNotifications)
}

func TestProcessStepIdempotentRerun(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	p := teamLeadPolicy()
	now := time.Now()
	due := DueStep{Index: 0, Step: p.Steps[0]}

	_, err := f.emitter.ProcessStep(ctx, inc, p, due, false, SystemActor, now)
	require.NoError(t, err)

	res, err := f.emitter.ProcessStep(ctx, inc, p, due, true, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepSkippedClean, res.Outcome)
	assert.Len(t, f.events.events, 1, "zero-delta re-run leaves no new event")
	assert.Len(t, f.notifier.sentTo(), 2, "nobody re-notified")
}

func TestProcessStepRecipientGrowthNotifiesDeltaOnly(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	p := teamLeadPolicy()
	now := time.Now()
	due := DueStep{Index: 0, Step: p.Steps[0]}

	_, err := f.emitter.ProcessStep(ctx, inc, p, due, false, SystemActor, now)
	require.NoError(t, err)

	f.directory.byRole["team_lead"] = append(f.directory.byRole["team_lead"],
		User{ID: 12, Name: "Edsger", Email: "edsger@example.com", Role: "team_lead"})

	res, err := f.emitter.ProcessStep(ctx, inc, p, due, true, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepDone, res.Outcome)
	assert.Equal(t, 1, res.NewNotifications)
	assert.ElementsMatch(t, []int64{10, 11, 12}, f.notifier.sentTo())

	require.Len(t, f.events.events, 2)
	second := f.events.events[1]
	assert.Len(t, second.Metadata.TargetUsers, 3, "metadata records the full union")
	assert.ElementsMatch(t, []int64{10, 11}, second.Metadata.AlreadyNotified)
	assert.Equal(t, 1, second.Metadata.NewNotifications)
}

func TestProcessStepFailedDeliveryRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	p := teamLeadPolicy()
	now := time.Now()
	due := DueStep{Index: 0, Step: p.Steps[0]}

	f.notifier.failFor[11] = true
	res, err := f.emitter.ProcessStep(ctx, inc, p, due, false, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepDone, res.Outcome)
	assert.Equal(t, 1, res.NewNotifications)
	assert.Equal(t, 1, res.FailedDeliveries)

	first := f.events.events[0]
	assert.Len(t, first.Metadata.TargetUsers, 1, "failed recipient not recorded as notified")
	assert.Equal(t, []int64{11}, first.Metadata.FailedDeliveries)

	// delivery recovers, next run notifies only the missed recipient
	f.notifier.failFor = map[int64]bool{}
	res, err = f.emitter.ProcessStep(ctx, inc, p, due, true, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepDone, res.Outcome)
	assert.Equal(t, 1, res.NewNotifications)
	assert.ElementsMatch(t, []int64{10, 11}, f.notifier.sentTo())
}

func TestProcessStepOneShotActionsRunOnce(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	p := Policy{
		ID:   2,
		Name: "assign-and-page",
		Steps: []Step{{
			DelayMinutes: 0,
			Actions: []Action{
				{Type: ActionAssign, AssigneeID: 42},
				{Type: ActionStatusChange, Status: StatusAcknowledged},
				{Type: ActionNotify, Targets: []string{"team_lead"}},
			},
		}},
	}
	now := time.Now()
	due := DueStep{Index: 0, Step: p.Steps[0]}

	_, err := f.emitter.ProcessStep(ctx, inc, p, due, false, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, f.incidents.assigned)
	assert.Equal(t, []IncidentStatus{StatusAcknowledged}, f.incidents.statuses)

	// recipient set grows; notify delta fires but one-shot actions do not repeat
	f.directory.byRole["team_lead"] = append(f.directory.byRole["team_lead"],
		User{ID: 12, Email: "edsger@example.com", Role: "team_lead"})
	_, err = f.emitter.ProcessStep(ctx, inc, p, due, true, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, f.incidents.assigned, "assign not repeated")
	assert.Equal(t, []IncidentStatus{StatusAcknowledged}, f.incidents.statuses, "status change not repeated")
}

func TestProcessStepActionFailureMarksEventFailed(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	f.incidents.assignErr = fmt.Errorf("user gone")
	p := Policy{
		ID:   3,
		Name: "assign-only",
		Steps: []Step{{
			DelayMinutes: 0,
			Actions: []Action{
				{Type: ActionAssign, AssigneeID: 42},
				{Type: ActionNotify, Targets: []string{"team_lead"}},
			},
		}},
	}
	now := time.Now()

	res, err := f.emitter.ProcessStep(ctx, inc, p, DueStep{Index: 0, Step: p.Steps[0]}, false, SystemActor, now)
	require.NoError(t, err, "unit failure is recorded, not returned")
	assert.Equal(t, StepErrored, res.Outcome)

	ev := f.events.events[0]
	assert.Equal(t, EventFailed, ev.Status)
	assert.Contains(t, ev.Metadata.Error, "user gone")
	assert.Len(t, ev.Metadata.TargetUsers, 2, "notifications still attempted despite action failure")
}

func TestProcessStepUnknownTargetStillMarksStep(t *testing.T) {
	ctx := context.Background()
	inc := testIncident()
	f := newEmitterFixture(t, inc)
	p := Policy{
		ID:   4,
		Name: "bad-target",
		Steps: []Step{{
			DelayMinutes: 0,
			Actions:      []Action{{Type: ActionNotify, Targets: []string{"Nobody Here"}}},
		}},
	}
	now := time.Now()
	due := DueStep{Index: 0, Step: p.Steps[0]}

	res, err := f.emitter.ProcessStep(ctx, inc, p, due, false, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepDone, res.Outcome)
	assert.Equal(t, 0, res.NewNotifications)
	require.Len(t, f.events.events, 1, "step marked processed even with empty recipient set")

	res, err = f.emitter.ProcessStep(ctx, inc, p, due, true, SystemActor, now)
	require.NoError(t, err)
	assert.Equal(t, StepSkippedClean, res.Outcome)
	assert.Len(t, f.events.events, 1)
}
