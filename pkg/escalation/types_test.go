// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentEscalatable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		incident Incident
		want     bool
	}{
		{"triggered", Incident{Status: StatusTriggered}, true},
		{"acknowledged", Incident{Status: StatusAcknowledged}, true},
		{"resolved", Incident{Status: StatusResolved}, false},
		{"snoozed status", Incident{Status: StatusSnoozed}, false},
		{"snoozed until future", Incident{Status: StatusTriggered, SnoozedUntil: &future}, false},
		{"snooze expired", Incident{Status: StatusTriggered, SnoozedUntil: &past}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.incident.Escalatable(now))
		})
	}
}

func TestIncidentAgeMinutes(t *testing.T) {
	now := time.Now()

	inc := Incident{CreatedAt: now.Add(-35*time.Minute - 30*time.Second)}
	assert.Equal(t, 35, inc.AgeMinutes(now), "age is floored to whole minutes")

	fresh := Incident{CreatedAt: now.Add(time.Minute)}
	assert.Equal(t, 0, fresh.AgeMinutes(now), "future creation clamps to zero")
}

func TestConditionsMatches(t *testing.T) {
	team := int64(7)
	inc := Incident{
		Severity: SeverityCritical,
		Service:  "payments",
		TeamID:   &team,
	}

	t.Run("empty conditions match anything", func(t *testing.T) {
		assert.True(t, Conditions{}.Empty())
		assert.True(t, Conditions{}.Matches(inc))
	})

	t.Run("severity OR-set", func(t *testing.T) {
		c := Conditions{Severities: []Severity{SeverityHigh, SeverityCritical}}
		assert.True(t, c.Matches(inc))
		c = Conditions{Severities: []Severity{SeverityLow}}
		assert.False(t, c.Matches(inc))
	})

	t.Run("criteria are AND-ed", func(t *testing.T) {
		c := Conditions{
			Severities: []Severity{SeverityCritical},
			Services:   []string{"billing"},
		}
		assert.False(t, c.Matches(inc))
	})

	t.Run("team condition on team-less incident", func(t *testing.T) {
		c := Conditions{TeamIDs: []int64{7}}
		assert.False(t, c.Matches(Incident{Severity: SeverityCritical}))
		assert.True(t, c.Matches(inc))
	})

	t.Run("severity matching is case-insensitive on condition side", func(t *testing.T) {
		c := Conditions{Severities: []Severity{"CRITICAL"}}
		assert.True(t, c.Matches(inc))
	})
}

func TestActionUnmarshalNormalization(t *testing.T) {
	t.Run("scalar target becomes list", func(t *testing.T) {
		var a Action
		require.NoError(t, json.Unmarshal([]byte(`{"type":"notify","target":"team_lead"}`), &a))
		assert.Equal(t, ActionNotify, a.Type)
		assert.Equal(t, []string{"team_lead"}, a.Targets)
	})

	t.Run("recipients alias", func(t *testing.T) {
		var a Action
		require.NoError(t, json.Unmarshal([]byte(`{"type":"notify","recipients":["assignees","manager"]}`), &a))
		assert.Equal(t, []string{"assignees", "manager"}, a.Targets)
	})

	t.Run("notify_role shorthand", func(t *testing.T) {
		var a Action
		require.NoError(t, json.Unmarshal([]byte(`{"type":"notify_team_lead"}`), &a))
		assert.Equal(t, ActionNotify, a.Type)
		assert.Equal(t, []string{"team_lead"}, a.Targets)
	})

	t.Run("change_status alias", func(t *testing.T) {
		var a Action
		require.NoError(t, json.Unmarshal([]byte(`{"type":"change_status","status":"acknowledged"}`), &a))
		assert.Equal(t, ActionStatusChange, a.Type)
		assert.Equal(t, StatusAcknowledged, a.Status)
	})
}

func TestPolicyValidate(t *testing.T) {
	valid := Policy{
		ID:   1,
		Name: "critical-page",
		Steps: []Step{
			{DelayMinutes: 0, Actions: []Action{{Type: ActionNotify, Targets: []string{"assignees"}}}},
			{DelayMinutes: 30, Actions: []Action{{Type: ActionNotify, Targets: []string{"manager"}}}},
		},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"empty name", func(p *Policy) { p.Name = "" }},
		{"no steps", func(p *Policy) { p.Steps = nil }},
		{"negative delay", func(p *Policy) { p.Steps[1].DelayMinutes = -5 }},
		{"step without actions", func(p *Policy) { p.Steps[0].Actions = nil }},
		{"notify without targets", func(p *Policy) { p.Steps[0].Actions[0].Targets = nil }},
		{"assign without assignee", func(p *Policy) {
			p.Steps[0].Actions[0] = Action{Type: ActionAssign}
		}},
		{"status change with bad status", func(p *Policy) {
			p.Steps[0].Actions[0] = Action{Type: ActionStatusChange, Status: "closed"}
		}},
		{"unknown action type", func(p *Policy) {
			p.Steps[0].Actions[0] = Action{Type: "page"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			p.Steps = []Step{
				{DelayMinutes: 0, Actions: []Action{{Type: ActionNotify, Targets: []string{"assignees"}}}},
				{DelayMinutes: 30, Actions: []Action{{Type: ActionNotify, Targets: []string{"manager"}}}},
			}
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestParseTarget(t *testing.T) {
	assert.Equal(t, TargetAssignees, ParseTarget("assignees").Kind)
	assert.Equal(t, TargetAllTeam, ParseTarget("all").Kind)
	assert.Equal(t, TargetAllTeam, ParseTarget("team").Kind)
	assert.Equal(t, TargetAllTeam, ParseTarget("all_team").Kind)

	role := ParseTarget("team_lead")
	assert.Equal(t, TargetTeamRole, role.Kind)
	assert.Equal(t, "team_lead", role.Role)

	assert.Equal(t, TargetUnknown, ParseTarget("Team Lead").Kind)
	assert.Equal(t, TargetUnknown, ParseTarget("").Kind)
}
