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
	"go.uber.org/zap"
)

func TestTargetResolver(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	team := int64(7)
	inc := Incident{ID: 1, Status: StatusTriggered, TeamID: &team, CreatedAt: time.Now()}

	incidents := newFakeIncidentStore(inc)
	incidents.assignees[1] = []User{{ID: 5, Email: "alan@example.com"}}
	directory := &fakeDirectory{
		byRole: map[string][]User{"team_lead": {{ID: 10, Email: "ada@example.com", Role: "team_lead"}}},
		all: []User{
			{ID: 10, Email: "ada@example.com", Role: "team_lead"},
			{ID: 30, Email: "donald@example.com", Role: "engineer"},
		},
	}
	r := NewTargetResolver(incidents, directory, log)

	t.Run("assignees", func(t *testing.T) {
		users := r.Resolve(ctx, ParseTarget("assignees"), inc)
		assert.Len(t, users, 1)
		assert.Equal(t, int64(5), users[0].ID)
	})

	t.Run("team role", func(t *testing.T) {
		users := r.Resolve(ctx, ParseTarget("team_lead"), inc)
		assert.Len(t, users, 1)
		assert.Equal(t, int64(10), users[0].ID)
	})

	t.Run("all team", func(t *testing.T) {
		users := r.Resolve(ctx, ParseTarget("all"), inc)
		assert.Len(t, users, 2)
	})

	t.Run("role without members", func(t *testing.T) {
		assert.Empty(t, r.Resolve(ctx, ParseTarget("on_call"), inc))
	})

	t.Run("team target without team", func(t *testing.T) {
		noTeam := Incident{ID: 2, Status: StatusTriggered}
		assert.Empty(t, r.Resolve(ctx, ParseTarget("team_lead"), noTeam))
		assert.Empty(t, r.Resolve(ctx, ParseTarget("all"), noTeam))
	})

	t.Run("unknown target", func(t *testing.T) {
		assert.Empty(t, r.Resolve(ctx, ParseTarget("Whole Company"), inc))
	})

	t.Run("store error fails soft", func(t *testing.T) {
		broken := NewTargetResolver(incidents, &fakeDirectory{err: fmt.Errorf("ldap down")}, log)
		assert.Empty(t, broken.Resolve(ctx, ParseTarget("team_lead"), inc))
	})
}
