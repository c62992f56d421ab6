// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"

	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/metrics"
)

// TargetKind is the closed set of symbolic target variants a step action can
// address.
type TargetKind int

const (
	// TargetUnknown is the fail-soft variant: it resolves to nobody and is
	// reported, but never aborts a run.
	TargetUnknown TargetKind = iota
	// TargetAssignees addresses the users currently assigned to the incident.
	TargetAssignees
	// TargetTeamRole addresses the incident team's members holding a role
	// (team_lead, manager, on_call, ...).
	TargetTeamRole
	// TargetAllTeam addresses every member of the incident's team.
	TargetAllTeam
)

// Target is a parsed symbolic target.
type Target struct {
	Kind TargetKind
	Role string
	Raw  string
}

// ParseTarget maps a symbolic target string to a Target. Role names must be
// lowercase identifiers; anything else parses as TargetUnknown.
func ParseTarget(s string) Target {
	switch s {
	case "assignees":
		return Target{Kind: TargetAssignees, Raw: s}
	case "all", "team", "all_team":
		return Target{Kind: TargetAllTeam, Raw: s}
	}
	if isRoleName(s) {
		return Target{Kind: TargetTeamRole, Role: s, Raw: s}
	}
	return Target{Kind: TargetUnknown, Raw: s}
}

func isRoleName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// TargetResolver maps parsed targets plus an incident to concrete recipient
// users. Resolution is fail-soft throughout: unknown targets, team-scoped
// targets on team-less incidents, and store errors all yield an empty set so
// one bad target never takes down the step.
type TargetResolver struct {
	incidents IncidentStore
	directory DirectoryStore
	log       *zap.SugaredLogger
}

// NewTargetResolver creates a resolver over the incident and directory stores.
func NewTargetResolver(incidents IncidentStore, directory DirectoryStore, log *zap.SugaredLogger) *TargetResolver {
	return &TargetResolver{incidents: incidents, directory: directory, log: log.Named("resolver")}
}

// Resolve returns the users addressed by the target for the incident.
func (r *TargetResolver) Resolve(ctx context.Context, tgt Target, inc Incident) []User {
	switch tgt.Kind {
	case TargetAssignees:
		users, err := r.incidents.Assignees(ctx, inc.ID)
		if err != nil {
			r.log.Warnw("Failed to resolve incident assignees, treating as empty",
				"incidentID", inc.ID,
				"error", err)
			metrics.TargetResolutionErrors.WithLabelValues("assignees").Inc()
			return nil
		}
		return users

	case TargetTeamRole:
		if inc.TeamID == nil {
			r.log.Debugw("Team-scoped target on incident without team",
				"incidentID", inc.ID,
				"target", tgt.Raw)
			return nil
		}
		users, err := r.directory.UsersByTeamAndRole(ctx, *inc.TeamID, tgt.Role)
		if err != nil {
			r.log.Warnw("Failed to resolve team role target, treating as empty",
				"incidentID", inc.ID,
				"teamID", *inc.TeamID,
				"role", tgt.Role,
				"error", err)
			metrics.TargetResolutionErrors.WithLabelValues("role").Inc()
			return nil
		}
		return users

	case TargetAllTeam:
		if inc.TeamID == nil {
			r.log.Debugw("All-team target on incident without team", "incidentID", inc.ID)
			return nil
		}
		users, err := r.directory.TeamMembers(ctx, *inc.TeamID)
		if err != nil {
			r.log.Warnw("Failed to resolve team members, treating as empty",
				"incidentID", inc.ID,
				"teamID", *inc.TeamID,
				"error", err)
			metrics.TargetResolutionErrors.WithLabelValues("team").Inc()
			return nil
		}
		return users

	default:
		r.log.Warnw("Unknown escalation target, resolving to empty set",
			"incidentID", inc.ID,
			"target", tgt.Raw)
		metrics.TargetResolutionErrors.WithLabelValues("unknown").Inc()
		return nil
	}
}
