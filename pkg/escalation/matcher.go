// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/metrics"
)

// Matcher selects the active policies applicable to an incident. It has no
// side effects; invalid policies are skipped and logged rather than failing
// the incident.
type Matcher struct {
	policies PolicyStore
	log      *zap.SugaredLogger
}

// NewMatcher creates a policy matcher backed by the given store.
func NewMatcher(policies PolicyStore, log *zap.SugaredLogger) *Matcher {
	return &Matcher{policies: policies, log: log.Named("matcher")}
}

// Match returns the active policies whose conditions all pass for the
// incident, ordered by policy ID ascending so step processing across policies
// is reproducible.
func (m *Matcher) Match(ctx context.Context, inc Incident) ([]Policy, error) {
	active, err := m.policies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active policies: %w", err)
	}

	matched := make([]Policy, 0, len(active))
	for _, p := range active {
		if err := p.Validate(); err != nil {
			m.log.Warnw("Skipping malformed escalation policy",
				"policy", p.Name,
				"policyID", p.ID,
				"error", err)
			metrics.PoliciesSkipped.WithLabelValues("invalid").Inc()
			continue
		}
		if !p.Conditions.Matches(inc) {
			continue
		}
		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if len(matched) > 0 {
		metrics.PoliciesMatched.Add(float64(len(matched)))
		m.log.Debugw("Matched escalation policies",
			"incidentID", inc.ID,
			"policies", len(matched))
	}
	return matched, nil
}
