// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import "time"

// DueStep pairs a step with its ordinal index inside the policy.
type DueStep struct {
	Index int
	Step  Step
}

// DueSteps returns every step of the policy whose delay has elapsed relative
// to the incident's age at now, in ascending index order. The function is pure
// and returns the full candidate set on every call; suppressing steps that
// were already processed is the dedup tracker's job. Returning all overdue
// steps (not just the first) means a missed cycle catches up in a single run.
func DueSteps(inc Incident, p Policy, now time.Time) []DueStep {
	age := inc.AgeMinutes(now)
	var due []DueStep
	for i, step := range p.Steps {
		if age >= step.DelayMinutes {
			due = append(due, DueStep{Index: i, Step: step})
		}
	}
	return due
}

// AllSteps returns every step of the policy regardless of timing, in index
// order. Used by the manual trigger when the caller forces processing.
func AllSteps(p Policy) []DueStep {
	steps := make([]DueStep, 0, len(p.Steps))
	for i, step := range p.Steps {
		steps = append(steps, DueStep{Index: i, Step: step})
	}
	return steps
}
