// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/audit"
	"github.com/telekom/incident-escalation/pkg/metrics"
)

// StepOutcome classifies what processing a due step amounted to.
type StepOutcome int

const (
	// StepSkippedClean means the step was fully handled by earlier runs and
	// no event was written.
	StepSkippedClean StepOutcome = iota
	// StepDone means an event was written and completed.
	StepDone
	// StepErrored means an event was written and marked failed.
	StepErrored
)

// StepResult summarizes one processed step.
type StepResult struct {
	Outcome          StepOutcome
	EventID          int64
	NewNotifications int
	FailedDeliveries int
}

// Emitter executes one due (incident, policy, step) unit: it resolves the
// step's targets, subtracts already-notified recipients, writes the escalation
// event, runs the step's actions, and persists the outcome. Every side effect
// of a step flows through here exactly once.
type Emitter struct {
	resolver  *TargetResolver
	dedup     *DedupTracker
	events    EventStore
	incidents IncidentStore
	notifier  Notifier
	trail     *audit.Trail
	log       *zap.SugaredLogger
}

// NewEmitter wires an emitter from its collaborators. trail may be nil.
func NewEmitter(resolver *TargetResolver, dedup *DedupTracker, events EventStore, incidents IncidentStore, notifier Notifier, trail *audit.Trail, log *zap.SugaredLogger) *Emitter {
	return &Emitter{
		resolver:  resolver,
		dedup:     dedup,
		events:    events,
		incidents: incidents,
		notifier:  notifier,
		trail:     trail,
		log:       log.Named("emitter"),
	}
}

// ProcessStep runs one due step for one incident under one policy.
//
// The decision whether anything happens is made against durable state, not
// in-memory flags, so a crashed or partially failed run self-heals on the next
// cycle: recipients whose delivery was not accepted are absent from the stored
// target_users and get retried, while everyone recorded stays suppressed.
//
// alreadyProcessed tells the emitter whether any event exists for this step;
// one-shot actions (assign, status_change) only run when it is false.
func (e *Emitter) ProcessStep(ctx context.Context, inc Incident, p Policy, due DueStep, alreadyProcessed bool, triggeredBy string, now time.Time) (StepResult, error) {
	log := e.log.With(
		"incidentID", inc.ID,
		"policy", p.Name,
		"step", due.Index)

	notified, err := e.dedup.NotifiedRecipients(ctx, inc.ID, p.ID, due.Index)
	if err != nil {
		return StepResult{}, fmt.Errorf("loading notified recipients: %w", err)
	}

	// Resolve the union of every notify action's targets up front so the
	// skip decision sees the full recipient set.
	type plannedNotify struct {
		action     Action
		recipients []User
	}
	var (
		planned      []plannedNotify
		triggeredFor []string
		pending      = make(map[int64]User)
	)
	for _, action := range due.Step.Actions {
		if !action.IsNotify() {
			continue
		}
		var recipients []User
		seen := make(map[int64]struct{})
		for _, raw := range action.Targets {
			triggeredFor = append(triggeredFor, raw)
			for _, u := range e.resolver.Resolve(ctx, ParseTarget(raw), inc) {
				if _, dup := seen[u.ID]; dup {
					continue
				}
				seen[u.ID] = struct{}{}
				if _, done := notified[u.ID]; done {
					metrics.NotificationsDeduped.Inc()
					continue
				}
				recipients = append(recipients, u)
				pending[u.ID] = u
			}
		}
		planned = append(planned, plannedNotify{action: action, recipients: recipients})
	}

	// Nothing new to notify and the one-shot actions already ran: the step
	// is fully handled, leave no trace beyond a metric.
	if len(pending) == 0 && alreadyProcessed {
		log.Debugw("Step already fully processed, skipping")
		metrics.StepsSkipped.WithLabelValues(p.Name).Inc()
		e.trail.Record(ctx, audit.EventStepSkipped, triggeredBy, audit.Subject{
			IncidentID: inc.ID,
			PolicyID:   p.ID,
			PolicyName: p.Name,
			StepIndex:  due.Index,
		}, map[string]interface{}{"reason": "already_processed"})
		return StepResult{Outcome: StepSkippedClean}, nil
	}

	alreadyIDs := make([]int64, 0, len(notified))
	for id := range notified {
		alreadyIDs = append(alreadyIDs, id)
	}
	sort.Slice(alreadyIDs, func(i, j int) bool { return alreadyIDs[i] < alreadyIDs[j] })

	ev := &Event{
		IncidentID:  inc.ID,
		PolicyID:    p.ID,
		Step:        due.Index,
		Status:      EventPending,
		TriggeredAt: now,
		Metadata: EventMetadata{
			PolicyName:         p.Name,
			PolicyDescription:  p.Description,
			Severity:           inc.Severity,
			Service:            inc.Service,
			IncidentAgeMinutes: inc.AgeMinutes(now),
			DelayMinutes:       due.Step.DelayMinutes,
			TriggeredBy:        triggeredBy,
			TriggeredFor:       triggeredFor,
			AlreadyNotified:    alreadyIDs,
		},
	}
	if err := e.events.Append(ctx, ev); err != nil {
		return StepResult{}, fmt.Errorf("appending escalation event: %w", err)
	}
	metrics.EventsAppended.Inc()
	metrics.StepsTriggered.WithLabelValues(p.Name).Inc()
	e.trail.Record(ctx, audit.EventStepTriggered, triggeredBy, audit.Subject{
		IncidentID: inc.ID,
		PolicyID:   p.ID,
		PolicyName: p.Name,
		StepIndex:  due.Index,
	}, map[string]interface{}{
		"pending_recipients": len(pending),
		"delay_minutes":      due.Step.DelayMinutes,
	})

	var actionErrs []string

	if !alreadyProcessed {
		for _, action := range due.Step.Actions {
			if action.IsNotify() {
				continue
			}
			if err := e.runOneShot(ctx, inc, action, triggeredBy, p, due.Index); err != nil {
				log.Errorw("Step action failed", "actionType", action.Type, "error", err)
				actionErrs = append(actionErrs, err.Error())
			}
		}
	}

	// Notify the delta. A recipient counts as notified only once the
	// delivery layer accepts the request.
	var (
		newlyNotified []TargetUser
		failedIDs     []int64
	)
	for _, pn := range planned {
		for _, u := range pn.recipients {
			body, rerr := RenderMessage(pn.action.Message, MessageContext{
				IncidentID:       inc.ID,
				IncidentTitle:    inc.Title,
				IncidentService:  inc.Service,
				IncidentSeverity: inc.Severity,
				IncidentAge:      inc.AgeMinutes(now),
				PolicyName:       p.Name,
				StepIndex:        due.Index,
				DelayMinutes:     due.Step.DelayMinutes,
				RecipientName:    u.Name,
				RecipientRole:    u.Role,
			})
			if rerr != nil {
				log.Warnw("Message template fell back to default", "error", rerr)
			}

			req := NotificationRequest{
				Recipient:  u,
				Channels:   pn.action.Channels,
				Subject:    Subject(inc, p, due.Index),
				Body:       body,
				IncidentID: inc.ID,
				PolicyID:   p.ID,
				StepIndex:  due.Index,
			}
			if err := e.notifier.Notify(ctx, req); err != nil {
				log.Warnw("Notification rejected by delivery layer",
					"userID", u.ID,
					"error", err)
				failedIDs = append(failedIDs, u.ID)
				e.trail.Record(ctx, audit.EventNotificationFailed, triggeredBy, audit.Subject{
					IncidentID: inc.ID,
					PolicyID:   p.ID,
					PolicyName: p.Name,
					StepIndex:  due.Index,
					Recipient:  u.Email,
				}, map[string]interface{}{"error": err.Error()})
				continue
			}
			newlyNotified = append(newlyNotified, TargetUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role})
			e.trail.Record(ctx, audit.EventNotificationQueued, triggeredBy, audit.Subject{
				IncidentID: inc.ID,
				PolicyID:   p.ID,
				PolicyName: p.Name,
				StepIndex:  due.Index,
				Recipient:  u.Email,
			}, nil)
		}
	}

	// The stored target_users is the union of everyone ever notified for
	// this step, so recipient dedup on the next run sees the full history
	// from the latest event alone or from any event, whichever the store
	// returns first.
	union := make([]TargetUser, 0, len(notified)+len(newlyNotified))
	for _, u := range notified {
		union = append(union, u)
	}
	union = append(union, newlyNotified...)
	sort.Slice(union, func(i, j int) bool { return union[i].ID < union[j].ID })

	ev.Metadata.TargetUsers = union
	ev.Metadata.NewNotifications = len(newlyNotified)
	ev.Metadata.FailedDeliveries = failedIDs

	result := StepResult{
		EventID:          ev.ID,
		NewNotifications: len(newlyNotified),
		FailedDeliveries: len(failedIDs),
	}

	if len(actionErrs) > 0 {
		reason := strings.Join(actionErrs, "; ")
		if err := e.events.Fail(ctx, ev, reason); err != nil {
			return result, fmt.Errorf("marking escalation event failed: %w", err)
		}
		metrics.StepsFailed.WithLabelValues(p.Name).Inc()
		e.trail.Record(ctx, audit.EventStepFailed, triggeredBy, audit.Subject{
			IncidentID: inc.ID,
			PolicyID:   p.ID,
			PolicyName: p.Name,
			StepIndex:  due.Index,
		}, map[string]interface{}{"error": reason})
		result.Outcome = StepErrored
		return result, nil
	}

	if err := e.events.Complete(ctx, ev); err != nil {
		return result, fmt.Errorf("completing escalation event: %w", err)
	}
	metrics.StepsCompleted.WithLabelValues(p.Name).Inc()
	e.trail.Record(ctx, audit.EventStepCompleted, triggeredBy, audit.Subject{
		IncidentID: inc.ID,
		PolicyID:   p.ID,
		PolicyName: p.Name,
		StepIndex:  due.Index,
	}, map[string]interface{}{
		"new_notifications": len(newlyNotified),
		"failed_deliveries": len(failedIDs),
	})
	log.Infow("Escalation step completed",
		"newNotifications", len(newlyNotified),
		"failedDeliveries", len(failedIDs))

	result.Outcome = StepDone
	return result, nil
}

func (e *Emitter) runOneShot(ctx context.Context, inc Incident, action Action, triggeredBy string, p Policy, stepIndex int) error {
	subject := audit.Subject{
		IncidentID: inc.ID,
		PolicyID:   p.ID,
		PolicyName: p.Name,
		StepIndex:  stepIndex,
	}
	switch action.Type {
	case ActionAssign:
		if err := e.incidents.Assign(ctx, inc.ID, action.AssigneeID); err != nil {
			return fmt.Errorf("assigning incident %d to user %d: %w", inc.ID, action.AssigneeID, err)
		}
		e.trail.Record(ctx, audit.EventIncidentAssigned, triggeredBy, subject,
			map[string]interface{}{"assignee_id": action.AssigneeID})
		return nil
	case ActionStatusChange:
		if err := e.incidents.UpdateStatus(ctx, inc.ID, action.Status); err != nil {
			return fmt.Errorf("updating incident %d status to %s: %w", inc.ID, action.Status, err)
		}
		e.trail.Record(ctx, audit.EventIncidentStatusChanged, triggeredBy, subject,
			map[string]interface{}{"status": string(action.Status)})
		return nil
	default:
		return fmt.Errorf("unknown one-shot action type %q", action.Type)
	}
}
