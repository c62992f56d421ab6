// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/apiresponses"
	"github.com/telekom/incident-escalation/pkg/escalation"
)

// requesterHeader carries the caller identity recorded as triggered_by on
// manually triggered escalations.
const requesterHeader = "X-Requester"

// EventLister is the read side the events endpoint needs.
type EventLister interface {
	ListByIncident(ctx context.Context, incidentID int64) ([]escalation.Event, error)
}

// EscalationController exposes the engine over HTTP: a full-run trigger, a
// per-incident trigger with optional force, and the per-incident event log.
type EscalationController struct {
	engine *escalation.Engine
	events EventLister
	log    *zap.SugaredLogger
}

// NewEscalationController creates the controller.
func NewEscalationController(engine *escalation.Engine, events EventLister, log *zap.SugaredLogger) *EscalationController {
	return &EscalationController{
		engine: engine,
		events: events,
		log:    log.Named("escalation-api"),
	}
}

func (ec *EscalationController) BasePath() string { return "escalation" }

func (ec *EscalationController) Handlers() []gin.HandlerFunc { return nil }

func (ec *EscalationController) Register(rg *gin.RouterGroup) error {
	rg.POST("/run", ec.runOnce)
	rg.POST("/incidents/:id/process", ec.processIncident)
	rg.GET("/incidents/:id/events", ec.listEvents)
	return nil
}

func requester(c *gin.Context) string {
	if v := c.GetHeader(requesterHeader); v != "" {
		return v
	}
	return "api"
}

// runOnce triggers a full escalation run over all active incidents.
func (ec *EscalationController) runOnce(c *gin.Context) {
	stats, err := ec.engine.RunOnce(c.Request.Context(), requester(c))
	if err != nil {
		if errors.Is(err, escalation.ErrRunActive) {
			apiresponses.RespondConflict(c, "escalation run already in progress")
			return
		}
		apiresponses.RespondInternalError(c, "run escalations", err, ec.log)
		return
	}
	apiresponses.RespondOK(c, stats)
}

// processIncident evaluates one incident. With ?force=true, step timing is
// bypassed; dedup still applies.
func (ec *EscalationController) processIncident(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		apiresponses.RespondBadRequest(c, "invalid incident id")
		return
	}
	force := c.Query("force") == "true"

	stats, err := ec.engine.ProcessIncident(c.Request.Context(), id, force, requester(c))
	if err != nil {
		switch {
		case errors.Is(err, escalation.ErrNotFound):
			apiresponses.RespondNotFound(c, "incident", c.Param("id"))
		case errors.Is(err, escalation.ErrNotEscalatable):
			apiresponses.RespondConflict(c, "incident is not eligible for escalation")
		default:
			apiresponses.RespondInternalError(c, "escalate incident", err, ec.log)
		}
		return
	}
	apiresponses.RespondOK(c, stats)
}

// listEvents returns the escalation event log of one incident, newest first.
func (ec *EscalationController) listEvents(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		apiresponses.RespondBadRequest(c, "invalid incident id")
		return
	}

	events, err := ec.events.ListByIncident(c.Request.Context(), id)
	if err != nil {
		apiresponses.RespondInternalError(c, "list escalation events", err, ec.log)
		return
	}
	if events == nil {
		events = []escalation.Event{}
	}
	apiresponses.RespondOK(c, gin.H{"events": events})
}
