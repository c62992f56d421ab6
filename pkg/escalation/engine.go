// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/audit"
	"github.com/telekom/incident-escalation/pkg/metrics"
)

// SystemActor is the triggered_by identity recorded for periodic runs.
const SystemActor = "system"

// ErrRunActive is returned when a run is requested while another is in flight.
var ErrRunActive = fmt.Errorf("escalation run already in progress")

// ErrNotEscalatable is returned by the manual trigger for incidents that are
// resolved or snoozed. Force bypasses step timing, never eligibility.
var ErrNotEscalatable = fmt.Errorf("incident is not eligible for escalation")

// EngineConfig tunes the engine's run loop.
type EngineConfig struct {
	// Interval between periodic runs.
	Interval time.Duration
	// WorkerCount bounds how many incidents are processed concurrently.
	WorkerCount int
	// UnitTimeout caps how long a single incident's evaluation may take.
	UnitTimeout time.Duration
}

// DefaultEngineConfig returns the default run loop settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Interval:    time.Minute,
		WorkerCount: 4,
		UnitTimeout: 30 * time.Second,
	}
}

// RunStats aggregates what one engine run did.
type RunStats struct {
	IncidentsEvaluated int   `json:"incidentsEvaluated"`
	PoliciesMatched    int   `json:"policiesMatched"`
	StepsCompleted     int   `json:"stepsCompleted"`
	StepsFailed        int   `json:"stepsFailed"`
	StepsSkipped       int   `json:"stepsSkipped"`
	NewNotifications   int   `json:"newNotifications"`
	Errors             int   `json:"errors"`
	Duration           int64 `json:"durationMs"`
}

func (s *RunStats) add(o RunStats) {
	s.IncidentsEvaluated += o.IncidentsEvaluated
	s.PoliciesMatched += o.PoliciesMatched
	s.StepsCompleted += o.StepsCompleted
	s.StepsFailed += o.StepsFailed
	s.StepsSkipped += o.StepsSkipped
	s.NewNotifications += o.NewNotifications
	s.Errors += o.Errors
}

// Engine drives escalation processing: a periodic single-flight run over all
// active incidents, plus an on-demand per-incident trigger. All durable state
// lives in the stores; the engine itself only holds run-coordination state, so
// any number of runs can crash and the next one picks up from the event log.
type Engine struct {
	matcher   *Matcher
	emitter   *Emitter
	dedup     *DedupTracker
	incidents IncidentStore
	trail     *audit.Trail
	cfg       EngineConfig
	log       *zap.SugaredLogger

	running atomic.Bool

	// Per-incident locks serialize the periodic run against manual triggers
	// touching the same incident. Entries are never removed; the table is
	// bounded by the number of distinct incidents seen.
	lockMu    sync.Mutex
	lockTable map[int64]*sync.Mutex
}

// NewEngine wires an engine from its collaborators. trail may be nil.
func NewEngine(matcher *Matcher, emitter *Emitter, dedup *DedupTracker, incidents IncidentStore, trail *audit.Trail, cfg EngineConfig, log *zap.SugaredLogger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 30 * time.Second
	}
	return &Engine{
		matcher:   matcher,
		emitter:   emitter,
		dedup:     dedup,
		incidents: incidents,
		trail:     trail,
		cfg:       cfg,
		log:       log.Named("engine"),
		lockTable: make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) incidentLock(id int64) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.lockTable[id]
	if !ok {
		mu = &sync.Mutex{}
		e.lockTable[id] = mu
	}
	return mu
}

// Start runs the periodic escalation loop until the context is cancelled.
// A tick that fires while the previous run is still active is skipped, not
// queued; with all-overdue-steps evaluation the next run catches up anyway.
func (e *Engine) Start(ctx context.Context) {
	e.log.Infow("Starting escalation engine",
		"interval", e.cfg.Interval,
		"workers", e.cfg.WorkerCount)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Infow("Escalation engine stopped")
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx, SystemActor); err != nil {
				if err == ErrRunActive {
					e.log.Warnw("Skipping escalation run, previous run still active")
					continue
				}
				e.log.Errorw("Escalation run failed", "error", err)
			}
		}
	}
}

// RunOnce performs one full escalation run over all active incidents. Only one
// run may be in flight at a time; concurrent callers get ErrRunActive.
func (e *Engine) RunOnce(ctx context.Context, triggeredBy string) (RunStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		metrics.RunsSkipped.Inc()
		e.trail.Record(ctx, audit.EventRunSkipped, triggeredBy, audit.Subject{},
			map[string]interface{}{"reason": "run_active"})
		return RunStats{}, ErrRunActive
	}
	defer e.running.Store(false)

	started := time.Now()
	metrics.RunsTotal.Inc()
	e.trail.Record(ctx, audit.EventRunStarted, triggeredBy, audit.Subject{}, nil)

	incidents, err := e.incidents.ListActive(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("listing active incidents: %w", err)
	}

	var (
		stats   RunStats
		statsMu sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, e.cfg.WorkerCount)
	)
	now := started

	for _, inc := range incidents {
		if !inc.Escalatable(now) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(inc Incident) {
			defer wg.Done()
			defer func() { <-sem }()

			unitCtx, cancel := context.WithTimeout(ctx, e.cfg.UnitTimeout)
			defer cancel()

			incStats := e.processOne(unitCtx, inc, false, triggeredBy, now)
			statsMu.Lock()
			stats.add(incStats)
			statsMu.Unlock()
		}(inc)
	}
	wg.Wait()

	stats.Duration = time.Since(started).Milliseconds()
	e.log.Infow("Escalation run completed",
		"incidents", stats.IncidentsEvaluated,
		"stepsCompleted", stats.StepsCompleted,
		"stepsFailed", stats.StepsFailed,
		"newNotifications", stats.NewNotifications,
		"errors", stats.Errors,
		"durationMs", stats.Duration)
	e.trail.Record(ctx, audit.EventRunCompleted, triggeredBy, audit.Subject{},
		map[string]interface{}{
			"incidents":         stats.IncidentsEvaluated,
			"steps_completed":   stats.StepsCompleted,
			"steps_failed":      stats.StepsFailed,
			"new_notifications": stats.NewNotifications,
			"errors":            stats.Errors,
			"duration_ms":       stats.Duration,
		})
	return stats, nil
}

// ProcessIncident evaluates a single incident on demand. With force set, step
// delay gating is bypassed and every step of every matching policy is
// considered; dedup still applies, so forcing never double-notifies.
func (e *Engine) ProcessIncident(ctx context.Context, incidentID int64, force bool, triggeredBy string) (RunStats, error) {
	inc, err := e.incidents.Get(ctx, incidentID)
	if err != nil {
		return RunStats{}, fmt.Errorf("loading incident %d: %w", incidentID, err)
	}

	now := time.Now()
	if !inc.Escalatable(now) {
		return RunStats{}, fmt.Errorf("incident %d (status %s): %w", inc.ID, inc.Status, ErrNotEscalatable)
	}

	stats := e.processOne(ctx, inc, force, triggeredBy, now)
	return stats, nil
}

// processOne evaluates one incident against all matching policies under the
// incident's lock. Failures are isolated per (policy, step) unit: a failing
// unit is logged and counted, the remaining units still run.
func (e *Engine) processOne(ctx context.Context, inc Incident, force bool, triggeredBy string, now time.Time) RunStats {
	mu := e.incidentLock(inc.ID)
	mu.Lock()
	defer mu.Unlock()

	stats := RunStats{IncidentsEvaluated: 1}
	metrics.IncidentsProcessed.Inc()

	policies, err := e.matcher.Match(ctx, inc)
	if err != nil {
		e.log.Errorw("Policy matching failed for incident",
			"incidentID", inc.ID,
			"error", err)
		metrics.UnitErrors.WithLabelValues("match").Inc()
		stats.Errors++
		return stats
	}
	stats.PoliciesMatched = len(policies)

	e.trail.Record(ctx, audit.EventIncidentEvaluated, triggeredBy,
		audit.Subject{IncidentID: inc.ID},
		map[string]interface{}{"matched_policies": len(policies), "force": force})

	for _, p := range policies {
		processed, err := e.dedup.ProcessedSteps(ctx, inc.ID, p.ID)
		if err != nil {
			e.log.Errorw("Failed to load processed steps",
				"incidentID", inc.ID,
				"policy", p.Name,
				"error", err)
			metrics.UnitErrors.WithLabelValues("dedup").Inc()
			stats.Errors++
			continue
		}

		steps := DueSteps(inc, p, now)
		if force {
			steps = AllSteps(p)
		}

		for _, due := range steps {
			_, alreadyProcessed := processed[due.Index]
			res, err := e.emitter.ProcessStep(ctx, inc, p, due, alreadyProcessed, triggeredBy, now)
			if err != nil {
				e.log.Errorw("Step processing failed",
					"incidentID", inc.ID,
					"policy", p.Name,
					"step", due.Index,
					"error", err)
				metrics.UnitErrors.WithLabelValues("step").Inc()
				stats.Errors++
				continue
			}
			switch res.Outcome {
			case StepSkippedClean:
				stats.StepsSkipped++
			case StepDone:
				stats.StepsCompleted++
			case StepErrored:
				stats.StepsFailed++
			}
			stats.NewNotifications += res.NewNotifications
		}
	}
	return stats
}
