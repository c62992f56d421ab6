// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/telekom/incident-escalation/pkg/escalation"
	"github.com/telekom/incident-escalation/pkg/metrics"
)

// DispatcherConfig tunes the fan-out layer.
type DispatcherConfig struct {
	// DefaultChannel is used when a step action names no channels.
	DefaultChannel string
	// RatePerSecond caps outbound notifications across all channels.
	// Zero disables rate limiting.
	RatePerSecond float64
	// Burst is the rate limiter burst size.
	Burst int
}

// Dispatcher routes notification requests from the engine to per-channel
// delivery queues. It implements the engine's Notifier contract: returning nil
// means at least one queue accepted the message, returning an error means the
// recipient must be treated as not notified.
type Dispatcher struct {
	queues         map[string]*Queue
	defaultChannel string
	limiter        *rate.Limiter
	log            *zap.SugaredLogger
}

var _ escalation.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given per-channel queues.
func NewDispatcher(queues map[string]*Queue, cfg DispatcherConfig, log *zap.SugaredLogger) (*Dispatcher, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("at least one delivery channel is required")
	}

	defaultChannel := cfg.DefaultChannel
	if defaultChannel == "" {
		defaultChannel = "email"
	}
	if _, ok := queues[defaultChannel]; !ok {
		return nil, fmt.Errorf("default channel %q is not configured", defaultChannel)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSecond) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Dispatcher{
		queues:         queues,
		defaultChannel: defaultChannel,
		limiter:        limiter,
		log:            log.Named("dispatcher"),
	}, nil
}

// Start starts all channel queue workers.
func (d *Dispatcher) Start() {
	for _, q := range d.queues {
		q.Start()
	}
}

// Stop shuts down all channel queues.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var lastErr error
	for _, q := range d.queues {
		if err := q.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Notify fans the request out to the requested channels. Unknown channel names
// are logged and skipped; the request fails only if no channel accepts it.
func (d *Dispatcher) Notify(ctx context.Context, req escalation.NotificationRequest) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{d.defaultChannel}
	}

	msg := Message{
		ID:             uuid.NewString(),
		RecipientName:  req.Recipient.Name,
		RecipientEmail: req.Recipient.Email,
		Subject:        req.Subject,
		Body:           req.Body,
		IncidentID:     req.IncidentID,
		PolicyID:       req.PolicyID,
		StepIndex:      req.StepIndex,
	}

	accepted := 0
	var lastErr error
	for _, name := range channels {
		q, ok := d.queues[name]
		if !ok {
			d.log.Warnw("Unknown notification channel requested, skipping",
				"channel", name,
				"incidentID", req.IncidentID)
			metrics.NotificationsFailed.WithLabelValues(name).Inc()
			continue
		}
		if err := q.Enqueue(msg); err != nil {
			lastErr = err
			continue
		}
		accepted++
	}

	if accepted == 0 {
		if lastErr != nil {
			return fmt.Errorf("no channel accepted notification: %w", lastErr)
		}
		return fmt.Errorf("no configured channel matched %v", channels)
	}
	return nil
}
