/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notify

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/incident-escalation/pkg/metrics"
)

// QueueItem represents a single notification to be delivered with retry information
type QueueItem struct {
	Message   Message
	Attempt   int
	CreatedAt time.Time
	NextRetry time.Time
	Succeeded bool
}

// Queue manages asynchronous delivery over one channel with retries
type Queue struct {
	channel          Channel
	queue            chan *QueueItem
	log              *zap.SugaredLogger
	maxRetries       int
	initialBackoffMs int
	wg               sync.WaitGroup
	ctx              context.Context
	cancel           context.CancelFunc
	maxQueueSize     int
}

// NewQueue creates a new delivery queue for a channel
func NewQueue(channel Channel, log *zap.SugaredLogger, maxRetries, initialBackoffMs, maxQueueSize int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 5 // Default: 10s, 60s, 3m, 10m, 30m
	}
	if initialBackoffMs <= 0 {
		initialBackoffMs = 10000 // Default: 10 seconds
	}
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}

	log.Infow("Initializing notification queue",
		"channel", channel.Name(),
		"maxRetries", maxRetries,
		"initialBackoffMs", initialBackoffMs,
		"maxQueueSize", maxQueueSize)

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		channel:          channel,
		queue:            make(chan *QueueItem, maxQueueSize),
		log:              log.Named(channel.Name() + "-queue"),
		maxRetries:       maxRetries,
		initialBackoffMs: initialBackoffMs,
		maxQueueSize:     maxQueueSize,
		ctx:              ctx,
		cancel:           cancel,
	}

	return q
}

// Start begins the background worker for processing deliveries
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.log.Infow("Notification queue worker started", "channel", q.channel.Name())
}

// Enqueue adds a notification to the queue for delivery. An error means the
// notification was not accepted and the caller must treat the recipient as
// not notified.
func (q *Queue) Enqueue(msg Message) error {
	if msg.RecipientEmail == "" {
		metrics.NotifyDropped.WithLabelValues(q.channel.Name()).Inc()
		return fmt.Errorf("cannot enqueue notification with no recipient address")
	}

	select {
	case <-q.ctx.Done():
		q.log.Errorw("Cannot enqueue, queue is shutting down", "id", msg.ID)
		metrics.NotifyDropped.WithLabelValues(q.channel.Name()).Inc()
		return fmt.Errorf("queue is shutting down")
	default:
	}

	item := &QueueItem{
		Message:   msg,
		Attempt:   0,
		CreatedAt: time.Now(),
		NextRetry: time.Now(),
	}

	select {
	case q.queue <- item:
		metrics.NotificationsQueued.WithLabelValues(q.channel.Name()).Inc()
		q.log.Debugw("Notification queued",
			"id", msg.ID,
			"recipient", msg.RecipientEmail,
			"incidentID", msg.IncidentID)
		return nil
	case <-q.ctx.Done():
		q.log.Errorw("Cannot enqueue, queue is shutting down", "id", msg.ID)
		metrics.NotifyDropped.WithLabelValues(q.channel.Name()).Inc()
		return fmt.Errorf("queue is shutting down")
	default:
		metrics.NotifyDropped.WithLabelValues(q.channel.Name()).Inc()
		q.log.Errorw("Notification queue is full, dropping message",
			"id", msg.ID,
			"recipient", msg.RecipientEmail,
			"queueSize", q.maxQueueSize)
		return fmt.Errorf("notification queue is full (capacity: %d)", q.maxQueueSize)
	}
}

// worker processes items from the queue
func (q *Queue) worker() {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("panic in notification queue worker recovered",
				"panic", r)
			metrics.NotificationsFailed.WithLabelValues(q.channel.Name()).Inc()
			// Restart the worker to maintain processing capacity
			q.wg.Add(1)
			go q.worker()
		}
	}()

	pendingItems := make([]*QueueItem, 0)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.log.Info("Notification queue worker shutting down")
			// Process remaining items in queue
			q.processPending(pendingItems)
			return

		case item := <-q.queue:
			if item != nil {
				q.processItem(item)
				// Track pending items only if not succeeded and we have retries left
				if !item.Succeeded && item.Attempt < q.maxRetries {
					pendingItems = append(pendingItems, item)
				}
			}

		case <-ticker.C:
			// Check for items ready for retry every 50ms
			now := time.Now()
			remainingPending := make([]*QueueItem, 0)

			for _, item := range pendingItems {
				if !item.Succeeded && now.After(item.NextRetry) {
					q.processItem(item)
				}
				// Keep in pending list if not succeeded and still has retries
				if !item.Succeeded && item.Attempt < q.maxRetries {
					remainingPending = append(remainingPending, item)
				}
			}
			pendingItems = remainingPending
		}
	}
}

// processItem attempts a delivery and schedules retry if needed
func (q *Queue) processItem(item *QueueItem) {
	item.Attempt++

	q.log.Debugw("Processing queued notification",
		"id", item.Message.ID,
		"attempt", item.Attempt,
		"maxRetries", q.maxRetries)

	err := q.channel.Deliver(item.Message)
	if err == nil {
		q.log.Infow("Queued notification delivered",
			"id", item.Message.ID,
			"attempt", item.Attempt,
			"recipient", item.Message.RecipientEmail,
			"incidentID", item.Message.IncidentID)
		metrics.NotifySent.WithLabelValues(q.channel.Name()).Inc()
		item.Succeeded = true
		return
	}

	// Delivery failed, schedule retry if we have attempts left
	if item.Attempt < q.maxRetries {
		backoffMs := q.calculateBackoff(item.Attempt)
		item.NextRetry = time.Now().Add(time.Duration(backoffMs) * time.Millisecond)

		q.log.Warnw("Notification delivery failed, scheduling retry",
			"id", item.Message.ID,
			"attempt", item.Attempt,
			"error", err,
			"retryIn", fmt.Sprintf("%dms", backoffMs),
			"nextRetry", item.NextRetry.Format(time.RFC3339))
		metrics.NotifyRetryScheduled.WithLabelValues(q.channel.Name()).Inc()
	} else {
		// All retries exhausted
		q.log.Errorw("Notification delivery failed after all retries",
			"id", item.Message.ID,
			"attempts", item.Attempt,
			"error", err,
			"recipient", item.Message.RecipientEmail,
			"incidentID", item.Message.IncidentID)
		metrics.NotificationsFailed.WithLabelValues(q.channel.Name()).Inc()
	}
}

// processPending processes any remaining pending items on shutdown
func (q *Queue) processPending(items []*QueueItem) {
	q.log.Infow("Processing pending items on shutdown", "count", len(items))
	for _, item := range items {
		if item.Attempt < q.maxRetries {
			q.log.Infow("Attempting final delivery for pending item before shutdown",
				"id", item.Message.ID,
				"attempt", item.Attempt)
			q.processItem(item)
		}
	}
}

// calculateBackoff computes exponential backoff: 10s → 60s → 3m → 10m → 30m
func (q *Queue) calculateBackoff(attempt int) int {
	// Exponential backoff with base 2, starting from initialBackoffMs
	backoffMs := int(float64(q.initialBackoffMs) * math.Pow(2, float64(attempt-1)))
	// Cap at 30 minutes (1,800,000 ms) for conservative behavior
	if backoffMs > 1800000 {
		backoffMs = 1800000
	}
	return backoffMs
}

// Stop gracefully shuts down the queue and waits for all items to be processed
func (q *Queue) Stop(ctx context.Context) error {
	q.log.Info("Stopping notification queue")
	q.cancel()

	// Wait for worker to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("Notification queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.log.Warnw("Notification queue shutdown timeout, some items may not have been processed")
		return ctx.Err()
	}
}

// Length returns the current number of items in the queue
func (q *Queue) Length() int {
	return len(q.queue)
}
