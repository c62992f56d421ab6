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

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func queuedTestConfig() QueuedSinkConfig {
	cfg := DefaultQueuedSinkConfig()
	cfg.QueueSize = 16
	cfg.WorkerCount = 1
	cfg.WriteTimeout = time.Second
	cfg.CircuitBreakerThreshold = 3
	cfg.CircuitBreakerResetTime = time.Hour
	return cfg
}

func TestQueuedSinkDeliversAsync(t *testing.T) {
	inner := &captureSink{}
	qs := NewQueuedSink(inner, queuedTestConfig(), zap.NewNop())
	defer func() { _ = qs.Close() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, qs.Write(context.Background(), &Event{
			ID:   fmt.Sprintf("e%d", i),
			Type: EventStepCompleted,
		}))
	}

	assert.Eventually(t, func() bool {
		return inner.count() == 3
	}, 2*time.Second, 10*time.Millisecond)

	health := qs.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, int64(3), health.ProcessedEvents)
	assert.Equal(t, int64(0), health.DroppedEvents)
}

func TestQueuedSinkOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	inner := &captureSink{writeErr: fmt.Errorf("endpoint down")}
	qs := NewQueuedSink(inner, queuedTestConfig(), zap.NewNop())
	defer func() { _ = qs.Close() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, qs.Write(context.Background(), &Event{
			ID:   fmt.Sprintf("e%d", i),
			Type: EventStepFailed,
		}))
	}

	assert.Eventually(t, func() bool {
		return qs.Health().CircuitOpen
	}, 2*time.Second, 10*time.Millisecond)

	// with the circuit open new events are dropped, not queued
	require.NoError(t, qs.Write(context.Background(), &Event{ID: "dropped", Type: EventStepFailed}))
	health := qs.Health()
	assert.False(t, health.Healthy)
	assert.GreaterOrEqual(t, health.DroppedEvents, int64(1))
	assert.Equal(t, "endpoint down", health.LastError)
}

func TestQueuedSinkDropsWhenFull(t *testing.T) {
	// worker count 1 on a blocked inner sink would complicate the test;
	// instead fill the queue faster than the slow sink drains it
	blocked := make(chan struct{})
	inner := &blockingSink{release: blocked}
	cfg := queuedTestConfig()
	cfg.QueueSize = 1
	qs := NewQueuedSink(inner, cfg, zap.NewNop())
	defer func() {
		close(blocked)
		_ = qs.Close()
	}()

	// first write is picked up by the worker and blocks, second fills the
	// queue, everything after that is dropped
	for i := 0; i < 10; i++ {
		require.NoError(t, qs.Write(context.Background(), &Event{
			ID:   fmt.Sprintf("e%d", i),
			Type: EventStepCompleted,
		}))
	}

	assert.Eventually(t, func() bool {
		return qs.Health().DroppedEvents > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueuedSinkRejectsAfterClose(t *testing.T) {
	inner := &captureSink{}
	qs := NewQueuedSink(inner, queuedTestConfig(), zap.NewNop())
	require.NoError(t, qs.Close())

	assert.Error(t, qs.Write(context.Background(), &Event{ID: "e1", Type: EventRunStarted}))
	assert.True(t, inner.closed, "close propagates to the inner sink")
	assert.NoError(t, qs.Close(), "double close is a no-op")
}

// blockingSink blocks every Write until released.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Write(_ context.Context, _ *Event) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close() error { return nil }

func (s *blockingSink) Name() string { return "blocking" }
