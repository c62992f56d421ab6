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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockChannel simulates delivery with configurable failures
type mockChannel struct {
	mu           sync.Mutex
	attempts     int
	failAttempts int // fail the first N attempts
	delivered    []Message
}

func (m *mockChannel) Deliver(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts <= m.failAttempts {
		return fmt.Errorf("simulated delivery failure (attempt %d)", m.attempts)
	}
	m.delivered = append(m.delivered, msg)
	return nil
}

func (m *mockChannel) Name() string { return "mock" }

func (m *mockChannel) deliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func testMessage(id string) Message {
	return Message{
		ID:             id,
		RecipientName:  "Ada",
		RecipientEmail: "ada@example.com",
		Subject:        "[critical] Escalation step 0: checkout down",
		Body:           "Incident 1 requires attention",
		IncidentID:     1,
	}
}

func TestQueueDeliversImmediately(t *testing.T) {
	log := zap.NewNop().Sugar()
	ch := &mockChannel{}
	q := NewQueue(ch, log, 3, 10, 10)
	q.Start()
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Enqueue(testMessage("m1")))

	assert.Eventually(t, func() bool {
		return ch.deliveredCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	log := zap.NewNop().Sugar()
	ch := &mockChannel{failAttempts: 2}
	q := NewQueue(ch, log, 5, 10, 10)
	q.Start()
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Enqueue(testMessage("m1")))

	assert.Eventually(t, func() bool {
		return ch.deliveredCount() == 1
	}, 5*time.Second, 20*time.Millisecond, "delivered on the third attempt")
}

func TestQueueRejectsEmptyRecipient(t *testing.T) {
	log := zap.NewNop().Sugar()
	q := NewQueue(&mockChannel{}, log, 3, 10, 10)

	msg := testMessage("m1")
	msg.RecipientEmail = ""
	assert.Error(t, q.Enqueue(msg))
}

func TestQueueRejectsWhenFull(t *testing.T) {
	log := zap.NewNop().Sugar()
	// worker not started, capacity 1
	q := NewQueue(&mockChannel{}, log, 3, 10, 1)

	require.NoError(t, q.Enqueue(testMessage("m1")))
	assert.Error(t, q.Enqueue(testMessage("m2")))
	assert.Equal(t, 1, q.Length())
}

func TestQueueRejectsAfterStop(t *testing.T) {
	log := zap.NewNop().Sugar()
	q := NewQueue(&mockChannel{}, log, 3, 10, 10)
	q.Start()
	require.NoError(t, q.Stop(context.Background()))

	assert.Error(t, q.Enqueue(testMessage("m1")))
}

func TestQueueBackoffProgression(t *testing.T) {
	log := zap.NewNop().Sugar()
	q := NewQueue(&mockChannel{}, log, 5, 10000, 10)

	assert.Equal(t, 10000, q.calculateBackoff(1))
	assert.Equal(t, 20000, q.calculateBackoff(2))
	assert.Equal(t, 40000, q.calculateBackoff(3))
	assert.Equal(t, 1800000, q.calculateBackoff(20), "capped at 30 minutes")
}
