// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Trail is the recording facade the engine writes audit events through.
// A nil *Trail is valid and records nothing, so callers never have to
// guard their Record calls.
type Trail struct {
	sink Sink
}

// NewTrail creates a Trail writing to the given sink.
func NewTrail(sink Sink) *Trail {
	if sink == nil {
		return nil
	}
	return &Trail{sink: sink}
}

// Record builds an event with a fresh ID and timestamp and writes it to the
// sink. Severity is derived from the event type. Write errors are swallowed;
// the sink layer already logs and counts them.
func (t *Trail) Record(ctx context.Context, eventType EventType, triggeredBy string, subject Subject, details map[string]interface{}) {
	if t == nil || t.sink == nil {
		return
	}
	event := &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Severity:    SeverityForEventType(eventType),
		Timestamp:   time.Now().UTC(),
		TriggeredBy: triggeredBy,
		Subject:     subject,
		Details:     details,
	}
	_ = t.sink.Write(ctx, event)
}

// Close closes the underlying sink.
func (t *Trail) Close() error {
	if t == nil || t.sink == nil {
		return nil
	}
	return t.sink.Close()
}
