// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notify

// Message is one rendered notification addressed to one recipient.
type Message struct {
	ID             string
	RecipientName  string
	RecipientEmail string
	Subject        string
	Body           string
	IncidentID     int64
	PolicyID       int64
	StepIndex      int
}

// Channel delivers a message over one transport. Implementations are expected
// to be safe for concurrent use; retry policy is the queue's concern, though a
// channel may do short inline retries of its own.
type Channel interface {
	Deliver(msg Message) error
	Name() string
}
