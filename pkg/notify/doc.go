// Package notify is the delivery layer for escalation notifications. Channels
// (email, webhook) do the actual sending; each channel sits behind its own
// asynchronous retry queue, and the Dispatcher fans one notification request
// out to the channels the step action asked for. Acceptance by a queue is the
// delivery layer's contract with the engine; delivery itself is
// fire-and-forget from the engine's point of view.
package notify
