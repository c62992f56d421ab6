package notify

import "go.uber.org/zap"

// LogChannel writes notifications to the structured log instead of delivering
// them. Used when no real channel is configured, and in tests.
type LogChannel struct {
	log *zap.SugaredLogger
}

// NewLogChannel creates the log-only channel.
func NewLogChannel(log *zap.SugaredLogger) *LogChannel {
	return &LogChannel{log: log.Named("log-channel")}
}

// Deliver logs the message and reports success.
func (c *LogChannel) Deliver(msg Message) error {
	c.log.Infow("Notification (log channel)",
		"id", msg.ID,
		"recipient", msg.RecipientEmail,
		"subject", msg.Subject,
		"incidentID", msg.IncidentID,
		"policyID", msg.PolicyID,
		"step", msg.StepIndex)
	return nil
}

// Name returns the channel identifier.
func (c *LogChannel) Name() string { return "log" }
