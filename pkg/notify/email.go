package notify

import (
	"crypto/tls"
	"math"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	SenderAddress      string `yaml:"senderAddress"`
	SenderName         string `yaml:"senderName"`
	RetryCount         int    `yaml:"retryCount"`
	RetryBackoffMs     int    `yaml:"retryBackoffMs"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// EmailChannel sends notifications over SMTP. Inline retries here cover
// transient dial failures; longer-horizon retries are the queue's job.
type EmailChannel struct {
	dialer         *gomail.Dialer
	senderAddress  string
	senderName     string
	retryCount     int
	retryBackoffMs int
	log            *zap.SugaredLogger
}

// NewEmailChannel creates the SMTP channel.
func NewEmailChannel(cfg EmailConfig, log *zap.SugaredLogger) *EmailChannel {
	log.Infow("Initializing email channel",
		"host", cfg.Host,
		"port", cfg.Port,
		"user", cfg.User)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warnw("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}

	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@escalation.local"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Incident Escalation"
	}

	retryCount := cfg.RetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	retryBackoffMs := cfg.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}

	return &EmailChannel{
		dialer:         d,
		senderAddress:  senderAddr,
		senderName:     senderName,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
		log:            log.Named("email"),
	}
}

// Deliver sends the message to the recipient's address.
func (c *EmailChannel) Deliver(msg Message) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", c.senderAddress, c.senderName)
	m.SetAddressHeader("To", msg.RecipientEmail, msg.RecipientName)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	var lastErr error
	backoffMs := c.retryBackoffMs

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		err := c.dialer.DialAndSend(m)
		if err == nil {
			c.log.Debugw("Email delivered",
				"id", msg.ID,
				"recipient", msg.RecipientEmail,
				"attempt", attempt+1)
			return nil
		}

		lastErr = err
		if attempt < c.retryCount {
			c.log.Warnw("Email send attempt failed, retrying inline",
				"id", msg.ID,
				"attempt", attempt+1,
				"retryInMs", backoffMs,
				"error", err)
			time.Sleep(time.Duration(backoffMs) * time.Millisecond)
			backoffMs = int(math.Min(float64(backoffMs)*2, 32000))
		}
	}

	c.log.Errorw("Email delivery failed after inline retries",
		"id", msg.ID,
		"recipient", msg.RecipientEmail,
		"attempts", c.retryCount+1,
		"error", lastErr)
	return lastErr
}

// Name returns the channel identifier.
func (c *EmailChannel) Name() string { return "email" }
