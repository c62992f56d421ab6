package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	TLSCertFile   string `yaml:"tlsCertFile"`
	TLSKeyFile    string `yaml:"tlsKeyFile"`
	// IPs/CIDRs to trust for X-Forwarded-For headers
	TrustedProxies []string `yaml:"trustedProxies"`
}

type Database struct {
	// Driver is "sqlite" or "postgres". Empty selects the in-memory store.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Engine struct {
	// Interval between periodic escalation runs (e.g. "60s").
	Interval time.Duration `yaml:"interval"`
	// WorkerCount bounds concurrent incident processing per run.
	WorkerCount int `yaml:"workerCount"`
	// UnitTimeout caps a single incident's evaluation (e.g. "30s").
	UnitTimeout time.Duration `yaml:"unitTimeout"`
}

type Mail struct {
	Enabled            bool   `yaml:"enabled"`
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

type Webhook struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type Notify struct {
	DefaultChannel string  `yaml:"defaultChannel"`
	RatePerSecond  float64 `yaml:"ratePerSecond"`
	Burst          int     `yaml:"burst"`
	MaxRetries     int     `yaml:"maxRetries"`
	BackoffMs      int     `yaml:"backoffMs"`
	QueueSize      int     `yaml:"queueSize"`
}

type AuditKafka struct {
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers"`
	Topic            string        `yaml:"topic"`
	BatchSize        int           `yaml:"batchSize"`
	BatchTimeout     time.Duration `yaml:"batchTimeout"`
	Async            bool          `yaml:"async"`
	CompressionCodec string        `yaml:"compressionCodec"`

	TLSEnabled            bool   `yaml:"tlsEnabled"`
	TLSCACertFile         string `yaml:"tlsCACertFile"`
	TLSClientCertFile     string `yaml:"tlsClientCertFile"`
	TLSClientKeyFile      string `yaml:"tlsClientKeyFile"`
	TLSInsecureSkipVerify bool   `yaml:"tlsInsecureSkipVerify"`

	SASLMechanism string `yaml:"saslMechanism"`
	SASLUsername  string `yaml:"saslUsername"`
	SASLPassword  string `yaml:"saslPassword"`
}

type AuditWebhook struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type Audit struct {
	// Log enables the structured-log audit sink. On by default.
	Log     *bool        `yaml:"log"`
	Kafka   AuditKafka   `yaml:"kafka"`
	Webhook AuditWebhook `yaml:"webhook"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Engine   Engine   `yaml:"engine"`
	Mail     Mail     `yaml:"mail"`
	Webhook  Webhook  `yaml:"webhook"`
	Notify   Notify   `yaml:"notify"`
	Audit    Audit    `yaml:"audit"`
}

// LogSinkEnabled reports whether the log audit sink should run.
func (a Audit) LogSinkEnabled() bool {
	return a.Log == nil || *a.Log
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Server: Server{ListenAddress: ":8080"},
		Engine: Engine{
			Interval:    time.Minute,
			WorkerCount: 4,
			UnitTimeout: 30 * time.Second,
		},
		Notify: Notify{DefaultChannel: "email"},
	}
}

// Load loads the escalation configuration from a file path.
// If configPath is empty, the ESCALATION_CONFIG_PATH environment variable is
// consulted; if that is empty too, defaults are returned without reading a file.
func Load(configPath ...string) (Config, error) {
	var path string
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else {
		path = os.Getenv("ESCALATION_CONFIG_PATH")
	}

	config := Defaults()
	if path == "" {
		return config, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open escalation config file %s: %v", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %v", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate checks cross-field constraints that yaml decoding cannot.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required with driver %q", c.Database.Driver)
	}
	if c.Mail.Enabled && c.Mail.Host == "" {
		return fmt.Errorf("mail.host is required when mail is enabled")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is enabled")
	}
	if c.Audit.Kafka.Enabled && len(c.Audit.Kafka.Brokers) == 0 {
		return fmt.Errorf("audit.kafka.brokers is required when the Kafka sink is enabled")
	}
	if c.Audit.Webhook.Enabled && c.Audit.Webhook.URL == "" {
		return fmt.Errorf("audit.webhook.url is required when the webhook sink is enabled")
	}
	return nil
}
