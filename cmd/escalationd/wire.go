// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	// Database drivers; which one is used is a deployment decision.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/telekom/incident-escalation/pkg/api"
	"github.com/telekom/incident-escalation/pkg/audit"
	"github.com/telekom/incident-escalation/pkg/config"
	"github.com/telekom/incident-escalation/pkg/escalation"
	"github.com/telekom/incident-escalation/pkg/notify"
	"github.com/telekom/incident-escalation/pkg/store/memory"
	"github.com/telekom/incident-escalation/pkg/store/sqlstore"
)

// app bundles everything the commands need after wiring.
type app struct {
	engine      *escalation.Engine
	eventLister api.EventLister
	dispatcher  *notify.Dispatcher
	trail       *audit.Trail
	sqlStore    *sqlstore.Store
}

// buildApp wires stores, notification channels, audit sinks, and the engine
// from configuration.
func buildApp(cfg config.Config, log *zap.SugaredLogger) (*app, error) {
	a := &app{}

	var (
		incidents escalation.IncidentStore
		policies  escalation.PolicyStore
		directory escalation.DirectoryStore
		events    escalation.EventStore
	)
	if cfg.Database.Driver == "" {
		log.Warnw("No database configured, using in-memory store; state is lost on restart")
		mem := memory.New()
		incidents, policies, directory, events = mem, mem.Policies(), mem, mem
		a.eventLister = mem
	} else {
		st, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN, log)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		incidents, policies, directory, events = st, st.Policies(), st, st
		a.eventLister = st
		a.sqlStore = st
	}

	dispatcher, err := buildDispatcher(cfg, log)
	if err != nil {
		return nil, err
	}
	dispatcher.Start()
	a.dispatcher = dispatcher

	trail, err := buildTrail(cfg, log)
	if err != nil {
		return nil, err
	}
	a.trail = trail

	matcher := escalation.NewMatcher(policies, log)
	resolver := escalation.NewTargetResolver(incidents, directory, log)
	dedup := escalation.NewDedupTracker(events)
	emitter := escalation.NewEmitter(resolver, dedup, events, incidents, dispatcher, trail, log)

	engineCfg := escalation.DefaultEngineConfig()
	if cfg.Engine.Interval > 0 {
		engineCfg.Interval = cfg.Engine.Interval
	}
	if cfg.Engine.WorkerCount > 0 {
		engineCfg.WorkerCount = cfg.Engine.WorkerCount
	}
	if cfg.Engine.UnitTimeout > 0 {
		engineCfg.UnitTimeout = cfg.Engine.UnitTimeout
	}

	a.engine = escalation.NewEngine(matcher, emitter, dedup, incidents, trail, engineCfg, log)
	return a, nil
}

func buildDispatcher(cfg config.Config, log *zap.SugaredLogger) (*notify.Dispatcher, error) {
	queues := make(map[string]*notify.Queue)

	if cfg.Mail.Enabled {
		email := notify.NewEmailChannel(notify.EmailConfig{
			Host:               cfg.Mail.Host,
			Port:               cfg.Mail.Port,
			User:               cfg.Mail.User,
			Password:           cfg.Mail.Password,
			SenderAddress:      cfg.Mail.SenderAddress,
			SenderName:         cfg.Mail.SenderName,
			RetryCount:         cfg.Mail.RetryCount,
			RetryBackoffMs:     cfg.Mail.RetryBackoffMs,
			InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
		}, log)
		queues[email.Name()] = notify.NewQueue(email, log, cfg.Notify.MaxRetries, cfg.Notify.BackoffMs, cfg.Notify.QueueSize)
	}

	if cfg.Webhook.Enabled {
		webhook := notify.NewWebhookChannel(notify.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
			Timeout: cfg.Webhook.Timeout,
		}, log)
		queues[webhook.Name()] = notify.NewQueue(webhook, log, cfg.Notify.MaxRetries, cfg.Notify.BackoffMs, cfg.Notify.QueueSize)
	}

	if len(queues) == 0 {
		log.Warnw("No notification channel enabled, notifications are logged and dropped")
		devnull := notify.NewLogChannel(log)
		queues[devnull.Name()] = notify.NewQueue(devnull, log, 1, cfg.Notify.BackoffMs, cfg.Notify.QueueSize)
		return notify.NewDispatcher(queues, notify.DispatcherConfig{
			DefaultChannel: devnull.Name(),
			RatePerSecond:  cfg.Notify.RatePerSecond,
			Burst:          cfg.Notify.Burst,
		}, log)
	}

	defaultChannel := cfg.Notify.DefaultChannel
	if _, ok := queues[defaultChannel]; !ok {
		for name := range queues {
			defaultChannel = name
			break
		}
	}

	return notify.NewDispatcher(queues, notify.DispatcherConfig{
		DefaultChannel: defaultChannel,
		RatePerSecond:  cfg.Notify.RatePerSecond,
		Burst:          cfg.Notify.Burst,
	}, log)
}

func buildTrail(cfg config.Config, log *zap.SugaredLogger) (*audit.Trail, error) {
	var sinks []audit.Sink

	if cfg.Audit.LogSinkEnabled() {
		sinks = append(sinks, audit.NewLogSink(log.Desugar()))
	}

	if cfg.Audit.Webhook.Enabled {
		sink := audit.NewWebhookSink(audit.WebhookSinkConfig{
			Name:    "webhook",
			URL:     cfg.Audit.Webhook.URL,
			Headers: cfg.Audit.Webhook.Headers,
			Timeout: cfg.Audit.Webhook.Timeout,
		}, log.Desugar())
		sinks = append(sinks, audit.NewQueuedSink(sink, audit.DefaultQueuedSinkConfig(), log.Desugar()))
	}

	if cfg.Audit.Kafka.Enabled {
		kcfg := audit.KafkaSinkConfig{
			Name:             "kafka",
			Brokers:          cfg.Audit.Kafka.Brokers,
			Topic:            cfg.Audit.Kafka.Topic,
			BatchSize:        cfg.Audit.Kafka.BatchSize,
			BatchTimeout:     cfg.Audit.Kafka.BatchTimeout,
			Async:            cfg.Audit.Kafka.Async,
			CompressionCodec: cfg.Audit.Kafka.CompressionCodec,
		}
		if cfg.Audit.Kafka.TLSEnabled {
			tlsCfg := &audit.KafkaTLSConfig{
				Enabled:            true,
				InsecureSkipVerify: cfg.Audit.Kafka.TLSInsecureSkipVerify,
			}
			if f := cfg.Audit.Kafka.TLSCACertFile; f != "" {
				pem, err := os.ReadFile(f)
				if err != nil {
					return nil, fmt.Errorf("reading Kafka CA cert: %w", err)
				}
				tlsCfg.CACert = pem
			}
			if cfg.Audit.Kafka.TLSClientCertFile != "" && cfg.Audit.Kafka.TLSClientKeyFile != "" {
				cert, err := os.ReadFile(cfg.Audit.Kafka.TLSClientCertFile)
				if err != nil {
					return nil, fmt.Errorf("reading Kafka client cert: %w", err)
				}
				key, err := os.ReadFile(cfg.Audit.Kafka.TLSClientKeyFile)
				if err != nil {
					return nil, fmt.Errorf("reading Kafka client key: %w", err)
				}
				tlsCfg.ClientCert = cert
				tlsCfg.ClientKey = key
			}
			kcfg.TLS = tlsCfg
		}
		if cfg.Audit.Kafka.SASLMechanism != "" {
			kcfg.SASL = &audit.KafkaSASLConfig{
				Mechanism: cfg.Audit.Kafka.SASLMechanism,
				Username:  cfg.Audit.Kafka.SASLUsername,
				Password:  cfg.Audit.Kafka.SASLPassword,
			}
		}
		sink, err := audit.NewKafkaSink(kcfg, log.Desugar())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, audit.NewQueuedSink(sink, audit.DefaultQueuedSinkConfig(), log.Desugar()))
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	if len(sinks) == 1 {
		return audit.NewTrail(sinks[0]), nil
	}
	return audit.NewTrail(audit.NewMultiSink(sinks, log.Desugar())), nil
}

func (a *app) shutdown(log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(ctx); err != nil {
			log.Warnw("Notification dispatcher shutdown incomplete", "error", err)
		}
	}
	if a.trail != nil {
		if err := a.trail.Close(); err != nil {
			log.Warnw("Audit trail close failed", "error", err)
		}
	}
	if a.sqlStore != nil {
		_ = a.sqlStore.Close()
	}
}
