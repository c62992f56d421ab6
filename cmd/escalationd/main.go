// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/incident-escalation/pkg/api"
	"github.com/telekom/incident-escalation/pkg/config"
	"github.com/telekom/incident-escalation/pkg/escalation"
	"github.com/telekom/incident-escalation/pkg/system"
	"github.com/telekom/incident-escalation/pkg/version"
)

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:          "escalationd",
		Short:        "Incident escalation engine",
		Long:         "escalationd evaluates active incidents against escalation policies and drives notifications, assignments, and status changes.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file (default: $ESCALATION_CONFIG_PATH)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(serveCmd(), runOnceCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the escalation engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := system.SetupLogger(flagDebug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			log.With("version", version.Version).Infow("Starting escalation daemon")

			app, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.shutdown(log)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go app.engine.Start(ctx)

			server := api.NewServer(log.Desugar(), cfg, flagDebug)
			defer server.Close()
			err = server.RegisterAll([]api.APIController{
				api.NewEscalationController(app.engine, app.eventLister, log),
			})
			if err != nil {
				return fmt.Errorf("registering controllers: %w", err)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Listen() }()

			select {
			case <-ctx.Done():
				log.Infow("Shutdown signal received")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Perform a single escalation run and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := system.SetupLogger(flagDebug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			app, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.shutdown(log)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			stats, err := app.engine.RunOnce(ctx, escalation.SystemActor)
			if err != nil {
				return fmt.Errorf("escalation run: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.GetBuildInfo()
			out, _ := json.MarshalIndent(info, "", "  ")
			fmt.Println(string(out))
		},
	}
}
