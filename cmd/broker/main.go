// Command broker runs a single event broker node: publisher ingress,
// subscriber egress, management, and peer overlay endpoints, plus a
// /health, /stats, /metrics HTTP surface.
//
// Startup sequence: load config, build a logger, construct the broker,
// run until a signal cancels the context, then shut down gracefully.
// automaxprocs is imported for its init-time GOMAXPROCS side effect.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"eventbroker/internal/broker"
	"eventbroker/internal/config"
	"eventbroker/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:   "broker",
		Short: "Run an event broker node",
		RunE:  run,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	bootstrapLog := logging.New("broker", "info", "json")
	bootstrapLog.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting broker")

	cfg, err := config.LoadBrokerConfig(&bootstrapLog)
	if err != nil {
		return fmt.Errorf("load broker config: %w", err)
	}

	log := logging.New(cfg.BrokerID, cfg.LogLevel, cfg.LogFormat)

	srv, err := broker.NewServer(cfg, log)
	if err != nil {
		return fmt.Errorf("construct broker server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("broker server exited with error")
		}
	}

	srv.Shutdown()
	return nil
}
