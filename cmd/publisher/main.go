// Command publisher drives a load-generating publisher client against a
// broker's ingress port, emitting a random mix of purchase, product-view,
// inventory-update, and user-rating events at a configured rate.
//
// Startup sequence: load config, build a logger, construct the client,
// run until a signal cancels the context.
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

	"eventbroker/internal/config"
	"eventbroker/internal/logging"
	"eventbroker/pkg/publisher"
)

func main() {
	root := &cobra.Command{
		Use:   "publisher",
		Short: "Run a load-generating event publisher",
		RunE:  run,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	bootstrapLog := logging.New("publisher", "info", "json")
	bootstrapLog.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting publisher")

	cfg, err := config.LoadPublisherConfig(&bootstrapLog)
	if err != nil {
		return fmt.Errorf("load publisher config: %w", err)
	}

	log := logging.New(cfg.ClientID, cfg.LogLevel, cfg.LogFormat)

	client, err := publisher.New(publisher.Config{
		BrokerAddr:   cfg.BrokerAddr,
		EventsPerSec: cfg.EventsPerSec,
	}, publisher.NewRandomGenerator(), log)
	if err != nil {
		return fmt.Errorf("construct publisher client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("broker_addr", cfg.BrokerAddr).Float64("events_per_sec", cfg.EventsPerSec).Msg("publisher running")

	if err := client.Run(ctx); err != nil {
		log.Error().Err(err).Msg("publisher exited with error")
	}

	log.Info().
		Int64("events_sent", client.EventsSent.Load()).
		Int64("send_errors", client.SendErrors.Load()).
		Msg("publisher stopped")
	return nil
}
