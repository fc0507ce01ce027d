// Command subscriber connects to a broker as a subscriber client,
// registers a simple equality subscription on a category, and logs
// notifications with their delivery latency until interrupted.
//
// Startup sequence: load config, build a logger, construct the client,
// register a startup subscription, then log notifications until
// interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"eventbroker/internal/config"
	"eventbroker/internal/logging"
	"eventbroker/pkg/subscriber"
)

var subscribeCategory string

func main() {
	root := &cobra.Command{
		Use:   "subscriber",
		Short: "Run a subscriber client",
		RunE:  run,
	}
	root.Flags().StringVar(&subscribeCategory, "category", "electronics", "category to subscribe to on startup")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	bootstrapLog := logging.New("subscriber", "info", "json")
	bootstrapLog.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting subscriber")

	cfg, err := config.LoadSubscriberConfig(&bootstrapLog)
	if err != nil {
		return fmt.Errorf("load subscriber config: %w", err)
	}

	log := logging.New(cfg.ClientID, cfg.LogLevel, cfg.LogFormat)

	client, err := subscriber.New(subscriber.Config{
		BrokerAddr:   cfg.BrokerAddr,
		SubscriberID: cfg.ClientID,
	}, log)
	if err != nil {
		return fmt.Errorf("construct subscriber client: %w", err)
	}
	defer client.Close()

	if err := client.Listen(); err != nil {
		return fmt.Errorf("start egress listener: %w", err)
	}

	if err := client.SubscribeSimple(1, subscribeCategory); err != nil {
		return fmt.Errorf("register startup subscription: %w", err)
	}

	log.Info().Str("category", subscribeCategory).Msg("subscriber running, waiting for notifications")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case n := <-client.Notifications():
			log.Info().
				Str("subscription_id", n.SubscriptionID).
				Str("notification_id", n.NotificationID).
				Float64("avg_latency_ms", client.Stats.AverageLatencyMS()).
				Msg("notification received")
		case <-sigCh:
			log.Info().Msg("shutdown signal received")
			return nil
		}
	}
}
