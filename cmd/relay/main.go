// Command relay runs one consumer instance: it subscribes to the published
// message channel, deduplicates identifiers it has already forwarded and
// appends each surviving message to the durable stream, attributed with this
// instance's consumer id.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nimbusworks/go-relay/pkg/broker"
	"github.com/nimbusworks/go-relay/pkg/health"
	"github.com/nimbusworks/go-relay/pkg/relay"
)

type options struct {
	consumerID    int
	groupSize     int
	host          string
	port          int
	verbose       bool
	channel       string
	streamKey     string
	groupName     string
	cacheCapacity int
	metricsPort   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relays published channel messages into a durable stream",
		Long: "Consumes messages from a pub/sub channel, where multiple consumer instances " +
			"independently process the same channel. Each instance skips messages it has " +
			"already forwarded, appends the rest to a durable stream attributed with its " +
			"consumer id, and reports throughput periodically.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := relay.NewIdentity(opts.consumerID, opts.groupSize)
			if err != nil {
				return err
			}
			// Past validation, failures are operational and usage text would
			// only obscure them.
			cmd.SilenceUsage = true
			return run(identity, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.consumerID, "consumer-id", "c", 0, "Consumer ID (integer)")
	f.IntVarP(&opts.groupSize, "group-size", "g", 0, "Consumer group size (integer)")
	f.StringVarP(&opts.host, "host", "h", "localhost", "Broker host")
	f.IntVarP(&opts.port, "port", "p", 6379, "Broker port")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	f.BoolP("help", "?", false, "Show this help message")
	f.StringVar(&opts.channel, "channel", "", "Channel to subscribe to (overrides RELAY_CHANNEL)")
	f.StringVar(&opts.streamKey, "stream-key", "", "Stream to append to (overrides RELAY_STREAM_KEY)")
	f.StringVar(&opts.groupName, "group-name", "", "Consumer group to ensure (overrides RELAY_GROUP_NAME)")
	f.IntVar(&opts.cacheCapacity, "cache-capacity", 0, "Dedup cache capacity (overrides RELAY_CACHE_CAPACITY)")
	f.StringVar(&opts.metricsPort, "metrics-port", "", "Port for the health/metrics endpoint, e.g. :8081 (disabled when empty)")
	_ = cmd.MarkFlagRequired("consumer-id")
	_ = cmd.MarkFlagRequired("group-size")

	return cmd
}

// run wires the instance together and drives it until a termination signal
// or a terminal runtime condition. It returns an error only for startup
// failures, which the process reports with exit status 1.
func run(identity relay.Identity, opts *options) error {
	logLevel := zerolog.InfoLevel
	if opts.verbose {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).Level(logLevel).With().Timestamp().Logger()

	cfg := relay.LoadConfigWithEnv()
	if opts.channel != "" {
		cfg.Channel = opts.channel
	}
	if opts.streamKey != "" {
		cfg.StreamKey = opts.streamKey
	}
	if opts.groupName != "" {
		cfg.GroupName = opts.groupName
	}
	if opts.cacheCapacity > 0 {
		cfg.CacheCapacity = opts.cacheCapacity
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := broker.Connect(ctx, &broker.Config{Host: opts.host, Port: opts.port}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Startup failed.")
		return err
	}
	defer func() { _ = conn.Close() }()

	publisher, err := broker.NewPublisher(conn.Client(), cfg.StreamKey, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	svc, err := relay.NewService(identity, cfg, conn, publisher, registry, logger)
	if err != nil {
		return err
	}

	if opts.metricsPort != "" {
		hs := health.NewServer(logger, opts.metricsPort, registry, func() string {
			return svc.State().String()
		})
		if err := hs.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Startup failed.")
		return err
	}
	return nil
}
