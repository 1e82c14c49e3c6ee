// Command relay-loadgen publishes synthetic messages to the channel the
// relay consumers subscribe to. Each payload carries a fresh UUIDv4
// message_id plus a sequence number, which makes duplicate-handling easy to
// exercise with --repeat.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nimbusworks/go-relay/pkg/relay"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		host     string
		port     int
		channel  string
		count    int
		repeat   int
		interval time.Duration
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "relay-loadgen",
		Short: "Publishes test messages to the relay channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			logLevel := zerolog.InfoLevel
			if verbose {
				logLevel = zerolog.DebugLevel
			}
			logger := zerolog.New(os.Stderr).Level(logLevel).With().Timestamp().Logger()

			if channel == "" {
				channel = relay.LoadConfigWithEnv().Channel
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", host, port)})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to broker: %w", err)
			}
			defer func() { _ = rdb.Close() }()

			published := 0
			for i := 0; i < count; i++ {
				payload := fmt.Sprintf(`{"message_id":%q,"seq":%d}`, uuid.NewString(), i)
				for r := 0; r < repeat; r++ {
					if err := rdb.Publish(ctx, channel, payload).Err(); err != nil {
						return fmt.Errorf("failed to publish message %d: %w", i, err)
					}
					published++
					logger.Debug().Int("seq", i).Int("attempt", r+1).Msg("Published message.")
				}
				if interval > 0 {
					time.Sleep(interval)
				}
			}

			logger.Info().Int("published", published).Str("channel", channel).Msg("Load generation complete.")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&host, "host", "localhost", "Broker host")
	f.IntVarP(&port, "port", "p", 6379, "Broker port")
	f.StringVar(&channel, "channel", "", "Channel to publish to (defaults to the consumer's channel)")
	f.IntVarP(&count, "count", "n", 100, "Number of distinct messages to publish")
	f.IntVar(&repeat, "repeat", 1, "Times to publish each message (exercises deduplication)")
	f.DurationVar(&interval, "interval", 10*time.Millisecond, "Pause between distinct messages")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}
