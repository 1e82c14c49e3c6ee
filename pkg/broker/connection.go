// Package broker owns the Redis-facing side of the consumer: the command
// client used for group initialization and stream appends, and the raw
// subscription connection whose byte stream feeds the frame reader.
package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nimbusworks/go-relay/pkg/resp"
)

// Config holds the connection parameters for the broker.
type Config struct {
	Host           string
	Port           int
	Password       string
	DB             int
	ConnectTimeout time.Duration
}

// Addr returns the host:port form of the configured endpoint.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connection is the exclusive owner of both broker connections: a go-redis
// client for commands (XGROUP, XADD) and, after Subscribe, a dedicated raw
// TCP connection in subscribe mode. The split is required because the broker
// rejects data commands on a subscribed connection.
type Connection struct {
	client *redis.Client
	cfg    *Config
	sub    net.Conn
	logger zerolog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
}

// Connect establishes the command client and pings the broker to verify
// connectivity before returning. A failure here is fatal at startup.
func Connect(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Connection, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to broker at %s: %w", cfg.Addr(), err)
	}
	logger.Info().Str("broker_address", cfg.Addr()).Msg("Successfully connected to broker.")

	return &Connection{
		client: rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "Connection").Logger(),
	}, nil
}

// Client exposes the command client for components that issue commands on
// this connection, such as the stream publisher.
func (c *Connection) Client() *redis.Client {
	return c.client
}

// EnsureGroup idempotently creates the durable stream and consumer group at
// offset zero. An already-existing group is success; any other error is
// fatal at startup.
func (c *Connection) EnsureGroup(ctx context.Context, streamKey, groupName string) error {
	err := c.client.XGroupCreateMkStream(ctx, streamKey, groupName, "0").Err()
	if err != nil {
		if !isBusyGroup(err) {
			return fmt.Errorf("failed to create consumer group %s on stream %s: %w", groupName, streamKey, err)
		}
		c.logger.Debug().Str("group", groupName).Str("stream", streamKey).Msg("Consumer group already exists.")
		return nil
	}
	c.logger.Info().Str("group", groupName).Str("stream", streamKey).Msg("Created consumer group.")
	return nil
}

// isBusyGroup matches the broker's reply for a group that already exists.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Subscribe dials a dedicated connection, issues the channel subscription
// and validates the first reply: it must be an array of at least three
// elements acknowledging the channel by name. Surplus bytes read along with
// the acknowledgment stay buffered in frames for the run loop.
func (c *Connection) Subscribe(ctx context.Context, channel string, frames *resp.Reader) error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to dial broker for subscription: %w", err)
	}

	if _, err := conn.Write(resp.AppendCommand(nil, "SUBSCRIBE", channel)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send subscribe command: %w", err)
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed reading subscribe acknowledgment: %w", err)
		}
		frames.Feed(buf[:n])

		ack, err := frames.Next()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("invalid subscribe acknowledgment: %w", err)
		}
		if ack == nil {
			continue
		}

		if ack.Type != resp.Array || len(ack.Elems) < 3 ||
			!strings.EqualFold(ack.Elems[0].Str, "subscribe") || ack.Elems[1].Str != channel {
			_ = conn.Close()
			return fmt.Errorf("unexpected subscribe acknowledgment for channel %s", channel)
		}

		c.mu.Lock()
		c.sub = conn
		c.mu.Unlock()
		c.logger.Info().Str("channel", channel).Msg("Successfully subscribed to channel.")
		return nil
	}
}

// Read blocks for the next chunk of bytes from the subscription connection.
// It returns io.EOF when the broker closes the connection.
func (c *Connection) Read(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.sub
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("not subscribed")
	}
	return conn.Read(p)
}

// Close releases both connections. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info().Msg("Closing broker connections...")
		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()
		if sub != nil {
			err = sub.Close()
		}
		if c.client != nil {
			if cerr := c.client.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
