package relay

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the run-loop and broker-naming configuration of one consumer
// instance.
type Config struct {
	// Channel is the pub/sub channel the consumer subscribes to.
	Channel string
	// StreamKey is the durable stream forwarded records are appended to.
	StreamKey string
	// GroupName is the consumer group ensured on the stream at startup.
	GroupName string
	// CacheCapacity bounds the dedup cache; once full, new identifiers are
	// no longer tracked.
	CacheCapacity int
	// ReadBufferSize is the size of the buffer handed to each blocking read.
	ReadBufferSize int
	// IdleBackoff is slept between read attempts to avoid a hot loop on a
	// chatty-but-empty connection. Zero disables it.
	IdleBackoff time.Duration
	// ReportPeriod is the throughput accounting window.
	ReportPeriod time.Duration
}

// Env variable names for overriding broker object names.
const (
	EnvChannel       = "RELAY_CHANNEL"
	EnvStreamKey     = "RELAY_STREAM_KEY"
	EnvGroupName     = "RELAY_GROUP_NAME"
	EnvCacheCapacity = "RELAY_CACHE_CAPACITY"
)

// LoadConfigWithEnv returns a Config populated with defaults, overridden by
// environment variables where set. Flag values take precedence over both and
// are applied by the caller.
func LoadConfigWithEnv() *Config {
	cfg := &Config{
		Channel:        "messages:published",
		StreamKey:      "messages:processed",
		GroupName:      "consumers",
		CacheCapacity:  10000,
		ReadBufferSize: 4096,
		IdleBackoff:    time.Millisecond,
		ReportPeriod:   3 * time.Second,
	}
	if ch := os.Getenv(EnvChannel); ch != "" {
		cfg.Channel = ch
	}
	if sk := os.Getenv(EnvStreamKey); sk != "" {
		cfg.StreamKey = sk
	}
	if gn := os.Getenv(EnvGroupName); gn != "" {
		cfg.GroupName = gn
	}
	if cc := os.Getenv(EnvCacheCapacity); cc != "" {
		n, err := strconv.Atoi(cc)
		if err == nil && n > 0 {
			cfg.CacheCapacity = n
		} else {
			log.Printf("relay: invalid %s value %q, using default", EnvCacheCapacity, cc)
		}
	}
	return cfg
}
