// Package relay implements the message-ingestion pipeline of one consumer
// instance: frame reassembly off a subscribed broker connection, payload
// decoding, per-process deduplication, attributed stream publication and
// throughput metering, driven by a single-threaded lifecycle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nimbusworks/go-relay/pkg/dedup"
	"github.com/nimbusworks/go-relay/pkg/meter"
	"github.com/nimbusworks/go-relay/pkg/resp"
)

// Service owns one consumer instance end to end. It is single-threaded and
// fully synchronous: one logical thread performs a blocking read, then
// drains and processes every frame extractable from the buffered bytes
// before reading again, so messages are forwarded in exact wire order.
type Service struct {
	identity Identity
	cfg      *Config
	broker   Broker
	appender StreamAppender
	registry prometheus.Registerer
	logger   zerolog.Logger

	frames  *resp.Reader
	seen    *dedup.Cache
	monitor *meter.Monitor

	state     atomic.Int32
	closeOnce sync.Once
}

// NewService validates the wiring and returns a Service in the init state.
// No broker resource is touched until Run.
func NewService(
	identity Identity,
	cfg *Config,
	broker Broker,
	appender StreamAppender,
	registry prometheus.Registerer,
	logger zerolog.Logger,
) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if appender == nil {
		return nil, fmt.Errorf("appender cannot be nil")
	}
	defaults := LoadConfigWithEnv()
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaults.ReadBufferSize
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = defaults.CacheCapacity
	}
	if cfg.ReportPeriod <= 0 {
		cfg.ReportPeriod = defaults.ReportPeriod
	}

	s := &Service{
		identity: identity,
		cfg:      cfg,
		broker:   broker,
		appender: appender,
		registry: registry,
		frames:   resp.NewReader(),
		logger: logger.With().
			Str("component", "ConsumerService").
			Int("consumer_id", identity.ID).
			Logger(),
	}
	s.state.Store(int32(StateInit))
	return s, nil
}

// State returns the current lifecycle phase. Safe to call from other
// goroutines, e.g. the status endpoint.
func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) transition(st State) {
	s.state.Store(int32(st))
	s.logger.Debug().Str("state", st.String()).Msg("Lifecycle transition.")
}

// Run drives the consumer from group initialization through the run loop to
// shutdown. It returns an error only for startup failures (group init or
// subscription); runtime terminations — peer close, read errors, protocol
// errors, cancellation — are logged and produce a nil return after an
// orderly shutdown, so the process can exit 0.
func (s *Service) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	s.transition(StateConnecting)
	if err := s.broker.EnsureGroup(ctx, s.cfg.StreamKey, s.cfg.GroupName); err != nil {
		return fmt.Errorf("failed to initialize consumer group %s: %w", s.cfg.GroupName, err)
	}

	s.transition(StateSubscribing)
	if err := s.broker.Subscribe(ctx, s.cfg.Channel, s.frames); err != nil {
		return fmt.Errorf("failed to subscribe to channel %s: %w", s.cfg.Channel, err)
	}

	seen, err := dedup.New(s.cfg.CacheCapacity, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create dedup cache: %w", err)
	}
	s.seen = seen
	s.monitor = meter.NewMonitor(s.cfg.ReportPeriod, time.Now(), s.registry, s.logger)

	s.transition(StateRunning)
	s.logger.Info().
		Str("channel", s.cfg.Channel).
		Str("stream", s.cfg.StreamKey).
		Int("group_size", s.identity.GroupSize).
		Msg("Consumer running.")

	s.runLoop(ctx)
	return nil
}

// Close releases the broker connection and the dedup cache exactly once.
// A second termination trigger while Run is still unwinding is a no-op.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.transition(StateShuttingDown)
		s.logger.Info().Msg("Shutting down consumer...")
		if err := s.broker.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing broker connection.")
		}
		if s.seen != nil {
			_ = s.seen.Close()
		}
		s.transition(StateTerminated)
		s.logger.Info().Msg("Consumer terminated.")
	})
	return nil
}

// runLoop blocks on the subscription connection and processes everything a
// read produced before reading again. The cancellation flag is observed at
// the top of the loop and immediately after a completed read; it does not
// interrupt an in-flight blocking read.
func (s *Service) runLoop(ctx context.Context) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Termination signal observed, leaving run loop.")
			return
		}

		n, err := s.broker.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Warn().Msg("Connection closed by broker.")
			} else {
				s.logger.Error().Err(err).Msg("Error reading from broker connection.")
			}
			return
		}
		if ctx.Err() != nil {
			s.logger.Info().Msg("Termination signal observed after read, leaving run loop.")
			return
		}

		s.frames.Feed(buf[:n])
		for {
			frame, ferr := s.frames.Next()
			if ferr != nil {
				s.logger.Error().Err(ferr).Msg("Unrecoverable protocol error, terminating run loop.")
				return
			}
			if frame == nil {
				break
			}
			s.handleFrame(ctx, frame)
		}

		if s.cfg.IdleBackoff > 0 {
			time.Sleep(s.cfg.IdleBackoff)
		}
	}
}

// handleFrame processes one extracted reply. Published messages arrive as
// array replies with at least three elements, the third being the payload
// text; anything else is ignored.
func (s *Service) handleFrame(ctx context.Context, frame *resp.Reply) {
	if frame.Type != resp.Array || len(frame.Elems) < 3 {
		s.logger.Debug().Msg("Ignoring non-message reply.")
		return
	}
	payload := frame.Elems[2].Str

	msg, err := DecodeMessage([]byte(payload))
	if err != nil {
		s.monitor.DecodeFailed()
		s.logger.Error().Err(err).Msg("Dropping undecodable message.")
		return
	}

	if s.seen.Contains(msg.ID) {
		s.monitor.Skipped()
		s.logger.Info().Str("message_id", msg.ID).Msg("Skipping already processed message.")
		return
	}

	if err := s.appender.Append(ctx, msg.Record(s.identity.ID)); err != nil {
		// The identifier is deliberately not marked processed: if it is
		// observed again on the channel the append is attempted again.
		s.monitor.AppendFailed()
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to append message to stream.")
		return
	}

	s.seen.Add(msg.ID)
	s.monitor.Forwarded()
	s.monitor.MaybeReport(time.Now())
	s.logger.Debug().Str("message_id", msg.ID).Msg("Message forwarded.")
}
