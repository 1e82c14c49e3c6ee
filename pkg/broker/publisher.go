package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nimbusworks/go-relay/pkg/relay"
)

// Publisher appends attributed records to the durable stream with
// broker-assigned positions.
type Publisher struct {
	client *redis.Client
	stream string
	logger zerolog.Logger
}

// NewPublisher creates a Publisher appending to streamKey through client.
func NewPublisher(client *redis.Client, streamKey string, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &Publisher{
		client: client,
		stream: streamKey,
		logger: logger.With().Str("component", "StreamPublisher").Str("stream", streamKey).Logger(),
	}, nil
}

// Append writes one record under an auto-assigned position. The record
// carries the attribution fields plus the compact re-serialized payload with
// its pass-through fields. Any error is a recoverable publish failure: the
// caller drops the message for this observation without marking it
// processed.
func (p *Publisher) Append(ctx context.Context, rec relay.Record) error {
	values := map[string]interface{}{
		"message_id":  rec.MessageID,
		"consumer_id": rec.ConsumerID,
	}
	if len(rec.Fields) > 0 {
		payload, err := rec.MarshalPayload()
		if err != nil {
			return fmt.Errorf("failed to serialize record for message %s: %w", rec.MessageID, err)
		}
		values["payload"] = payload
	}

	pos, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append message %s to stream %s: %w", rec.MessageID, p.stream, err)
	}

	p.logger.Debug().Str("message_id", rec.MessageID).Str("position", pos).Msg("Record appended to stream.")
	return nil
}
