package relay

import (
	"context"

	"github.com/nimbusworks/go-relay/pkg/resp"
)

// Broker is the subscription side of the broker connection the lifecycle
// drives. The production implementation lives in pkg/broker; tests substitute
// a scripted fake.
type Broker interface {
	// EnsureGroup idempotently creates the durable stream and its consumer
	// group at offset zero. "Already exists" is success; any other error is
	// fatal at startup.
	EnsureGroup(ctx context.Context, streamKey, groupName string) error
	// Subscribe issues the channel subscription, consumes and validates the
	// acknowledgment reply through frames, and leaves any surplus bytes
	// buffered for the run loop.
	Subscribe(ctx context.Context, channel string, frames *resp.Reader) error
	// Read blocks for the next chunk of subscription bytes. It returns
	// io.EOF when the broker closes the connection.
	Read(p []byte) (n int, err error)
	// Close releases the connection. It must be safe to call more than once.
	Close() error
}

// StreamAppender appends attributed records to the durable stream.
type StreamAppender interface {
	Append(ctx context.Context, rec Record) error
}
