package broker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusworks/go-relay/pkg/resp"
)

// startFakeBroker listens on a loopback port and serves one subscription:
// it consumes the client's command bytes and writes the scripted replies.
func startFakeBroker(t *testing.T, replies ...[]byte) *Config {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		// Consume the SUBSCRIBE command; its content is asserted indirectly
		// through the ack handshake.
		buf := make([]byte, 512)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		for _, reply := range replies {
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
		// Hold the connection open briefly so client reads observe the
		// replies rather than an immediate close.
		time.Sleep(100 * time.Millisecond)
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return &Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: 2 * time.Second}
}

func TestConnection_SubscribeAndRead(t *testing.T) {
	const channel = "messages:published"
	ack := []byte("*3\r\n$9\r\nsubscribe\r\n$18\r\nmessages:published\r\n:1\r\n")
	frame := resp.AppendCommand(nil, "message", channel, `{"message_id":"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"}`)
	cfg := startFakeBroker(t, ack, frame)

	conn := &Connection{cfg: cfg, logger: zerolog.Nop()}
	t.Cleanup(func() { _ = conn.Close() })

	frames := resp.NewReader()
	require.NoError(t, conn.Subscribe(context.Background(), channel, frames))

	// The message frame may already be buffered from the ack read; drain via
	// the reader the run loop would use.
	var reply *resp.Reply
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for reply == nil {
		require.True(t, time.Now().Before(deadline), "timed out waiting for message frame")
		r, err := frames.Next()
		require.NoError(t, err)
		if r != nil {
			reply = r
			break
		}
		n, err := conn.Read(buf)
		require.NoError(t, err)
		frames.Feed(buf[:n])
	}

	require.Equal(t, resp.Array, reply.Type)
	require.Len(t, reply.Elems, 3)
	assert.Equal(t, "message", reply.Elems[0].Str)
	assert.Contains(t, reply.Elems[2].Str, "message_id")
}

func TestConnection_SubscribeRejectsBadAck(t *testing.T) {
	cases := []struct {
		name string
		ack  []byte
	}{
		{"simple string reply", []byte("+OK\r\n")},
		{"wrong channel", []byte("*3\r\n$9\r\nsubscribe\r\n$5\r\nother\r\n:1\r\n")},
		{"wrong verb", []byte("*3\r\n$4\r\npong\r\n$18\r\nmessages:published\r\n:1\r\n")},
		{"error reply", []byte("-ERR not allowed\r\n")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := startFakeBroker(t, tc.ack)
			conn := &Connection{cfg: cfg, logger: zerolog.Nop()}
			t.Cleanup(func() { _ = conn.Close() })

			err := conn.Subscribe(context.Background(), "messages:published", resp.NewReader())
			require.Error(t, err)
		})
	}
}

func TestConnection_ReadBeforeSubscribe(t *testing.T) {
	conn := &Connection{cfg: &Config{Host: "localhost", Port: 6379}, logger: zerolog.Nop()}
	_, err := conn.Read(make([]byte, 16))
	require.Error(t, err)
}

func TestConnection_CloseIdempotent(t *testing.T) {
	cfg := startFakeBroker(t, []byte("*3\r\n$9\r\nsubscribe\r\n$18\r\nmessages:published\r\n:1\r\n"))
	conn := &Connection{cfg: cfg, logger: zerolog.Nop()}
	require.NoError(t, conn.Subscribe(context.Background(), "messages:published", resp.NewReader()))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(errors.New("ERR no such key")))
	assert.False(t, isBusyGroup(nil))
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "broker.internal", Port: 6380}
	assert.Equal(t, "broker.internal:6380", cfg.Addr())
}
