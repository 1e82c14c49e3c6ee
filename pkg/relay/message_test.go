package relay_test

import (
	"strings"
	"testing"

	"github.com/nimbusworks/go-relay/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_Valid(t *testing.T) {
	msg, err := relay.DecodeMessage([]byte(`{"message_id":"11111111-1111-1111-1111-111111111111","source":"alpha"}`))
	require.NoError(t, err)

	assert.Equal(t, "11111111-1111-1111-1111-111111111111", msg.ID)
	assert.Len(t, msg.ID, relay.MessageIDLength)
	assert.Contains(t, msg.Fields, "source", "pass-through fields must be retained")
}

func TestDecodeMessage_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"numeric message_id", `{"message_id":42}`},
		{"missing message_id", `{}`},
		{"null message_id", `{"message_id":null}`},
		{"not json", `{"message_id":`},
		{"json array", `["message_id"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := relay.DecodeMessage([]byte(tc.payload))
			require.Error(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestDecodeMessage_TruncatesOversizedIdentifier(t *testing.T) {
	long := strings.Repeat("a", 80)
	msg, err := relay.DecodeMessage([]byte(`{"message_id":"` + long + `"}`))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", relay.MessageIDLength), msg.ID)
}

func TestRecord_MarshalPayload(t *testing.T) {
	msg, err := relay.DecodeMessage([]byte(`{"message_id":"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa","source":"alpha","consumer_id":99}`))
	require.NoError(t, err)

	data, err := msg.Record(2).MarshalPayload()
	require.NoError(t, err)

	// Attribution fields are overwritten, pass-through fields preserved,
	// serialization compact.
	assert.JSONEq(t, `{"message_id":"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa","consumer_id":2,"source":"alpha"}`, string(data))
	assert.NotContains(t, string(data), " ")
}
