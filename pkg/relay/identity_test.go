package relay_test

import (
	"testing"

	"github.com/nimbusworks/go-relay/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	cases := []struct {
		name      string
		id        int
		groupSize int
		wantErr   bool
	}{
		{"valid", 2, 3, false},
		{"id equals group size", 3, 3, false},
		{"single consumer", 1, 1, false},
		{"zero group size", 1, 0, true},
		{"negative group size", 1, -1, true},
		{"zero id", 0, 3, true},
		{"negative id", -2, 3, true},
		{"id exceeds group size", 4, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			identity, err := relay.NewIdentity(tc.id, tc.groupSize)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, identity.ID)
			assert.Equal(t, tc.groupSize, identity.GroupSize)
		})
	}
}
