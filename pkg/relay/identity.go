package relay

import "fmt"

// Identity declares this instance's position in a consumer group. The group
// parameters are validated at startup but deliberately do not partition the
// channel's workload: the broker broadcasts every message to every
// subscriber, and each instance processes all of them. Keeping the declared
// identity anyway attributes each forwarded record to the instance that
// wrote it.
type Identity struct {
	ID        int
	GroupSize int
}

// NewIdentity validates the declared group parameters. It must be called
// before any resource is acquired; an invalid identity is a fatal startup
// condition.
func NewIdentity(id, groupSize int) (Identity, error) {
	if groupSize <= 0 {
		return Identity{}, fmt.Errorf("group size must be greater than 0, got %d", groupSize)
	}
	if id <= 0 {
		return Identity{}, fmt.Errorf("consumer id must be greater than 0, got %d", id)
	}
	if id > groupSize {
		return Identity{}, fmt.Errorf("consumer id %d exceeds group size %d", id, groupSize)
	}
	return Identity{ID: id, GroupSize: groupSize}, nil
}
