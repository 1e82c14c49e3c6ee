package relay

// State is the lifecycle phase of a consumer instance.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateSubscribing
	StateRunning
	StateShuttingDown
	StateTerminated
)

// String returns the lowercase phase name used in logs and the status
// endpoint.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
