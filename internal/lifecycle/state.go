package lifecycle

// State is a lifecycle state of the render core
type State int32

const (
	Uninitialized State = iota
	Configured
	Initialized
	Running
	Stopping
	Cleaned
	Failed
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Cleaned:
		return "cleaned"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateListener observes state transitions. Listeners run synchronously on the
// goroutine performing the transition and must not block.
type StateListener func(from, to State, reason string)
